// ABOUTME: Info pack exposing build metadata and the bot's local clock to the model
// ABOUTME: self_info reports version/commit/build time; local_info reports now and start time

package builtins

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"github.com/2389/coven-assistant/internal/packs"
	"github.com/2389/coven-assistant/internal/schema"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// ResolveBuildInfo fills fields left empty by the linker from the module's
// embedded VCS stamps.
func ResolveBuildInfo(version, commit, buildTime string) BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "" || info.Version == "dev" {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			info.Version = v
		}
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		}
	}
	return info
}

// InfoPack creates the builtin:info pack. startedAt is reported by
// local_info; times are rendered in loc.
func InfoPack(build BuildInfo, startedAt time.Time, loc *time.Location) *packs.Pack {
	h := &infoHandlers{build: build, startedAt: startedAt, loc: loc, now: time.Now}
	return &packs.Pack{
		ID: "builtin:info",
		Tools: []packs.Tool{
			&packs.FuncTool{
				Def: packs.Descriptor{
					Name:        "self_info",
					Description: "Returns information about this bot itself: version, commit and build time.",
					Parameters:  schema.Object("parameters", "no arguments"),
				},
				Handler: h.SelfInfo,
			},
			&packs.FuncTool{
				Def: packs.Descriptor{
					Name:        "local_info",
					Description: "Returns the current time and the time this bot started, in RFC 3339.",
					Parameters:  schema.Object("parameters", "no arguments"),
				},
				Handler: h.LocalInfo,
			},
		},
	}
}

type infoHandlers struct {
	build     BuildInfo
	startedAt time.Time
	loc       *time.Location
	now       func() time.Time
}

func (h *infoHandlers) SelfInfo(_ context.Context, _ string, _ json.RawMessage) (*packs.Result, error) {
	return packs.JSONResult(h.build)
}

func (h *infoHandlers) LocalInfo(_ context.Context, _ string, _ json.RawMessage) (*packs.Result, error) {
	loc := h.loc
	if loc == nil {
		loc = time.Local
	}
	return packs.JSONResult(map[string]string{
		"time_now":       h.now().In(loc).Format(time.RFC3339),
		"bot_started_at": h.startedAt.In(loc).Format(time.RFC3339),
	})
}
