// ABOUTME: get_illust_url tool picking random illustrations of the bot from a SQLite catalog
// ABOUTME: Reads the illusts(url, creator_name, comment) table through modernc.org/sqlite

package builtins

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-assistant/internal/packs"
	"github.com/2389/coven-assistant/internal/schema"
)

// maxIllusts caps how many illustrations one call returns.
const maxIllusts = 4

// Illust is one catalog entry.
type Illust struct {
	URL         string `json:"url"`
	CreatorName string `json:"creator_name"`
	Comment     string `json:"comment"`
}

// IllustCatalog reads illustrations from a SQLite database.
type IllustCatalog struct {
	db *sql.DB
}

// OpenIllustCatalog opens an existing catalog database.
func OpenIllustCatalog(path string) (*IllustCatalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening illust database: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening illust database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening illust database: %w", err)
	}
	return &IllustCatalog{db: db}, nil
}

// Random returns up to n distinct illustrations in random order.
func (c *IllustCatalog) Random(ctx context.Context, n int) ([]Illust, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT url, creator_name, comment FROM illusts ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying illusts: %w", err)
	}
	defer rows.Close()

	illusts := []Illust{}
	for rows.Next() {
		var il Illust
		if err := rows.Scan(&il.URL, &il.CreatorName, &il.Comment); err != nil {
			return nil, fmt.Errorf("scanning illust: %w", err)
		}
		illusts = append(illusts, il)
	}
	return illusts, rows.Err()
}

// Close closes the database.
func (c *IllustCatalog) Close() error {
	return c.db.Close()
}

// illustCount reads a non-negative integer count, falling back to 1.
func illustCount(raw json.RawMessage) int {
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 1
	}
	return int(min(n, maxIllusts))
}

// IllustTool creates the get_illust_url tool.
func IllustTool(catalog *IllustCatalog) packs.Tool {
	return &packs.FuncTool{
		Def: packs.Descriptor{
			Name: "get_illust_url",
			Description: "Returns URLs of illustrations depicting this bot as a character. " +
				"Use it when asked for a self-portrait or a selfie.",
			Parameters: schema.Object("parameters", "arguments",
				schema.Integer("count", "Number of illustration URLs wanted"),
			),
		},
		Handler: func(ctx context.Context, _ string, args json.RawMessage) (*packs.Result, error) {
			var in struct {
				Count json.RawMessage `json:"count"`
			}
			if err := packs.DecodeArgs(args, &in); err != nil {
				return nil, err
			}

			illusts, err := catalog.Random(ctx, illustCount(in.Count))
			if err != nil {
				return nil, packs.ExternalError(err)
			}
			return packs.JSONResult(map[string]any{"illusts": illusts})
		},
	}
}
