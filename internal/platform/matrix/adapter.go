// ABOUTME: Matrix adapter: syncs rooms, routes addressed messages to the assistant, posts replies
// ABOUTME: Conversations are keyed by the event ID of the bot's reply within a room

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-assistant/internal/assistant"
	"github.com/2389/coven-assistant/internal/config"
	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/dedupe"
	"github.com/2389/coven-assistant/internal/keylock"
)

// Platform is the platform name conversations are stored under.
const Platform = "matrix"

const (
	typingTimeout  = 30 * time.Second
	networkTimeout = 10 * time.Second
	sendTimeout    = 30 * time.Second

	seenTTL  = 10 * time.Minute
	seenSize = 4096

	failureNotice = "Sorry, something went wrong while answering. Please try again later."
)

// Service runs and commits turns. *assistant.Service implements it.
type Service interface {
	Turn(ctx context.Context, req *assistant.TurnRequest) (*conversation.Update, error)
	Commit(ctx context.Context, update *conversation.Update, platform, contextKey string) (*conversation.Conversation, error)
}

// client is the subset of *mautrix.Client the adapter sends through.
type client interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
	UploadBytesWithName(ctx context.Context, data []byte, contentType, fileName string) (*mautrix.RespMediaUpload, error)
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
}

// Adapter connects Matrix rooms to the assistant.
type Adapter struct {
	cfg     config.MatrixConfig
	matrix  *mautrix.Client
	api     client
	service Service
	userID  id.UserID
	seen    *dedupe.Cache[id.EventID]
	rooms   keylock.Map
	http    *http.Client
	logger  *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an adapter for the configured homeserver. Call Login before Run.
func New(cfg config.MatrixConfig, service Service, logger *slog.Logger) (*Adapter, error) {
	cli, err := mautrix.NewClient(cfg.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	a := newAdapter(cfg, cli, service, logger)
	a.matrix = cli
	return a, nil
}

func newAdapter(cfg config.MatrixConfig, api client, service Service, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		cfg:     cfg,
		api:     api,
		service: service,
		seen:    dedupe.New[id.EventID](seenTTL, seenSize),
		http:    &http.Client{Timeout: downloadTimeout},
		logger:  logger.With("component", "matrix"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Login authenticates with the configured username and password.
func (a *Adapter) Login(ctx context.Context) error {
	resp, err := a.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: a.cfg.Username,
		},
		Password:                 a.cfg.Password,
		InitialDeviceDisplayName: "coven-assistant",
		StoreCredentials:         true,
	})
	if err != nil {
		return err
	}
	a.userID = resp.UserID
	a.logger.Info("logged in to matrix", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// EnableEncryption sets up E2EE on the logged-in client.
func (a *Adapter) EnableEncryption(ctx context.Context) (*CryptoManager, error) {
	return SetupCrypto(ctx, a.matrix, a.cfg.RecoveryKey, a.cfg.DataDir, a.logger)
}

// UserID returns the logged-in user.
func (a *Adapter) UserID() id.UserID {
	return a.userID
}

// Run syncs until ctx is cancelled, then waits for in-flight replies.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("starting matrix adapter",
		"homeserver", a.cfg.Homeserver,
		"user_id", a.userID)

	a.ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()
	defer a.seen.Close()

	syncer, ok := a.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", a.matrix.Syncer)
	}
	syncer.OnSync(a.matrix.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, a.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- a.matrix.SyncWithContext(a.ctx)
	}()

	a.logger.Info("matrix adapter running")

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down matrix adapter")
		a.cancel()
		a.wg.Wait()
		return nil
	case err := <-syncErr:
		a.cancel()
		a.wg.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent filters incoming events and starts a turn for
// messages addressed to the bot.
func (a *Adapter) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == a.userID {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	if !a.isRoomAllowed(evt.RoomID) {
		a.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID)
		return
	}
	if a.seen.Seen(evt.ID) {
		a.logger.Debug("ignoring duplicate event", "event_id", evt.ID)
		return
	}

	replyTo := replyTarget(content)
	body := stripReplyFallback(content.Body, replyTo != "")
	body, ok = a.addressed(ctx, evt.RoomID, content, body)
	if !ok || body == "" {
		return
	}

	a.logger.Info("received message",
		"room", evt.RoomID,
		"sender", evt.Sender,
		"event_id", evt.ID,
		"content", truncate(body, 50))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.processMessage(a.ctx, evt, body, replyTo)
	}()
}

// addressed reports whether the message is meant for the bot and returns
// the body with the command prefix or mention removed.
func (a *Adapter) addressed(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent, body string) (string, bool) {
	if p := a.cfg.CommandPrefix; p != "" && strings.HasPrefix(body, p) {
		return strings.TrimSpace(strings.TrimPrefix(body, p)), true
	}
	if a.mentioned(content, body) {
		body = strings.ReplaceAll(body, a.userID.String(), "")
		return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(body), ":,")), true
	}
	if a.isDirect(ctx, roomID) {
		return strings.TrimSpace(body), true
	}
	return "", false
}

func (a *Adapter) mentioned(content *event.MessageEventContent, body string) bool {
	if content.Mentions != nil && slices.Contains(content.Mentions.UserIDs, a.userID) {
		return true
	}
	if a.userID == "" {
		return false
	}
	return strings.Contains(body, a.userID.String()) ||
		strings.Contains(content.FormattedBody, "matrix.to/#/"+a.userID.String())
}

// isDirect treats rooms with exactly two joined members as direct chats.
func (a *Adapter) isDirect(ctx context.Context, roomID id.RoomID) bool {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	resp, err := a.api.JoinedMembers(ctx, roomID)
	if err != nil {
		a.logger.Debug("failed to get joined members", "room", roomID, "error", err)
		return false
	}
	return len(resp.Joined) == 2
}

func (a *Adapter) isRoomAllowed(roomID id.RoomID) bool {
	if len(a.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(a.cfg.AllowedRooms, roomID.String())
}

// processMessage runs one turn and posts the reply. Turns in the same room
// are serialized.
func (a *Adapter) processMessage(ctx context.Context, evt *event.Event, body string, replyTo id.EventID) {
	logger := a.logger.With("room", evt.RoomID, "event_id", evt.ID)

	unlock, err := a.rooms.Lock(ctx, evt.RoomID.String())
	if err != nil {
		logger.Debug("gave up waiting for room", "error", err)
		return
	}
	defer unlock()

	if a.cfg.TypingIndicator {
		a.setTyping(evt.RoomID, true)
		defer a.setTyping(evt.RoomID, false)
	}

	var key string
	if replyTo != "" {
		key = contextKey(evt.RoomID, replyTo)
	}
	user := conversation.NewUserText(body)
	user.Name = displayName(evt.Sender)

	update, err := a.service.Turn(ctx, &assistant.TurnRequest{
		Platform: Platform,
		Context:  key,
		User:     user,
	})
	if err != nil {
		logger.Error("turn failed", "error", err)
		a.sendNotice(evt.RoomID, evt.ID, failureNotice)
		return
	}

	for _, att := range update.Attachments() {
		img, ok := att.(conversation.ImageAttachment)
		if !ok {
			continue
		}
		if err := a.sendImage(ctx, evt.RoomID, img); err != nil {
			logger.Warn("failed to send image attachment", "url", truncate(img.URL, 80), "error", err)
		}
	}

	reply := update.AssistantMessage()
	content := a.replyContent(reply, evt.ID)
	resp, err := a.send(evt.RoomID, content)
	if err != nil {
		logger.Error("failed to send reply", "error", err)
		return
	}

	logger.Info("sent reply",
		"reply_id", resp.EventID,
		"sensitive", reply.IsSensitive,
		"length", len(content.Body))

	if _, err := a.service.Commit(ctx, update, Platform, contextKey(evt.RoomID, resp.EventID)); err != nil {
		logger.Error("failed to save conversation", "conversation_id", update.ConversationID(), "error", err)
	}
}

func (a *Adapter) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := a.api.UserTyping(ctx, roomID, typing, timeout); err != nil {
		a.logger.Debug("failed to set typing indicator", "room", roomID, "error", err)
	}
}

func (a *Adapter) send(roomID id.RoomID, content *event.MessageEventContent) (*mautrix.RespSendEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return a.api.SendMessageEvent(ctx, roomID, event.EventMessage, content)
}

func (a *Adapter) sendNotice(roomID id.RoomID, inReplyTo id.EventID, text string) {
	content := &event.MessageEventContent{MsgType: event.MsgNotice, Body: text}
	setReply(content, inReplyTo)
	if _, err := a.send(roomID, content); err != nil {
		a.logger.Error("failed to send notice", "room", roomID, "error", err)
	}
}

// contextKey scopes an event ID to its room.
func contextKey(roomID id.RoomID, eventID id.EventID) string {
	return roomID.String() + "|" + eventID.String()
}

func replyTarget(content *event.MessageEventContent) id.EventID {
	if content.RelatesTo == nil || content.RelatesTo.InReplyTo == nil {
		return ""
	}
	return content.RelatesTo.InReplyTo.EventID
}

func setReply(content *event.MessageEventContent, eventID id.EventID) {
	content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: eventID}}
}

// stripReplyFallback drops the quoted "> " lines older clients prepend to replies.
func stripReplyFallback(body string, isReply bool) string {
	if !isReply {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i == 0 {
		return body
	}
	return strings.TrimSpace(strings.Join(lines[i:], "\n"))
}

// displayName returns the localpart of a user ID.
func displayName(userID id.UserID) string {
	s := strings.TrimPrefix(userID.String(), "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
