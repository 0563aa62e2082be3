// ABOUTME: Tests for the Matrix adapter: addressing rules, reply threading, failures and media
// ABOUTME: Uses a recording fake client and the in-memory conversation store

package matrix

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-assistant/internal/assistant"
	"github.com/2389/coven-assistant/internal/config"
	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/store"
)

const (
	botID     = id.UserID("@bot:example.org")
	aliceID   = id.UserID("@alice:example.org")
	groupRoom = id.RoomID("!group:example.org")
	dmRoom    = id.RoomID("!dm:example.org")
)

type sentEvent struct {
	room    id.RoomID
	content *event.MessageEventContent
}

type fakeClient struct {
	mu      sync.Mutex
	sent    []sentEvent
	uploads []string
	typing  []bool
	nextID  int
	sendErr error
}

func (f *fakeClient) SendMessageEvent(_ context.Context, roomID id.RoomID, _ event.Type, contentJSON any, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentEvent{room: roomID, content: contentJSON.(*event.MessageEventContent)})
	return &mautrix.RespSendEvent{EventID: id.EventID(fmt.Sprintf("$reply%d", f.nextID))}, nil
}

func (f *fakeClient) UserTyping(_ context.Context, _ id.RoomID, typing bool, _ time.Duration) (*mautrix.RespTyping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
	return &mautrix.RespTyping{}, nil
}

func (f *fakeClient) UploadBytesWithName(_ context.Context, data []byte, contentType, fileName string) (*mautrix.RespMediaUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, contentType+" "+fileName)
	return &mautrix.RespMediaUpload{ContentURI: id.ContentURI{Homeserver: "example.org", FileID: "media1"}}, nil
}

func (f *fakeClient) JoinedMembers(_ context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error) {
	n := 3
	if roomID == dmRoom {
		n = 2
	}
	joined := make(map[id.UserID]mautrix.JoinedMember, n)
	for i := 0; i < n; i++ {
		joined[id.UserID(fmt.Sprintf("@user%d:example.org", i))] = mautrix.JoinedMember{}
	}
	return &mautrix.RespJoinedMembers{Joined: joined}, nil
}

func (f *fakeClient) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

// echoProcessor answers with the user text and records the history length it was given.
type echoProcessor struct {
	mu          sync.Mutex
	seenLens    []int
	names       []string
	err         error
	sensitive   bool
	attachments []conversation.Attachment
}

func (p *echoProcessor) NewConversation() *conversation.Conversation {
	return conversation.New(nil)
}

func (p *echoProcessor) Process(_ context.Context, conv *conversation.Conversation, user conversation.UserMessage) (*conversation.Update, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seenLens = append(p.seenLens, conv.Len())
	p.names = append(p.names, user.Name)
	if p.err != nil {
		return nil, p.err
	}
	inc := conversation.Start(conv, user)
	reply := conversation.AssistantMessage{Text: "**echo**: " + user.Text(), IsSensitive: p.sensitive}
	return inc.Finish(reply, p.attachments), nil
}

func setupAdapter(t *testing.T, cfg config.MatrixConfig) (*Adapter, *fakeClient, *echoProcessor, *store.MemoryStore) {
	t.Helper()
	api := &fakeClient{}
	proc := &echoProcessor{}
	st := store.NewMemoryStore()
	a := newAdapter(cfg, api, assistant.NewService(st, proc, nil), nil)
	a.userID = botID
	t.Cleanup(func() {
		a.cancel()
		a.seen.Close()
	})
	return a, api, proc, st
}

func textEvent(eventID id.EventID, roomID id.RoomID, body string, replyTo id.EventID) *event.Event {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: body}
	if replyTo != "" {
		setReply(content, replyTo)
	}
	return &event.Event{
		ID:      eventID,
		RoomID:  roomID,
		Sender:  aliceID,
		Type:    event.EventMessage,
		Content: event.Content{Parsed: content},
	}
}

func deliver(a *Adapter, evt *event.Event) {
	a.handleMessageEvent(context.Background(), evt)
	a.wg.Wait()
}

func TestHandleIgnoresOwnAndNonTextMessages(t *testing.T) {
	a, api, _, _ := setupAdapter(t, config.MatrixConfig{})

	own := textEvent("$1", dmRoom, "hello", "")
	own.Sender = botID
	deliver(a, own)

	notice := textEvent("$2", dmRoom, "hello", "")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	deliver(a, notice)

	assert.Empty(t, api.events())
}

func TestHandleGroupRequiresAddressing(t *testing.T) {
	a, api, _, _ := setupAdapter(t, config.MatrixConfig{CommandPrefix: "!ai"})

	deliver(a, textEvent("$1", groupRoom, "just chatting", ""))
	assert.Empty(t, api.events())

	deliver(a, textEvent("$2", groupRoom, "!ai what time is it", ""))
	deliver(a, textEvent("$3", groupRoom, "@bot:example.org: hello there", ""))

	sent := api.events()
	require.Len(t, sent, 2)
	assert.Equal(t, "echo: what time is it", sent[0].content.Body)
	assert.Equal(t, "echo: hello there", sent[1].content.Body)
	assert.Equal(t, id.EventID("$2"), replyTarget(sent[0].content))
}

func TestHandleDirectRoomAnswersEverything(t *testing.T) {
	a, api, proc, _ := setupAdapter(t, config.MatrixConfig{TypingIndicator: true})

	deliver(a, textEvent("$1", dmRoom, "hi", ""))

	sent := api.events()
	require.Len(t, sent, 1)
	assert.Equal(t, event.FormatHTML, sent[0].content.Format)
	assert.Contains(t, sent[0].content.FormattedBody, "<strong>echo</strong>")
	assert.Equal(t, []string{"alice"}, proc.names)
	assert.Equal(t, []bool{true, false}, api.typing)
}

func TestHandleAllowedRooms(t *testing.T) {
	a, api, _, _ := setupAdapter(t, config.MatrixConfig{AllowedRooms: []string{groupRoom.String()}})

	deliver(a, textEvent("$1", dmRoom, "hi", ""))
	assert.Empty(t, api.events())
}

func TestHandleDuplicateEvent(t *testing.T) {
	a, api, _, _ := setupAdapter(t, config.MatrixConfig{})

	deliver(a, textEvent("$1", dmRoom, "hi", ""))
	deliver(a, textEvent("$1", dmRoom, "hi", ""))

	assert.Len(t, api.events(), 1)
}

func TestReplyThreadContinuesConversation(t *testing.T) {
	a, api, proc, st := setupAdapter(t, config.MatrixConfig{})
	ctx := context.Background()

	deliver(a, textEvent("$1", dmRoom, "first", ""))
	first, err := st.FindByContext(ctx, Platform, contextKey(dmRoom, "$reply1"))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Len())

	deliver(a, textEvent("$2", dmRoom, "> <@bot:example.org> echo: first\n\nsecond", "$reply1"))

	second, err := st.FindByContext(ctx, Platform, contextKey(dmRoom, "$reply2"))
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 4, second.Len())
	assert.Equal(t, []int{0, 2}, proc.seenLens)
	assert.Equal(t, "echo: second", api.events()[1].content.Body)

	_, err = st.FindByContext(ctx, Platform, contextKey(dmRoom, "$reply1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReplyToUnknownEventStartsNewConversation(t *testing.T) {
	a, _, proc, _ := setupAdapter(t, config.MatrixConfig{})

	deliver(a, textEvent("$1", dmRoom, "hello", "$forgotten"))

	assert.Equal(t, []int{0}, proc.seenLens)
}

func TestTurnFailureSendsNoticeAndSavesNothing(t *testing.T) {
	a, api, proc, st := setupAdapter(t, config.MatrixConfig{})
	proc.err = errors.New("llm down")

	deliver(a, textEvent("$1", dmRoom, "hi", ""))

	sent := api.events()
	require.Len(t, sent, 1)
	assert.Equal(t, event.MsgNotice, sent[0].content.MsgType)
	assert.Equal(t, failureNotice, sent[0].content.Body)

	_, err := st.FindByContext(context.Background(), Platform, contextKey(dmRoom, "$reply1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendFailureSavesNothing(t *testing.T) {
	a, api, _, st := setupAdapter(t, config.MatrixConfig{})
	api.sendErr = errors.New("rate limited")

	deliver(a, textEvent("$1", dmRoom, "hi", ""))

	_, err := st.FindByContext(context.Background(), Platform, contextKey(dmRoom, "$reply1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSensitiveReplyIsSpoiler(t *testing.T) {
	a, api, proc, _ := setupAdapter(t, config.MatrixConfig{SensitiveSpoiler: "nsfw"})
	proc.sensitive = true

	deliver(a, textEvent("$1", dmRoom, "tell me", ""))

	sent := api.events()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].content.FormattedBody, `<span data-mx-spoiler="nsfw">`))
	assert.Equal(t, "[nsfw] echo: tell me", sent[0].content.Body)
}

func TestReplyContentTruncates(t *testing.T) {
	a, _, _, _ := setupAdapter(t, config.MatrixConfig{MaxLength: 5})

	content := a.replyContent(conversation.AssistantMessage{Text: "*abcdefgh*"}, "$1")
	assert.Equal(t, "abcde...(omitted)", content.Body)
	assert.Empty(t, content.FormattedBody)
	assert.Equal(t, id.EventID("$1"), replyTarget(content))
}

func TestMarkSpoilerWithoutReason(t *testing.T) {
	content := &event.MessageEventContent{Body: "a<b\nc"}
	markSpoiler(content, "")
	assert.Equal(t, "<span data-mx-spoiler>a&lt;b<br>c</span>", content.FormattedBody)
	assert.Equal(t, "a<b\nc", content.Body)
}

func TestImageAttachmentIsUploaded(t *testing.T) {
	a, api, proc, _ := setupAdapter(t, config.MatrixConfig{})
	png := []byte("\x89PNG\r\n\x1a\nrest")
	proc.attachments = []conversation.Attachment{conversation.ImageAttachment{
		URL:         "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		Description: "a cat",
	}}

	deliver(a, textEvent("$1", dmRoom, "draw a cat", ""))

	sent := api.events()
	require.Len(t, sent, 2)
	assert.Equal(t, event.MsgImage, sent[0].content.MsgType)
	assert.Equal(t, "a cat", sent[0].content.Body)
	assert.Equal(t, id.ContentURIString("mxc://example.org/media1"), sent[0].content.URL)
	assert.Equal(t, len(png), sent[0].content.Info.Size)
	assert.Equal(t, []string{"image/png image.png"}, api.uploads)
	assert.Equal(t, event.MsgText, sent[1].content.MsgType)
}

func TestDownloadHTTP(t *testing.T) {
	a, _, _, _ := setupAdapter(t, config.MatrixConfig{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write([]byte("jpegdata"))
	}))
	t.Cleanup(srv.Close)

	data, mimeType, err := a.download(context.Background(), srv.URL+"/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
	assert.Equal(t, "image/jpeg", mimeType)

	_, _, err = a.download(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)

	_, _, err = a.download(context.Background(), "ftp://example.org/a.png")
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestDecodeDataURL(t *testing.T) {
	_, _, err := decodeDataURL("data:image/png,notbase64")
	assert.ErrorIs(t, err, ErrUnsupportedURL)

	_, _, err = decodeDataURL("data:image/png;base64")
	assert.ErrorIs(t, err, ErrUnsupportedURL)

	data, mimeType, err := decodeDataURL("data:image/gif;base64," + base64.StdEncoding.EncodeToString([]byte("GIF89a")))
	require.NoError(t, err)
	assert.Equal(t, "GIF89a", string(data))
	assert.Equal(t, "image/gif", mimeType)
}

func TestStripReplyFallback(t *testing.T) {
	assert.Equal(t, "> quote", stripReplyFallback("> quote", false))
	assert.Equal(t, "answer", stripReplyFallback("> <@a:b> hi\n> more\n\nanswer", true))
	assert.Equal(t, "plain", stripReplyFallback("plain", true))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "alice", displayName(aliceID))
	assert.Equal(t, "local", displayName("local"))
}
