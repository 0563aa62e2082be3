// ABOUTME: Builds Matrix reply events: HTML plus plain-text fallback, spoilers, re-uploaded images
// ABOUTME: Image attachments are fetched from http(s) or data: URLs before upload

package matrix

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/text"
)

const (
	downloadTimeout = 60 * time.Second
	maxImageBytes   = 20 << 20
)

// ErrUnsupportedURL is returned for attachment URLs that cannot be fetched.
var ErrUnsupportedURL = errors.New("unsupported attachment URL")

// replyContent renders the assistant reply as a Matrix reply to inReplyTo.
// Replies longer than max_length are cut and sent without HTML.
func (a *Adapter) replyContent(reply conversation.AssistantMessage, inReplyTo id.EventID) *event.MessageEventContent {
	plain := text.Plain(reply.Text)
	body := text.Truncate(plain, a.cfg.MaxLength)

	content := &event.MessageEventContent{MsgType: event.MsgText, Body: body}
	if body == plain {
		if rendered, err := text.RenderHTML(reply.Text); err != nil {
			a.logger.Debug("markdown rendering failed", "error", err)
		} else {
			content.Format = event.FormatHTML
			content.FormattedBody = strings.TrimSpace(rendered)
		}
	}
	if reply.IsSensitive {
		markSpoiler(content, a.cfg.SensitiveSpoiler)
	}
	setReply(content, inReplyTo)
	return content
}

// markSpoiler hides the formatted body behind a spoiler with an optional reason.
func markSpoiler(content *event.MessageEventContent, reason string) {
	inner := content.FormattedBody
	if inner == "" {
		inner = strings.ReplaceAll(html.EscapeString(content.Body), "\n", "<br>")
	}
	attr := "data-mx-spoiler"
	if reason != "" {
		attr = fmt.Sprintf(`data-mx-spoiler="%s"`, html.EscapeString(reason))
		content.Body = fmt.Sprintf("[%s] %s", reason, content.Body)
	}
	content.Format = event.FormatHTML
	content.FormattedBody = "<span " + attr + ">" + inner + "</span>"
}

// sendImage uploads img to the media repository and posts it to the room.
func (a *Adapter) sendImage(ctx context.Context, roomID id.RoomID, img conversation.ImageAttachment) error {
	data, mimeType, err := a.download(ctx, img.URL)
	if err != nil {
		return err
	}

	name := "image" + extensionFor(mimeType)
	upload, err := a.api.UploadBytesWithName(ctx, data, mimeType, name)
	if err != nil {
		return fmt.Errorf("uploading image: %w", err)
	}

	body := img.Description
	if body == "" {
		body = name
	}
	content := &event.MessageEventContent{
		MsgType:  event.MsgImage,
		Body:     body,
		FileName: name,
		URL:      upload.ContentURI.CUString(),
		Info:     &event.FileInfo{MimeType: mimeType, Size: len(data)},
	}
	_, err = a.send(roomID, content)
	return err
}

// download fetches an attachment. data: URLs are decoded in place.
func (a *Adapter) download(ctx context.Context, raw string) ([]byte, string, error) {
	if strings.HasPrefix(raw, "data:") {
		return decodeDataURL(raw)
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedURL, truncate(raw, 40))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("downloading image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// decodeDataURL decodes a base64 data: URL such as those returned by the
// image API when it answers with b64_json.
func decodeDataURL(raw string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data URL", ErrUnsupportedURL)
	}
	mimeType, encoding, _ := strings.Cut(header, ";")
	if encoding != "base64" {
		return nil, "", fmt.Errorf("%w: data URL is not base64", ErrUnsupportedURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding data URL: %w", err)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
