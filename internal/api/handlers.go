// ABOUTME: Request handlers for the JSON API: health, tools, chat turns and conversation lookup
// ABOUTME: Maps engine errors onto HTTP status codes through sendJSONError

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-assistant/internal/assistant"
	"github.com/2389/coven-assistant/internal/auth"
	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/llm"
	"github.com/2389/coven-assistant/internal/schema"
	"github.com/2389/coven-assistant/internal/store"
)

// ChatRequest is the body of POST /api/chat. An empty Context starts a new
// conversation; otherwise it must be the Context of an earlier ChatResponse.
type ChatRequest struct {
	Context   string   `json:"context,omitempty"`
	Text      string   `json:"text"`
	ImageURLs []string `json:"image_urls,omitempty"`
	Name      string   `json:"name,omitempty"`
	Language  string   `json:"language,omitempty"`
}

// ChatResponse is the reply to a ChatRequest.
type ChatResponse struct {
	Context        string           `json:"context"`
	ConversationID string           `json:"conversation_id"`
	Text           string           `json:"text"`
	IsSensitive    bool             `json:"is_sensitive"`
	Language       string           `json:"language,omitempty"`
	Attachments    []AttachmentJSON `json:"attachments"`
}

// AttachmentJSON describes an attachment produced during the turn.
type AttachmentJSON struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// ToolJSON describes a registered tool with its wire parameter schema.
type ToolJSON struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ConversationJSON is the body of GET /api/conversations/{id}.
type ConversationJSON struct {
	ID       string            `json:"id"`
	Messages []json.RawMessage `json:"messages"`
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	descriptors := s.tools.Tools()
	out := make([]ToolJSON, 0, len(descriptors))
	for _, d := range descriptors {
		params, err := schema.Wire(d.Parameters)
		if err != nil {
			s.logger.Error("failed to render tool schema", "tool", d.Name, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out = append(out, ToolJSON{Name: d.Name, Description: d.Description, Parameters: params})
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	logger := s.logger.With("subject", auth.SubjectFromContext(ctx), "context", req.Context)

	if req.Context != "" {
		unlock, err := s.contexts.Lock(ctx, req.Context)
		if err != nil {
			s.sendJSONError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		defer unlock()
	}

	update, err := s.service.Turn(ctx, &assistant.TurnRequest{
		Platform: Platform,
		Context:  req.Context,
		User:     req.userMessage(),
	})
	if err != nil {
		logger.Error("turn failed", "error", err)
		status, msg := errorStatus(err)
		s.sendJSONError(w, status, msg)
		return
	}

	key := s.newContextKey()
	conv, err := s.service.Commit(ctx, update, Platform, key)
	if err != nil {
		logger.Error("failed to save conversation", "conversation_id", update.ConversationID(), "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	reply := update.AssistantMessage()
	resp := ChatResponse{
		Context:        key,
		ConversationID: conv.ID().String(),
		Text:           reply.Text,
		IsSensitive:    reply.IsSensitive,
		Language:       reply.Language,
		Attachments:    make([]AttachmentJSON, 0),
	}
	for _, att := range update.Attachments() {
		if img, ok := att.(conversation.ImageAttachment); ok {
			resp.Attachments = append(resp.Attachments, AttachmentJSON{Type: "image", URL: img.URL, Description: img.Description})
		}
	}

	logger.Info("chat turn complete",
		"conversation_id", conv.ID(),
		"new_context", key,
		"message_count", conv.Len())
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := s.conversations.FindByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := ConversationJSON{ID: conv.ID().String(), Messages: make([]json.RawMessage, 0, conv.Len())}
	for _, m := range conv.Messages() {
		data, err := conversation.MarshalMessage(m)
		if err != nil {
			s.logger.Error("failed to encode message", "conversation_id", id, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out.Messages = append(out.Messages, data)
	}
	s.sendJSON(w, http.StatusOK, out)
}

// parseChatRequest decodes and validates a ChatRequest.
func parseChatRequest(body io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" && len(req.ImageURLs) == 0 {
		return nil, errors.New("text or image_urls is required")
	}
	return &req, nil
}

func (req *ChatRequest) userMessage() conversation.UserMessage {
	msg := conversation.UserMessage{Name: req.Name, Language: req.Language}
	if req.Text != "" {
		msg.Contents = append(msg.Contents, conversation.TextContent{Text: req.Text})
	}
	for _, u := range req.ImageURLs {
		msg.Contents = append(msg.Contents, conversation.ImageURLContent{URL: u})
	}
	return msg
}

// errorStatus maps a turn error to a status code and a client-safe message.
func errorStatus(err error) (int, string) {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Kind {
		case llm.Backend, llm.Communication:
			return http.StatusBadGateway, "language model unavailable"
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
