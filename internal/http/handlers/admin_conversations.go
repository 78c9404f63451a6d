package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/internal/http/middleware"
	"github.com/wolfman30/dealer-sms-agent/internal/phone"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

const maxAdminBodyBytes = 16 << 10

type adminService interface {
	Transcript(ctx context.Context, rawPhone string) (*conversation.Transcript, error)
	Delete(ctx context.Context, rawPhone string) (conversation.DeleteResult, error)
	OperatorReply(ctx context.Context, rawPhone, body string) (*conversation.SendResult, error)
	Outreach(ctx context.Context, rawPhone, body string) (*conversation.SendResult, error)
}

// AdminConversationsHandler serves the operator endpoints under /admin.
type AdminConversationsHandler struct {
	admin  adminService
	logger *logging.Logger
}

// NewAdminConversationsHandler creates a new admin conversations handler.
func NewAdminConversationsHandler(admin adminService, logger *logging.Logger) *AdminConversationsHandler {
	if admin == nil {
		panic("handlers: admin service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{admin: admin, logger: logger}
}

// TranscriptResponse is the conversation with its messages.
type TranscriptResponse struct {
	Conversation conversation.Conversation `json:"conversation"`
	DisplayPhone string                    `json:"display_phone"`
	Messages     []conversation.Message    `json:"messages"`
}

type sendRequest struct {
	Phone string `json:"phone"`
	Body  string `json:"body"`
}

// GetConversation returns the latest conversation for a phone.
// GET /admin/conversations/{phone}
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.admin.Transcript(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeError(w, r, "get_conversation", err, nil)
		return
	}
	messages := transcript.Messages
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{
		Conversation: transcript.Conversation,
		DisplayPhone: phone.Display(transcript.Conversation.CustomerPhone),
		Messages:     messages,
	})
}

// DeleteConversation removes every record for a phone.
// DELETE /admin/conversations/{phone}
func (h *AdminConversationsHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	res, err := h.admin.Delete(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.writeError(w, r, "delete_conversation", err, nil)
		return
	}
	h.logger.Info("admin deleted conversation data", "phone", res.Phone, "operator", middleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusOK, res)
}

// Reply sends a manual operator message, bypassing the dialogue engine.
// POST /admin/conversations/{phone}/reply
func (h *AdminConversationsHandler) Reply(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSendRequest(w, r)
	if !ok {
		return
	}
	res, err := h.admin.OperatorReply(r.Context(), chi.URLParam(r, "phone"), req.Body)
	if err != nil {
		h.writeError(w, r, "operator_reply", err, res)
		return
	}
	h.logger.Info("admin operator reply sent", "phone", res.Phone, "conversation_id", res.ConversationID, "operator", middleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusOK, res)
}

// Outreach starts a campaign conversation. An empty body sends the opening prompt.
// POST /admin/outreach
func (h *AdminConversationsHandler) Outreach(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSendRequest(w, r)
	if !ok {
		return
	}
	res, err := h.admin.Outreach(r.Context(), req.Phone, req.Body)
	if err != nil {
		h.writeError(w, r, "outreach", err, res)
		return
	}
	h.logger.Info("admin outreach sent", "phone", res.Phone, "conversation_id", res.ConversationID, "operator", middleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusOK, res)
}

func decodeSendRequest(w http.ResponseWriter, r *http.Request) (sendRequest, bool) {
	var req sendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	req.Body = strings.TrimSpace(req.Body)
	return req, true
}

// writeError maps service errors to HTTP statuses. A failed send that was still
// stored returns 502 with the stored message.
func (h *AdminConversationsHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error, res *conversation.SendResult) {
	switch {
	case errors.Is(err, conversation.ErrInvalidPhone):
		jsonError(w, "invalid phone number", http.StatusBadRequest)
	case errors.Is(err, conversation.ErrEmptyBody):
		jsonError(w, "message body required", http.StatusBadRequest)
	case errors.Is(err, conversation.ErrConversationNotFound):
		jsonError(w, "conversation not found", http.StatusNotFound)
	case errors.Is(err, conversation.ErrOptedOut):
		jsonError(w, "customer has opted out", http.StatusConflict)
	case errors.Is(err, conversation.ErrLockNotAcquired):
		jsonError(w, "conversation busy, retry shortly", http.StatusServiceUnavailable)
	case res != nil:
		h.logger.Error("admin sms send failed", "error", err, "op", op, "phone", res.Phone, "conversation_id", res.ConversationID)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "message stored but sms send failed", "result": res})
	default:
		h.logger.Error("admin request failed", "error", err, "op", op, "path", r.URL.Path)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
