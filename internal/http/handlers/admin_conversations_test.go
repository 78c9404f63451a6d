package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

type stubAdmin struct {
	transcript *conversation.Transcript
	deleted    conversation.DeleteResult
	send       *conversation.SendResult
	err        error

	lastPhone string
	lastBody  string
}

func (s *stubAdmin) Transcript(_ context.Context, rawPhone string) (*conversation.Transcript, error) {
	s.lastPhone = rawPhone
	return s.transcript, s.err
}

func (s *stubAdmin) Delete(_ context.Context, rawPhone string) (conversation.DeleteResult, error) {
	s.lastPhone = rawPhone
	return s.deleted, s.err
}

func (s *stubAdmin) OperatorReply(_ context.Context, rawPhone, body string) (*conversation.SendResult, error) {
	s.lastPhone, s.lastBody = rawPhone, body
	return s.send, s.err
}

func (s *stubAdmin) Outreach(_ context.Context, rawPhone, body string) (*conversation.SendResult, error) {
	s.lastPhone, s.lastBody = rawPhone, body
	return s.send, s.err
}

func adminRouter(admin *stubAdmin) http.Handler {
	h := NewAdminConversationsHandler(admin, logging.Default())
	r := chi.NewRouter()
	r.Get("/admin/conversations/{phone}", h.GetConversation)
	r.Delete("/admin/conversations/{phone}", h.DeleteConversation)
	r.Post("/admin/conversations/{phone}/reply", h.Reply)
	r.Post("/admin/outreach", h.Outreach)
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAdminGetConversation(t *testing.T) {
	convID := uuid.New()
	admin := &stubAdmin{transcript: &conversation.Transcript{
		Conversation: conversation.Conversation{ID: convID, CustomerPhone: "+14035550100", Stage: conversation.StageBudget},
	}}

	rec := doRequest(t, adminRouter(admin), http.MethodGet, "/admin/conversations/+14035550100", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if admin.lastPhone != "+14035550100" {
		t.Fatalf("expected phone from path, got %q", admin.lastPhone)
	}

	var resp TranscriptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Conversation.ID != convID || resp.DisplayPhone != "+1 (403) 555-0100" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if resp.Messages == nil {
		t.Fatalf("expected empty messages array, not null")
	}
}

func TestAdminErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{conversation.ErrInvalidPhone, http.StatusBadRequest},
		{conversation.ErrConversationNotFound, http.StatusNotFound},
		{conversation.ErrLockNotAcquired, http.StatusServiceUnavailable},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := doRequest(t, adminRouter(&stubAdmin{err: tc.err}), http.MethodGet, "/admin/conversations/123", "")
		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%v: expected json error, got %q", tc.err, ct)
		}
	}
}

func TestAdminDeleteConversation(t *testing.T) {
	admin := &stubAdmin{deleted: conversation.DeleteResult{Phone: "+14035550100", Conversations: 2, Messages: 7}}

	rec := doRequest(t, adminRouter(admin), http.MethodDelete, "/admin/conversations/4035550100", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp conversation.DeleteResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Conversations != 2 || resp.Messages != 7 {
		t.Fatalf("unexpected delete result %#v", resp)
	}
}

func TestAdminReply(t *testing.T) {
	admin := &stubAdmin{send: &conversation.SendResult{Phone: "+14035550100", Body: "hi", Sent: true}}

	rec := doRequest(t, adminRouter(admin), http.MethodPost, "/admin/conversations/+14035550100/reply", `{"body":"  Hi, Dave here. "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if admin.lastBody != "Hi, Dave here." {
		t.Fatalf("expected trimmed body, got %q", admin.lastBody)
	}
}

func TestAdminReplyRejectsBadBodies(t *testing.T) {
	for _, body := range []string{"", "{", `{"body":"x","extra":1}`} {
		rec := doRequest(t, adminRouter(&stubAdmin{}), http.MethodPost, "/admin/conversations/+14035550100/reply", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}

	rec := doRequest(t, adminRouter(&stubAdmin{err: conversation.ErrEmptyBody}), http.MethodPost, "/admin/conversations/+14035550100/reply", `{"body":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rec.Code)
	}
}

func TestAdminOutreach(t *testing.T) {
	admin := &stubAdmin{send: &conversation.SendResult{Phone: "+14035550100", Sent: true}}

	rec := doRequest(t, adminRouter(admin), http.MethodPost, "/admin/outreach", `{"phone":"403-555-0100"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if admin.lastPhone != "403-555-0100" || admin.lastBody != "" {
		t.Fatalf("unexpected call: phone=%q body=%q", admin.lastPhone, admin.lastBody)
	}
}

func TestAdminOutreachOptedOut(t *testing.T) {
	rec := doRequest(t, adminRouter(&stubAdmin{err: conversation.ErrOptedOut}), http.MethodPost, "/admin/outreach", `{"phone":"+14035550100"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestAdminSendFailureReturnsStoredMessage(t *testing.T) {
	admin := &stubAdmin{
		send: &conversation.SendResult{Phone: "+14035550100", ConversationID: "c1", Body: "hello"},
		err:  errors.New("twilio down"),
	}
	rec := doRequest(t, adminRouter(admin), http.MethodPost, "/admin/outreach", `{"phone":"+14035550100","body":"hello"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"conversation_id":"c1"`) {
		t.Fatalf("expected stored message in body, got %s", rec.Body.String())
	}
}
