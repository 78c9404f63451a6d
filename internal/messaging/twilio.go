package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature reports whether r carries a valid X-Twilio-Signature for
// webhookURL, the exact public URL Twilio was configured to call.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	expected := computeSignature(buildSignaturePayload(webhookURL, r.PostForm), authToken)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// buildSignaturePayload concatenates the URL with every POST key and value, keys sorted.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// TwilioWebhookRequest is the subset of the inbound SMS form we use.
type TwilioWebhookRequest struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
}

// ParseTwilioWebhook parses a Twilio inbound SMS webhook form.
func ParseTwilioWebhook(r *http.Request) (*TwilioWebhookRequest, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse form: %w", err)
	}

	sid := strings.TrimSpace(r.FormValue("MessageSid"))
	if sid == "" {
		sid = strings.TrimSpace(r.FormValue("SmsSid"))
	}
	return &TwilioWebhookRequest{
		MessageSid: sid,
		AccountSid: strings.TrimSpace(r.FormValue("AccountSid")),
		From:       strings.TrimSpace(r.FormValue("From")),
		To:         strings.TrimSpace(r.FormValue("To")),
		Body:       r.FormValue("Body"),
	}, nil
}
