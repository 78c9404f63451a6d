package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/internal/phone"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

// LeadNotifier emails the sales team when a conversation books a test drive,
// requests a call back, or reschedules either.
type LeadNotifier struct {
	email      EmailSender
	recipients []string
	dealership string
	agent      string
	logger     *logging.Logger
}

// NewLeadNotifier creates a notifier. recipients is a comma separated list; with no
// sender or no recipients every notification is a no-op.
func NewLeadNotifier(email EmailSender, recipients, dealership, agent string, logger *logging.Logger) *LeadNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &LeadNotifier{
		email:      email,
		recipients: splitRecipients(recipients),
		dealership: strings.TrimSpace(dealership),
		agent:      strings.TrimSpace(agent),
		logger:     logger,
	}
}

var _ conversation.FinalizationNotifier = (*LeadNotifier)(nil)

// NotifyFinalization sends one email per recipient. Every recipient is attempted.
func (n *LeadNotifier) NotifyFinalization(ctx context.Context, fin conversation.Finalization) error {
	if n.email == nil || len(n.recipients) == 0 {
		n.logger.Debug("notify: lead email disabled, skipping", "phone", fin.Phone, "kind", fin.Kind)
		return nil
	}

	msg := n.render(fin)
	var errs []error
	for _, recipient := range n.recipients {
		msg.To = recipient
		if err := n.email.Send(ctx, msg); err != nil {
			n.logger.Error("notify: failed to send lead email", "error", err, "to", recipient,
				"phone", fin.Phone, "conversation_id", fin.ConversationID.String())
			errs = append(errs, err)
			continue
		}
		n.logger.Info("notify: lead email sent", "to", recipient, "kind", fin.Kind, "rescheduled", fin.Rescheduled)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

type leadField struct {
	label string
	value string
}

func (n *LeadNotifier) render(fin conversation.Finalization) EmailMessage {
	name := fin.Name
	if name == "" {
		name = "A customer"
	}
	what := "Test drive booked"
	wantLabel := "Test drive"
	action := "Please confirm the vehicle is ready for their visit."
	if fin.Kind == conversation.FinalizationCallback {
		what = "Call back requested"
		wantLabel = "Call back"
		action = "Please call them at their preferred time."
	}
	if fin.Rescheduled {
		what += " (rescheduled)"
		action = "The customer changed their preferred time. " + action
	}

	budget := budgetLabel(fin)
	fields := []leadField{
		{"Customer", name},
		{"Phone", phone.Display(fin.Phone)},
		{"Vehicle", fin.VehicleType},
		{"Budget", budget},
		{wantLabel, fin.PreferredDatetime},
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s: %s\n\n", what, name)
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(&text, "%s: %s\n", f.label, f.value)
	}
	fmt.Fprintf(&text, "\n%s\n\n- %s", action, n.signature())

	var rows strings.Builder
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(&rows, `<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
			html.EscapeString(f.label), html.EscapeString(f.value))
	}
	body := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #2563eb;">%s</h2>
<table style="border-collapse: collapse; margin: 20px 0;">%s</table>
<p style="background: #eff6ff; padding: 12px; border-radius: 8px; border-left: 4px solid #2563eb;">%s</p>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">- %s</p>
</div>`, html.EscapeString(what), rows.String(), html.EscapeString(action), html.EscapeString(n.signature()))

	return EmailMessage{
		Subject: fmt.Sprintf("%s - %s", what, name),
		Body:    text.String(),
		HTML:    body,
	}
}

func (n *LeadNotifier) signature() string {
	agent := n.agent
	if agent == "" {
		agent = "Jerry"
	}
	if n.dealership == "" {
		return agent
	}
	return agent + ", " + n.dealership
}

func budgetLabel(fin conversation.Finalization) string {
	bucket := fin.Budget
	if fin.BudgetAmount == nil {
		return bucket
	}
	amount := fmt.Sprintf("$%s", groupThousands(*fin.BudgetAmount))
	if bucket == "" {
		return amount
	}
	return fmt.Sprintf("%s (%s)", amount, bucket)
}

func groupThousands(v int64) string {
	s := fmt.Sprintf("%d", v)
	if v < 0 {
		return s
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
