package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != defaultFromName {
		t.Errorf("expected default from name %q, got %q", defaultFromName, sender.fromName)
	}
}

func TestNewSendGridSender_CustomFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "Foothills Motors",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Foothills Motors" {
		t.Errorf("expected from name 'Foothills Motors', got %q", sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "sales@example.com",
		Subject: "Test",
		Body:    "Test body",
	})
	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "sales@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})
	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestNewSESSender_NilWithoutClient(t *testing.T) {
	if sender := NewSESSender(nil, SESConfig{FromEmail: "jerry@example.com"}, nil); sender != nil {
		t.Error("expected nil sender without a client")
	}
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "jerry@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "sales@example.com",
		Subject: "Test drive booked",
		Body:    "plain",
		HTML:    "<p>html</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := client.input
	if got := aws.ToString(in.FromEmailAddress); got != defaultFromName+" <jerry@example.com>" {
		t.Errorf("unexpected from %q", got)
	}
	if len(in.Destination.ToAddresses) != 1 || in.Destination.ToAddresses[0] != "sales@example.com" {
		t.Errorf("unexpected destination %#v", in.Destination.ToAddresses)
	}
	simple := in.Content.Simple
	if aws.ToString(simple.Subject.Data) != "Test drive booked" {
		t.Errorf("unexpected subject %q", aws.ToString(simple.Subject.Data))
	}
	if aws.ToString(simple.Body.Text.Data) != "plain" || aws.ToString(simple.Body.Html.Data) != "<p>html</p>" {
		t.Errorf("unexpected body %#v", simple.Body)
	}
}

func TestSESSender_SendTextOnly(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "jerry@example.com", FromName: "Jerry"}, nil)

	if err := sender.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.input.Content.Simple.Body.Html != nil {
		t.Error("expected no html part")
	}
}

func TestSESSender_SendWrapsErrors(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	sender := NewSESSender(client, SESConfig{FromEmail: "jerry@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "s", Body: "b"})
	if err == nil || !errors.Is(err, client.err) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
