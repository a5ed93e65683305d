package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/twiliowhatsapp"
)

func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func TestTwilioService_SendMessageCanonicalizesAndEmitsReceipt(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hi"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "15551234567" {
		t.Errorf("expected canonical recipient, got %q", mock.SentMessages[0].To)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.StatusTypeSent {
			t.Errorf("expected sent status, got %s", receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestTwilioService_SendAfterStopFails(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if err := svc.SendMessage(context.Background(), "15551234567", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioService_WebhookEmitsResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "did my workout")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case response := <-svc.Responses():
		if response.From != "whatsapp:+15551234567" {
			t.Errorf("unexpected From %q", response.From)
		}
		if response.Body != "did my workout" {
			t.Errorf("unexpected Body %q", response.Body)
		}
	default:
		t.Fatal("expected response, got none")
	}
}

func TestTwilioService_WebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
