package messaging

import (
	"context"
	"testing"

	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/whatsapp"
)

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_SendMessageEmitsReceipt(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "15551234567" {
			t.Errorf("expected receipt.To 15551234567, got %s", receipt.To)
		}
		if receipt.Status != models.StatusTypeSent {
			t.Errorf("expected status %s, got %s", models.StatusTypeSent, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_StartStopClosesChannels(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
}

func TestWhatsAppService_ValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	canonical, err := svc.ValidateAndCanonicalizeRecipient("+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if canonical != "15551234567" {
		t.Errorf("expected 15551234567, got %q", canonical)
	}

	if _, err := svc.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := svc.ValidateAndCanonicalizeRecipient("123"); err == nil {
		t.Error("expected error for too-short number")
	}
	if _, err := svc.ValidateAndCanonicalizeRecipient("not-a-number"); err == nil {
		t.Error("expected error for recipient without digits")
	}
}
