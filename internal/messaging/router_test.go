package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/habitcoach/habitcoach/internal/models"
)

// mockHandler returns a canned reply or error for every message.
type mockHandler struct {
	reply    string
	err      error
	received []string
}

func (h *mockHandler) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	h.received = append(h.received, userID+"|"+text)
	return h.reply, h.err
}

type sentMessage struct {
	to   string
	body string
}

// mockService is an in-memory Service for driving the router.
type mockService struct {
	responses chan models.Response
	mu        sync.Mutex
	sent      []sentMessage
	sendErr   error
	done      chan struct{}
}

func newMockService() *mockService {
	return &mockService{
		responses: make(chan models.Response, 10),
		done:      make(chan struct{}),
	}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *mockService) SendMessage(ctx context.Context, to, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, sentMessage{to: to, body: body})
	m.mu.Unlock()
	select {
	case m.done <- struct{}{}:
	default:
	}
	return nil
}

func (m *mockService) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockService) Start(ctx context.Context) error   { return nil }
func (m *mockService) Stop() error                       { return nil }
func (m *mockService) Receipts() <-chan models.Receipt   { return nil }
func (m *mockService) Responses() <-chan models.Response { return m.responses }

func waitForSend(t *testing.T, svc *mockService) {
	t.Helper()
	select {
	case <-svc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for router to send a reply")
	}
}

func TestRouterRoutesReply(t *testing.T) {
	svc := newMockService()
	handler := &mockHandler{reply: "nice work!"}
	router := NewRouter(svc, handler, "sorry, something went wrong")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router.Start(ctx)

	svc.responses <- models.Response{From: "+1 (555) 123-4567", Body: "done", Time: time.Now().Unix()}
	waitForSend(t, svc)

	if len(handler.received) != 1 || handler.received[0] != "15551234567|done" {
		t.Errorf("handler saw %v, want canonical sender with body", handler.received)
	}
	sent := svc.sentMessages()
	if len(sent) != 1 || sent[0].body != "nice work!" {
		t.Errorf("unexpected sends: %v", sent)
	}
	if sent[0].to != "15551234567" {
		t.Errorf("reply went to %q, want canonical number", sent[0].to)
	}
}

func TestRouterSendsApologyOnHandlerError(t *testing.T) {
	svc := newMockService()
	handler := &mockHandler{err: errors.New("store unavailable")}
	router := NewRouter(svc, handler, "sorry, something went wrong")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router.Start(ctx)

	svc.responses <- models.Response{From: "15551234567", Body: "done"}
	waitForSend(t, svc)

	sent := svc.sentMessages()
	if len(sent) != 1 || sent[0].body != "sorry, something went wrong" {
		t.Errorf("expected apology, got %v", sent)
	}
}

func TestRouterChunksLongReplies(t *testing.T) {
	svc := newMockService()
	handler := &mockHandler{reply: strings.Repeat("go go go ", 1000)}
	router := NewRouter(svc, handler, "sorry")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router.Start(ctx)

	svc.responses <- models.Response{From: "15551234567", Body: "plan please"}
	waitForSend(t, svc)

	// Give the router a moment to finish the remaining chunks.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(svc.sentMessages()) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sent := svc.sentMessages()
	if len(sent) < 2 {
		t.Fatalf("expected chunked sends, got %d", len(sent))
	}
	for i, msg := range sent {
		if len(msg.body) > MaxMessageLength {
			t.Errorf("send %d exceeds limit: %d", i, len(msg.body))
		}
	}
}

func TestRouterIgnoresInvalidSender(t *testing.T) {
	svc := newMockService()
	handler := &mockHandler{reply: "hi"}
	router := NewRouter(svc, handler, "sorry")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router.Start(ctx)

	svc.responses <- models.Response{From: "bogus", Body: "hello"}

	time.Sleep(50 * time.Millisecond)
	if len(handler.received) != 0 {
		t.Errorf("handler should not see messages from invalid senders, saw %v", handler.received)
	}
}
