package coach

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/store"
	"github.com/openai/openai-go"
)

// mockAI implements genai.ClientInterface. GeneratePrompt pops scripted
// replies in order; GenerateWithMessages returns a fixed reply.
type mockAI struct {
	mu           sync.Mutex
	replies      []string
	err          error
	chatReply    string
	chatErr      error
	prompts      []string
	chatRequests [][]openai.ChatCompletionMessageParamUnion
}

func (m *mockAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, userPrompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *mockAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatRequests = append(m.chatRequests, messages)
	if m.chatErr != nil {
		return "", m.chatErr
	}
	return m.chatReply, nil
}

// mockSender records outbound messages.
type mockSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  bool
	errOn string
}

type sentMessage struct {
	to   string
	body string
}

func (m *mockSender) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail || (m.errOn != "" && m.errOn == to) {
		return context.DeadlineExceeded
	}
	m.sent = append(m.sent, sentMessage{to: to, body: body})
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockTimer captures scheduled callbacks so tests can fire timeouts
// deterministically.
type mockTimer struct {
	mu        sync.Mutex
	scheduled map[string]func()
	order     []string
	nextID    int
	cancelled []string
}

func newMockTimer() *mockTimer {
	return &mockTimer{scheduled: make(map[string]func())}
}

func (m *mockTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("mock_%d", m.nextID)
	m.scheduled[id] = fn
	m.order = append(m.order, id)
	return id, nil
}

func (m *mockTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scheduled, id)
	m.cancelled = append(m.cancelled, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockTimer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = make(map[string]func())
	m.order = nil
}

// fire runs and removes the most recently scheduled callback.
func (m *mockTimer) fire(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	if len(m.order) == 0 {
		m.mu.Unlock()
		t.Fatal("no timer scheduled")
	}
	id := m.order[len(m.order)-1]
	fn, ok := m.scheduled[id]
	delete(m.scheduled, id)
	m.order = m.order[:len(m.order)-1]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("timer %s already cancelled", id)
	}
	fn()
}

func onboardedUser(t *testing.T, st store.Store, userID string) *models.UserRecord {
	t.Helper()
	rec := models.NewUserRecord(userID, "2025-06-01")
	rec.Onboarded = true
	rec.Phase = models.PhaseTracking
	rec.Goal = "run every day"
	rec.Milestones = "1. Run 1k\n2. Run 5k\n3. Run 10k"
	if err := st.CreateUser(context.Background(), rec); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return &rec
}
