package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/daybook-ai/daybook/internal/assemble"
	"github.com/daybook-ai/daybook/internal/chat"
	"github.com/daybook-ai/daybook/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTitler struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (f *fakeTitler) Generate(_ context.Context, chatID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatID)
	return f.err
}

func (f *fakeTitler) Calls() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.calls...)
}

type harness struct {
	session *Session
	repo    *testutil.MemRepo
	adapter *testutil.FakeAdapter
	titler  *fakeTitler
	wg      *sync.WaitGroup
}

func newHarness(t *testing.T, adapter *testutil.FakeAdapter, withTitler bool) *harness {
	t.Helper()

	repo := testutil.NewMemRepo()
	builder, err := assemble.New(assemble.Config{
		History: repo,
		Logger:  testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("assemble.New() error: %v", err)
	}

	var wg sync.WaitGroup
	cfg := Config{
		Registry:  testutil.NewTestRegistry(t, adapter, "m1", "m2"),
		Repo:      repo,
		Assembler: builder,
		Logger:    testutil.DiscardLogger(),
		WG:        &wg,
	}
	var titler *fakeTitler
	if withTitler {
		titler = &fakeTitler{}
		cfg.Titler = titler
	}

	session, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &harness{session: session, repo: repo, adapter: adapter, titler: titler, wg: &wg}
}

// newChat creates a chat with its frozen persona, bound to model.
func (h *harness) newChat(t *testing.T, model string) *chat.Chat {
	t.Helper()
	c, err := chat.Create(context.Background(), h.repo, chat.CreateParams{
		Type:  chat.TypeGeneral,
		Model: model,
	})
	if err != nil {
		t.Fatalf("chat.Create() error: %v", err)
	}
	return c
}

// assistantText returns the text of the chat's last assistant message.
func (h *harness) assistantText(t *testing.T, chatID uuid.UUID) string {
	t.Helper()
	msgs, err := h.repo.Messages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("Messages() error: %v", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			return msgs[i].Text
		}
	}
	t.Fatal("no assistant message found")
	return ""
}

func TestSendPersistsConcatenatedReply(t *testing.T) {
	adapter := testutil.NewFakeAdapter("Hel", "lo ", "there!")
	h := newHarness(t, adapter, false)
	c := h.newChat(t, "m1")

	var observed []string
	err := h.session.Send(context.Background(), c.ID, "Hi", WithChunkObserver(func(delta string) {
		observed = append(observed, delta)
	}))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if got := h.assistantText(t, c.ID); got != "Hello there!" {
		t.Errorf("assistant text = %q, want %q", got, "Hello there!")
	}
	if strings.Join(observed, "") != "Hello there!" {
		t.Errorf("observed deltas = %v", observed)
	}

	// Write-through: every persisted intermediate is a prefix of the final
	// text, written in growing order.
	writes := h.repo.TextWrites()
	if len(writes) < 3 {
		t.Fatalf("got %d chunk writes, want at least 3", len(writes))
	}
	prev := ""
	for _, w := range writes {
		if !strings.HasPrefix(w.Text, prev) {
			t.Errorf("write %q does not extend previous %q", w.Text, prev)
		}
		prev = w.Text
	}
}

func TestSendMessageOrder(t *testing.T) {
	adapter := testutil.NewFakeAdapter("ok")
	h := newHarness(t, adapter, false)
	c := h.newChat(t, "m1")

	if err := h.session.Send(context.Background(), c.ID, "question"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	msgs, err := h.repo.Messages(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Messages() error: %v", err)
	}
	wantRoles := []chat.Role{chat.RoleSystem, chat.RoleUser, chat.RoleAssistant}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantRoles))
	}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("msgs[%d].Role = %q, want %q", i, msgs[i].Role, want)
		}
	}
	if msgs[1].Text != "question" {
		t.Errorf("user message = %q", msgs[1].Text)
	}
}

func TestSendPromptExcludesNewUserDuplicate(t *testing.T) {
	adapter := testutil.NewFakeAdapter("ok")
	h := newHarness(t, adapter, false)
	c := h.newChat(t, "m1")

	if err := h.session.Send(context.Background(), c.ID, "only once"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	reqs := adapter.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	count := 0
	for _, m := range reqs[0].Messages {
		if m.Content == "only once" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("user text appears %d times in the prompt, want 1", count)
	}
}

func TestSendUnknownChat(t *testing.T) {
	adapter := testutil.NewFakeAdapter("ok")
	h := newHarness(t, adapter, false)

	err := h.session.Send(context.Background(), uuid.New(), "hi")
	if !errors.Is(err, chat.ErrChatNotFound) {
		t.Errorf("Send() error = %v, want ErrChatNotFound", err)
	}
	if n := h.repo.MessageCount(); n != 0 {
		t.Errorf("%d messages persisted for unknown chat, want 0", n)
	}
}

func TestSendNoUsableModel(t *testing.T) {
	adapter := testutil.NewFakeAdapter("ok")
	h := newHarness(t, adapter, false)
	c := h.newChat(t, "missing-model")
	h.session.registry.SetActiveModel("")

	err := h.session.Send(context.Background(), c.ID, "hi")
	if !errors.Is(err, ErrNoUsableModel) {
		t.Errorf("Send() error = %v, want ErrNoUsableModel", err)
	}
	// Only the persona may exist; the turn persisted nothing.
	if n := h.repo.MessageCount(); n != 1 {
		t.Errorf("%d messages persisted, want only the persona", n)
	}
}

func TestSendFallsBackToActiveModel(t *testing.T) {
	adapter := testutil.NewFakeAdapter("ok")
	h := newHarness(t, adapter, false)
	c := h.newChat(t, "missing-model")

	if err := h.session.Send(context.Background(), c.ID, "hi"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	reqs := adapter.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].Model != "m1" {
		t.Errorf("request model = %q, want active model m1", reqs[0].Model)
	}
}

func TestSendStreamFailure(t *testing.T) {
	adapter := testutil.NewFakeAdapter("partial ")
	adapter.SetErr(errors.New("connection reset"))
	h := newHarness(t, adapter, false)
	c := h.newChat(t, "m1")

	if err := h.session.Send(context.Background(), c.ID, "hi"); err != nil {
		t.Fatalf("Send() must absorb stream failures, got: %v", err)
	}
	if got := h.assistantText(t, c.ID); got != replyFailedText {
		t.Errorf("assistant text = %q, want the failure text", got)
	}
}

func TestStopReplyKeepsPartialText(t *testing.T) {
	adapter := testutil.NewFakeAdapter("one ", "two ", "three")
	gate := adapter.Gate()
	h := newHarness(t, adapter, false)
	c := h.newChat(t, "m1")

	done := make(chan error, 1)
	go func() {
		done <- h.session.Send(context.Background(), c.ID, "hi")
	}()

	// Release exactly two chunks, then stop.
	gate <- struct{}{}
	gate <- struct{}{}
	waitForText(t, func() bool { return h.assistantText(t, c.ID) == "one two " })
	h.session.StopReply(c.ID)

	if err := <-done; err != nil {
		t.Fatalf("Send() after stop: %v", err)
	}
	if got := h.assistantText(t, c.ID); got != "one two " {
		t.Errorf("assistant text = %q, want the partial %q", got, "one two ")
	}
	if h.session.Loading(c.ID) {
		t.Error("Loading() = true after the turn finished")
	}

	// Stopping again is a no-op.
	h.session.StopReply(c.ID)
	h.session.StopReply(uuid.New())
}

func TestSecondSendSupersedesFirst(t *testing.T) {
	adapter := testutil.NewFakeAdapter("never finishes")
	gate := adapter.Gate()
	h := newHarness(t, adapter, false)
	c := h.newChat(t, "m1")

	first := make(chan error, 1)
	go func() {
		first <- h.session.Send(context.Background(), c.ID, "first")
	}()
	// Wait until the first turn has persisted its user message and
	// placeholder and is blocked on the gate.
	waitForText(t, func() bool { return h.repo.MessageCount() == 3 })

	// The second send cancels the first before it emits anything.
	second := make(chan error, 1)
	go func() {
		second <- h.session.Send(context.Background(), c.ID, "second")
	}()

	if err := <-first; err != nil {
		t.Fatalf("superseded Send() returned error: %v", err)
	}

	// Only the second turn is still consuming the gate.
	gate <- struct{}{}
	if err := <-second; err != nil {
		t.Fatalf("second Send() error: %v", err)
	}

	if got := h.assistantText(t, c.ID); got != "never finishes" {
		t.Errorf("assistant text = %q", got)
	}
}

func TestConcurrentSendsToDistinctChats(t *testing.T) {
	adapter := testutil.NewFakeAdapter()
	adapter.AddReply("alpha", "reply ", "A")
	adapter.AddReply("beta", "reply ", "B")
	h := newHarness(t, adapter, false)

	c1 := h.newChat(t, "m1")
	c2 := h.newChat(t, "m2")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = h.session.Send(context.Background(), c1.ID, "alpha")
	}()
	go func() {
		defer wg.Done()
		errs[1] = h.session.Send(context.Background(), c2.ID, "beta")
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Send() %d error: %v", i, err)
		}
	}
	if got := h.assistantText(t, c1.ID); got != "reply A" {
		t.Errorf("chat 1 text = %q, want %q", got, "reply A")
	}
	if got := h.assistantText(t, c2.ID); got != "reply B" {
		t.Errorf("chat 2 text = %q, want %q", got, "reply B")
	}
}

func TestTitleTriggerWindow(t *testing.T) {
	adapter := testutil.NewFakeAdapter("ok")
	h := newHarness(t, adapter, true)
	c := h.newChat(t, "m1")

	// First turn: persona + user + reply = 3 total, inside the window.
	if err := h.session.Send(context.Background(), c.ID, "Hi there!"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	h.wg.Wait()
	if calls := h.titler.Calls(); len(calls) != 1 || calls[0] != c.ID {
		t.Fatalf("titler calls after first turn = %v, want one for the chat", calls)
	}

	// Second turn: 5 total, outside the window.
	if err := h.session.Send(context.Background(), c.ID, "More"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	h.wg.Wait()
	if calls := h.titler.Calls(); len(calls) != 1 {
		t.Errorf("titler calls after second turn = %d, want still 1", len(calls))
	}
}

func TestTitleSkippedWhenTitled(t *testing.T) {
	adapter := testutil.NewFakeAdapter("ok")
	h := newHarness(t, adapter, true)
	c := h.newChat(t, "m1")

	title := "Already named"
	if err := h.repo.UpdateChat(context.Background(), c.ID, chat.Update{Title: &title}); err != nil {
		t.Fatalf("UpdateChat() error: %v", err)
	}

	if err := h.session.Send(context.Background(), c.ID, "Hi"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	h.wg.Wait()
	if calls := h.titler.Calls(); len(calls) != 0 {
		t.Errorf("titler fired for an already titled chat: %v", calls)
	}
}

// waitForText polls until cond holds or the deadline passes.
func waitForText(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
