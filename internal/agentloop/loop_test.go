package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relayhq/relay/internal/contextstore"
	"github.com/relayhq/relay/internal/events"
	"github.com/relayhq/relay/internal/providers"
	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/internal/tools"
	"github.com/relayhq/relay/pkg/models"
)

// noopMemoryService is an empty-result memoryService — the agent loop
// tests below never assert on memory contents, only that the built-in
// tool calls and auto-stores complete without error.
type noopMemoryService struct{}

func (noopMemoryService) Remember(ctx context.Context, sessionID, content string, memType models.MemoryType, importance float32, ownerID *string) error {
	return nil
}
func (noopMemoryService) Recall(ctx context.Context, query string, k int, ownerID *string) ([]models.MemoryRecord, error) {
	return nil, nil
}
func (noopMemoryService) Search(ctx context.Context, query string, k int, ownerID *string) ([]models.MemoryRecord, error) {
	return nil, nil
}

// fakeSessionStore is an in-memory sessions.Store with the same
// optimistic-version semantics as the real CockroachStore.
type fakeSessionStore struct {
	sessions map[string]*models.Session
}

func newFakeSessionStore(s *models.Session) *fakeSessionStore {
	clone := *s
	return &fakeSessionStore{sessions: map[string]*models.Session{s.ID: &clone}}
}

func (f *fakeSessionStore) Create(ctx context.Context, s *models.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, relayerr.New(relayerr.NotFound, "not found")
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSessionStore) Update(ctx context.Context, s *models.Session) error {
	existing, ok := f.sessions[s.ID]
	if !ok {
		return relayerr.New(relayerr.NotFound, "not found")
	}
	if existing.Version != s.Version {
		return relayerr.New(relayerr.StoreConflict, "version mismatch")
	}
	s.Version++
	clone := *s
	f.sessions[s.ID] = &clone
	return nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

// fakeToolIndex always reports no relevant tools, forcing the
// all-tools fallback path.
type fakeToolIndex struct{}

func (fakeToolIndex) Search(ctx context.Context, query string, k int, userID *string) ([]string, error) {
	return nil, nil
}

// fakeKeyResolver always signals "no per-user key", forcing the system
// Router path.
type fakeKeyResolver struct{}

func (fakeKeyResolver) ResolveLLM(ctx context.Context, ownerID *string) (models.ProviderConfig, bool, error) {
	return models.ProviderConfig{}, false, nil
}

// scriptedCaller replays a fixed sequence of completion responses, one
// per StreamChat call: a direct answer in the happy-path test, repeated
// tool-call responses in the max-iterations test.
type scriptedCaller struct {
	responses []*providers.CompletionResponse
	calls     int
}

func (c *scriptedCaller) Chat(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return c.StreamChat(ctx, req, func(string) {})
}

func (c *scriptedCaller) StreamChat(ctx context.Context, req *providers.CompletionRequest, onToken providers.OnToken) (*providers.CompletionResponse, error) {
	resp := c.responses[c.calls]
	c.calls++
	for _, choice := range resp.Choices {
		if choice.Message.Content != "" {
			onToken(choice.Message.Content)
		}
	}
	return resp, nil
}

func answerResponse(content string) *providers.CompletionResponse {
	return &providers.CompletionResponse{
		Choices: []providers.Choice{{Message: models.Message{Role: models.RoleAssistant, Content: content}}},
	}
}

func toolCallResponse(toolName, argsJSON string) *providers.CompletionResponse {
	return &providers.CompletionResponse{
		Choices: []providers.Choice{{Message: models.Message{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{{
				ID:   "call-1",
				Type: "function",
				Function: models.ToolCallFunction{Name: toolName, Arguments: argsJSON},
			}},
		}}},
	}
}

func newTestLoop(t *testing.T, sessionStore *fakeSessionStore, caller ChatCaller, mem memoryService, publisher *events.Publisher) *Loop {
	t.Helper()
	registry := tools.New()
	return New(Config{
		Sessions:     sessionStore,
		Context:      contextstore.New(sessionStore, 50),
		ToolIndex:    fakeToolIndex{},
		Registry:     registry,
		Dispatcher:   tools.NewDispatcher(registry),
		Memory:       mem,
		Publisher:    publisher,
		KeyResolver:  fakeKeyResolver{},
		SystemRouter: caller,
		NewUserClient: func(models.ProviderConfig) ChatCaller { return caller },
	})
}

// drainEvents non-blockingly reads every event currently sitting in ch's
// buffer, in publish order.
func drainEvents(ch <-chan models.AgentEvent) []models.AgentEvent {
	var out []models.AgentEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func stepCompletePayload(t *testing.T, ev models.AgentEvent) models.StepCompletePayload {
	t.Helper()
	var p models.StepCompletePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("unmarshal STEP_COMPLETE payload: %v", err)
	}
	return p
}

func TestRunHappyPathNoToolsCompletesSession(t *testing.T) {
	store := newFakeSessionStore(&models.Session{ID: "s1", Status: models.SessionPending, TaskDescription: "say hi", Version: 1})
	caller := &scriptedCaller{responses: []*providers.CompletionResponse{answerResponse("Hi.")}}
	mem := noopMemoryService{}
	publisher := events.New(nil)
	ch, unsubscribe := publisher.Subscribe("s1")
	defer unsubscribe()

	loop := newTestLoop(t, store, caller, mem, publisher)
	if err := loop.Run(context.Background(), "s1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	session, _ := store.Get(context.Background(), "s1")
	if session.Status != models.SessionCompleted {
		t.Fatalf("status = %v, want COMPLETED", session.Status)
	}
	if session.Result != "Hi." {
		t.Fatalf("result = %q", session.Result)
	}
	if session.IterationCount != 1 {
		t.Fatalf("iteration count = %d, want 1", session.IterationCount)
	}

	evs := drainEvents(ch)
	wantTypes := []models.AgentEventType{
		models.EventPlanReady,
		models.EventStatusChange, // RUNNING, from initialize
		models.EventStepStart,    // step 1 recall
		models.EventStepComplete, // step 1 recall
		models.EventStepStart,    // step 2 think-and-act
		models.EventIterationStart,
		models.EventThinking,
		models.EventStepComplete, // step 2 think-and-act, "完成推理"
		models.EventStepStart,    // step 3 answer
		models.EventStepComplete, // step 3 answer
		models.EventFinalAnswer,
		models.EventStatusChange, // COMPLETED
	}
	if len(evs) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(evs), len(wantTypes), evs)
	}
	for i, want := range wantTypes {
		if evs[i].Type != want {
			t.Fatalf("event[%d].Type = %v, want %v", i, evs[i].Type, want)
		}
	}

	thinkAndActComplete := stepCompletePayload(t, evs[7])
	if thinkAndActComplete.Index != 2 || thinkAndActComplete.Summary != "完成推理" {
		t.Fatalf("think-and-act STEP_COMPLETE payload = %+v, want {Index:2 Summary:完成推理}", thinkAndActComplete)
	}
	answerComplete := stepCompletePayload(t, evs[9])
	if answerComplete.Index != 3 || answerComplete.Summary != "Hi." {
		t.Fatalf("answer STEP_COMPLETE payload = %+v, want {Index:3 Summary:Hi.}", answerComplete)
	}
	if evs[10].Content != "Hi." {
		t.Fatalf("FINAL_ANSWER content = %q, want %q", evs[10].Content, "Hi.")
	}
	if evs[11].Content != string(models.SessionCompleted) {
		t.Fatalf("STATUS_CHANGE content = %q, want %q", evs[11].Content, models.SessionCompleted)
	}
}

func TestRunExhaustsMaxIterationsMarksFailed(t *testing.T) {
	store := newFakeSessionStore(&models.Session{ID: "s1", Status: models.SessionPending, TaskDescription: "loop forever", Version: 1})
	responses := make([]*providers.CompletionResponse, 0, MaxIterations)
	for i := 0; i < MaxIterations; i++ {
		responses = append(responses, toolCallResponse("unknown_tool", `{}`))
	}
	caller := &scriptedCaller{responses: responses}
	mem := noopMemoryService{}
	publisher := events.New(nil)
	ch, unsubscribe := publisher.Subscribe("s1")
	defer unsubscribe()

	loop := newTestLoop(t, store, caller, mem, publisher)
	if err := loop.Run(context.Background(), "s1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	session, _ := store.Get(context.Background(), "s1")
	if session.Status != models.SessionFailed {
		t.Fatalf("status = %v, want FAILED", session.Status)
	}
	if session.ErrorMessage != "Max iterations (30) reached without final answer." {
		t.Fatalf("error message = %q", session.ErrorMessage)
	}

	evs := drainEvents(ch)
	if len(evs) < 3 {
		t.Fatalf("got %d events, want at least the trailing STEP_COMPLETE/ERROR/STATUS_CHANGE", len(evs))
	}
	tail := evs[len(evs)-3:]
	wantTail := []models.AgentEventType{models.EventStepComplete, models.EventError, models.EventStatusChange}
	for i, want := range wantTail {
		if tail[i].Type != want {
			t.Fatalf("tail event[%d].Type = %v, want %v", i, tail[i].Type, want)
		}
	}

	finalStepComplete := stepCompletePayload(t, tail[0])
	if finalStepComplete.Index != 2 || finalStepComplete.Summary != "未得到最终回答" {
		t.Fatalf("finalization STEP_COMPLETE payload = %+v, want {Index:2 Summary:未得到最终回答}", finalStepComplete)
	}
	if tail[1].Content != "Max iterations (30) reached without final answer." {
		t.Fatalf("ERROR content = %q", tail[1].Content)
	}
	if tail[2].Content != string(models.SessionFailed) {
		t.Fatalf("STATUS_CHANGE content = %q, want %q", tail[2].Content, models.SessionFailed)
	}
}

func TestDedupSetRejectsExactDuplicate(t *testing.T) {
	d := newDedupSet(dedupPrefixLen)
	if _, ok := d.check(normalizeForDedup("The user prefers dark mode.")); !ok {
		t.Fatal("first store should be accepted")
	}
	if _, ok := d.check(normalizeForDedup("the user   prefers dark mode.")); ok {
		t.Fatal("re-normalized duplicate should be rejected")
	}
}

func TestDedupSetRejectsSharedPrefix(t *testing.T) {
	d := newDedupSet(dedupPrefixLen)
	if _, ok := d.check(normalizeForDedup("abcdefghijklmno already stored once")); !ok {
		t.Fatal("first store should be accepted")
	}
	if _, ok := d.check(normalizeForDedup("abcdefghijklmno but phrased differently")); ok {
		t.Fatal("shared 15-char prefix should be rejected")
	}
}

func TestRecallArgsTopKClampedToRange(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{`{"query":"x","top_k":0}`, defaultRecallTopK},
		{`{"query":"x","top_k":-5}`, minRecallTopK},
		{`{"query":"x","top_k":999}`, maxRecallTopK},
	}
	for _, c := range cases {
		var args recallArgs
		if err := json.Unmarshal([]byte(c.raw), &args); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		topK := args.TopK
		if topK == 0 {
			topK = defaultRecallTopK
		}
		if topK < minRecallTopK {
			topK = minRecallTopK
		}
		if topK > maxRecallTopK {
			topK = maxRecallTopK
		}
		if topK != c.want {
			t.Fatalf("clamped top_k = %d, want %d", topK, c.want)
		}
	}
}
