// Package agentloop implements the Agent Loop: the central per-session
// orchestrator that drives one session from PENDING through to
// COMPLETED or FAILED.
package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relayhq/relay/internal/contextstore"
	"github.com/relayhq/relay/internal/events"
	"github.com/relayhq/relay/internal/providers"
	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/internal/sessions"
	"github.com/relayhq/relay/internal/tools"
	"github.com/relayhq/relay/pkg/models"
)

// MaxIterations is the default inner-loop bound, overridable per Loop
// via Config.MaxIterations ("maxIterations").
const MaxIterations = 30

// defaultPausePollInterval is how long the loop sleeps between status
// checks while a session is PAUSED, overridable via
// Config.ResumePollInterval ("resumePollMs").
const defaultPausePollInterval = 2 * time.Second

// defaultToolIndexTopK is the default Tool Index fan-in, overridable
// via Config.ToolIndexTopK ("topKTools").
const defaultToolIndexTopK = 12

const (
	chatTemperature = 0.7
	chatMaxTokens   = 4096
)

// planSteps are the three fixed, user-visible steps of every run
// ("Plan").
var planSteps = []string{"recall", "think-and-act", "answer"}

// baseSystemPrompt is the canonical system message installed on a fresh
// session's context (content normative).
const baseSystemPrompt = `You are an autonomous agent with access to two memory tools: recall_memory and store_memory.
Use recall_memory when the user's question could be answered from facts you were told in a prior conversation.
Use store_memory only to persist a stable, long-term fact — at most once per distinct fact — always rewritten in explicit third-person form ("the user ..." / "the assistant ...") so the stored text never carries an ambiguous first-person pronoun.
Once you can answer the question directly, answer — do not make further tool calls.`

// ChatCaller is satisfied by both *providers.Client (a per-user Provider
// Client) and *routing.Router (the system primary/fallback Router),
// letting the loop use either behind one interface (step
// init 2). Exported so callers wiring Config.NewUserClient from outside
// this package can name the return type of their factory function.
type ChatCaller interface {
	Chat(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error)
	StreamChat(ctx context.Context, req *providers.CompletionRequest, onToken providers.OnToken) (*providers.CompletionResponse, error)
}

// keyResolver is the subset of *keyresolver.Resolver the loop needs.
type keyResolver interface {
	ResolveLLM(ctx context.Context, ownerID *string) (models.ProviderConfig, bool, error)
}

// toolSearcher is the subset of *toolindex.Index the loop needs.
type toolSearcher interface {
	Search(ctx context.Context, query string, k int, userID *string) ([]string, error)
}

// memoryService is the subset of *memory.Service the loop needs to
// drive the recall_memory/store_memory built-ins and the post-run and
// post-tool-result auto-stores.
type memoryService interface {
	Remember(ctx context.Context, sessionID, content string, memType models.MemoryType, importance float32, ownerID *string) error
	Recall(ctx context.Context, query string, k int, ownerID *string) ([]models.MemoryRecord, error)
	Search(ctx context.Context, query string, k int, ownerID *string) ([]models.MemoryRecord, error)
}

// Config wires a Loop's dependencies.
type Config struct {
	Sessions    sessions.Store
	Context     *contextstore.Store
	ToolIndex   toolSearcher
	Registry    *tools.Registry
	Dispatcher  *tools.Dispatcher
	Memory      memoryService
	Publisher   *events.Publisher
	KeyResolver keyResolver
	// SystemRouter is the fallback caller used when the session's owner
	// has no stored LLM key (init 2).
	SystemRouter ChatCaller
	// NewUserClient builds a dedicated Provider Client from a resolved
	// per-user ProviderConfig.
	NewUserClient func(models.ProviderConfig) ChatCaller

	// MaxIterations overrides the default inner-loop bound when positive
	// ("maxIterations").
	MaxIterations int
	// ToolIndexTopK overrides the default Tool Index fan-in when
	// positive ("topKTools").
	ToolIndexTopK int
	// ResumePollInterval overrides the default PAUSED poll cadence when
	// positive ("resumePollMs").
	ResumePollInterval time.Duration
	// StoreMemoryPrefixLen overrides the default store_memory dedup
	// prefix length when positive ("storeMemoryPrefixLen").
	StoreMemoryPrefixLen int

	// Metrics, when set, records loop-iteration and tool-invocation
	// outcomes. Nil disables metrics recording.
	Metrics MetricsRecorder
	// Tracer, when set, opens one span per iteration parented under the
	// caller's context. Nil disables tracing.
	Tracer IterationTracer
}

// Loop runs one session to completion.
type Loop struct {
	cfg            Config
	maxIterations  int
	toolIndexTopK  int
	pausePoll      time.Duration
	storePrefixLen int
}

// New constructs a Loop from cfg, applying defaults to any zero-valued
// override field.
func New(cfg Config) *Loop {
	l := &Loop{
		cfg:            cfg,
		maxIterations:  cfg.MaxIterations,
		toolIndexTopK:  cfg.ToolIndexTopK,
		pausePoll:      cfg.ResumePollInterval,
		storePrefixLen: cfg.StoreMemoryPrefixLen,
	}
	if l.maxIterations <= 0 {
		l.maxIterations = MaxIterations
	}
	if l.toolIndexTopK <= 0 {
		l.toolIndexTopK = defaultToolIndexTopK
	}
	if l.pausePoll <= 0 {
		l.pausePoll = defaultPausePollInterval
	}
	if l.storePrefixLen <= 0 {
		l.storePrefixLen = dedupPrefixLen
	}
	return l
}

// Run drives sessionID's Agent Loop to a terminal state: COMPLETED or
// FAILED. An error raised inside the inner loop (a provider call, the
// tool index, a session or context store read) is caught: the session is
// marked FAILED with the error's message, ERROR and STATUS_CHANGE(FAILED)
// are emitted, and Run returns nil. Run returns an error when the
// session cannot be loaded, initialized or given its LLM caller, or when
// a terminal-state write fails; a model that never reaches a final
// answer within MaxIterations is not a Go error — it is the FAILED
// terminal state, "Finalization".
func (l *Loop) Run(ctx context.Context, sessionID string) error {
	session, err := l.cfg.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	l.emit(ctx, sessionID, 0, models.EventPlanReady, "", planSteps)

	if err := l.initialize(ctx, session); err != nil {
		return err
	}

	l.emit(ctx, sessionID, 0, models.EventStepStart, "", models.StepCompletePayload{Index: 1, Title: "recall"})
	l.emit(ctx, sessionID, 0, models.EventStepComplete, "", models.StepCompletePayload{Index: 1, Title: "recall"})
	l.emit(ctx, sessionID, 0, models.EventStepStart, "", models.StepCompletePayload{Index: 2, Title: "think-and-act"})

	caller, err := l.buildCaller(ctx, session)
	if err != nil {
		return err
	}

	dedup := newDedupSet(l.storePrefixLen)
	answer, iterations, err := l.innerLoop(ctx, sessionID, caller, dedup)
	if err != nil {
		reason := err.Error()
		if _, uerr := sessions.UpdateWithRetry(ctx, l.cfg.Sessions, sessionID, func(s *models.Session) error {
			s.ErrorMessage = reason
			s.Status = models.SessionFailed
			return nil
		}); uerr != nil {
			return uerr
		}
		l.emit(ctx, sessionID, iterations, models.EventError, reason, nil)
		l.emit(ctx, sessionID, iterations, models.EventStatusChange, string(models.SessionFailed), nil)
		return nil
	}

	if answer != nil {
		return l.finalizeSuccess(ctx, sessionID, iterations, *answer)
	}
	return l.finalizeFailure(ctx, sessionID, iterations)
}

// initialize performs step-1 session initialization:
// transition PENDING→RUNNING and, if the context is empty, seed it with
// the base system prompt and the task description.
func (l *Loop) initialize(ctx context.Context, session *models.Session) error {
	if _, err := sessions.UpdateWithRetry(ctx, l.cfg.Sessions, session.ID, func(s *models.Session) error {
		s.Status = models.SessionRunning
		return nil
	}); err != nil {
		return err
	}
	l.emit(ctx, session.ID, 0, models.EventStatusChange, string(models.SessionRunning), nil)

	existing, err := l.cfg.Context.Load(session)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		seed := []models.Message{
			{Role: models.RoleSystem, Content: baseSystemPrompt},
			{Role: models.RoleUser, Content: session.TaskDescription},
		}
		return l.cfg.Context.Initialize(ctx, session.ID, seed)
	}
	return nil
}

// buildCaller resolves the LLM caller to use for session's owner: a
// dedicated Provider Client when the owner has a stored LLM key,
// otherwise the system Router.
func (l *Loop) buildCaller(ctx context.Context, session *models.Session) (ChatCaller, error) {
	cfg, ok, err := l.cfg.KeyResolver.ResolveLLM(ctx, session.Owner)
	if err != nil {
		return nil, err
	}
	if ok {
		return l.cfg.NewUserClient(cfg), nil
	}
	return l.cfg.SystemRouter, nil
}

// innerLoop runs the inner loop until a final answer is produced,
// MaxIterations is reached, or the session's status is found to be
// neither RUNNING nor PAUSED at the top of an iteration, returning the
// answer (nil in the last two cases) and the iteration count reached.
func (l *Loop) innerLoop(ctx context.Context, sessionID string, caller ChatCaller, dedup *dedupSet) (*string, int, error) {
	iteration := 0
	for {
		session, err := l.cfg.Sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, iteration, err
		}
		for session.Status == models.SessionPaused {
			time.Sleep(l.pausePoll)
			session, err = l.cfg.Sessions.Get(ctx, sessionID)
			if err != nil {
				return nil, iteration, err
			}
		}
		if session.Status != models.SessionRunning {
			return nil, iteration, nil
		}

		iteration++
		l.emit(ctx, sessionID, iteration, models.EventIterationStart, "", nil)

		spanCtx, endSpan := l.startIterationSpan(ctx, sessionID, iteration)

		messages, err := l.cfg.Context.Load(session)
		if err != nil {
			endSpan()
			return nil, iteration, err
		}

		llmTools, err := l.buildToolList(ctx, messages, session.TaskDescription, session.Owner)
		if err != nil {
			endSpan()
			return nil, iteration, err
		}

		req := &providers.CompletionRequest{
			Messages:    messages,
			Tools:       llmTools,
			ToolChoice:  providers.ToolChoiceAuto,
			Temperature: chatTemperature,
			MaxTokens:   chatMaxTokens,
		}
		resp, err := caller.StreamChat(spanCtx, req, func(delta string) {
			l.emit(ctx, sessionID, iteration, models.EventThinking, delta, nil)
		})
		endSpan()
		if err != nil {
			l.recordIteration("error")
			return nil, iteration, err
		}
		if len(resp.Choices) == 0 {
			l.recordIteration("error")
			return nil, iteration, relayerr.New(relayerr.ProtocolError, "completion returned no choices")
		}
		assistant := resp.Choices[0].Message

		if len(assistant.ToolCalls) > 0 {
			l.recordIteration("tool_calls")
			if err := l.executeToolCalls(ctx, session, iteration, assistant, dedup); err != nil {
				return nil, iteration, err
			}
			if err := l.saveIterationCount(ctx, sessionID, iteration); err != nil {
				return nil, iteration, err
			}
			if iteration >= l.maxIterations {
				return nil, iteration, nil
			}
			continue
		}

		l.recordIteration("answer")
		answer := assistant.Content
		if err := l.saveIterationCount(ctx, sessionID, iteration); err != nil {
			return nil, iteration, err
		}
		return &answer, iteration, nil
	}
}

// buildToolList derives the tool-search query (last user message, or
// the task description) and asks the Tool Index for the top-K relevant
// tools, falling back to every tool when the index returns none.
func (l *Loop) buildToolList(ctx context.Context, messages []models.Message, taskDescription string, ownerID *string) ([]models.LLMTool, error) {
	query := taskDescription
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			query = messages[i].Content
			break
		}
	}

	ids, err := l.cfg.ToolIndex.Search(ctx, query, l.toolIndexTopK, ownerID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return l.cfg.Registry.AsLLMTools(), nil
	}
	out := make([]models.LLMTool, 0, len(ids))
	for _, id := range ids {
		if desc, ok := l.cfg.Registry.Lookup(id); ok {
			out = append(out, desc.AsLLMTool())
		}
	}
	return out, nil
}

// executeToolCalls runs every tool call in assistant sequentially, in
// arrival order, then atomically appends the assistant message plus all
// resulting tool messages to the session's context in one store call
// ("this atomic append is required").
func (l *Loop) executeToolCalls(ctx context.Context, session *models.Session, iteration int, assistant models.Message, dedup *dedupSet) error {
	batch := make([]models.Message, 0, len(assistant.ToolCalls)+1)
	batch = append(batch, assistant)

	for _, call := range assistant.ToolCalls {
		l.emit(ctx, session.ID, iteration, models.EventToolCall, "", call)

		output := l.invoke(ctx, session, call, dedup)

		l.emit(ctx, session.ID, iteration, models.EventToolResult, "", models.ToolResultPayload{
			ToolName: call.Function.Name,
			Output:   output,
		})
		batch = append(batch, models.ToolMessage(call, output))

		l.maybeAutoStore(ctx, session, call.Function.Name, output)
	}

	return l.cfg.Context.Append(ctx, session.ID, batch...)
}

// invoke dispatches a single tool call: the two built-ins are handled
// inline, everything else goes to the Dispatcher.
func (l *Loop) invoke(ctx context.Context, session *models.Session, call models.ToolCall, dedup *dedupSet) string {
	args := []byte(call.Function.Arguments)
	var output string
	switch call.Function.Name {
	case models.RecallMemoryTool:
		output = l.recallMemory(ctx, session, args)
	case models.StoreMemoryTool:
		output = l.storeMemory(ctx, session, args, dedup)
	default:
		output = l.cfg.Dispatcher.Invoke(ctx, call.Function.Name, args)
	}

	outcome := "success"
	if strings.HasPrefix(output, "[ToolError]") {
		outcome = "error"
	}
	l.recordTool(call.Function.Name, outcome)
	return output
}

// maybeAutoStore persists non-builtin tool results ≥50 chars as an
// EPISODIC memory after every tool call, excluding error/stub-like
// outputs and never re-storing store_memory's own output.
func (l *Loop) maybeAutoStore(ctx context.Context, session *models.Session, toolName, output string) {
	if toolName == models.RecallMemoryTool || toolName == models.StoreMemoryTool {
		return
	}
	if len(output) < 50 || strings.HasPrefix(output, "[ToolError]") {
		return
	}
	_ = l.cfg.Memory.Remember(ctx, session.ID, output, models.MemoryEpisodic, 0.6, session.Owner)
}

func (l *Loop) saveIterationCount(ctx context.Context, sessionID string, iteration int) error {
	_, err := sessions.UpdateWithRetry(ctx, l.cfg.Sessions, sessionID, func(s *models.Session) error {
		s.IterationCount = iteration
		return nil
	})
	return err
}

// finalizeSuccess writes the COMPLETED terminal state and stores a
// SEMANTIC completion memory ("Finalization").
func (l *Loop) finalizeSuccess(ctx context.Context, sessionID string, iteration int, answer string) error {
	session, err := sessions.UpdateWithRetry(ctx, l.cfg.Sessions, sessionID, func(s *models.Session) error {
		s.Result = answer
		s.Status = models.SessionCompleted
		return nil
	})
	if err != nil {
		return err
	}

	l.emit(ctx, sessionID, iteration, models.EventStepComplete, answer, models.StepCompletePayload{Index: 2, Title: "think-and-act", Summary: "完成推理"})
	l.emit(ctx, sessionID, iteration, models.EventStepStart, "", models.StepCompletePayload{Index: 3, Title: "answer"})
	l.emit(ctx, sessionID, iteration, models.EventStepComplete, answer, models.StepCompletePayload{Index: 3, Title: "answer", Summary: answer})
	l.emit(ctx, sessionID, iteration, models.EventFinalAnswer, answer, nil)
	l.emit(ctx, sessionID, iteration, models.EventStatusChange, string(models.SessionCompleted), nil)

	completion := fmt.Sprintf("Task: %s\nAnswer: %s", truncate(session.TaskDescription, 200), truncate(answer, 500))
	return l.cfg.Memory.Remember(ctx, sessionID, completion, models.MemorySemantic, 0.85, session.Owner)
}

// finalizeFailure writes the FAILED terminal state after the inner loop
// returns without a final answer: on MaxIterations exhaustion, and also
// when the session left RUNNING (for example an abort), in which case
// the max-iterations reason is written all the same.
func (l *Loop) finalizeFailure(ctx context.Context, sessionID string, iteration int) error {
	reason := fmt.Sprintf("Max iterations (%d) reached without final answer.", l.maxIterations)
	if _, err := sessions.UpdateWithRetry(ctx, l.cfg.Sessions, sessionID, func(s *models.Session) error {
		s.ErrorMessage = reason
		s.Status = models.SessionFailed
		return nil
	}); err != nil {
		return err
	}

	l.emit(ctx, sessionID, iteration, models.EventStepComplete, "", models.StepCompletePayload{Index: 2, Title: "think-and-act", Summary: "未得到最终回答"})
	l.emit(ctx, sessionID, iteration, models.EventError, reason, nil)
	l.emit(ctx, sessionID, iteration, models.EventStatusChange, string(models.SessionFailed), nil)
	return nil
}

func (l *Loop) emit(ctx context.Context, sessionID string, iteration int, eventType models.AgentEventType, content string, payload any) {
	event := events.NewEvent(sessionID, eventType, iteration)
	event.Content = content
	event = event.WithPayload(payload)
	l.cfg.Publisher.Publish(ctx, event)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
