// Package orchestrator drives the conversation: it turns user input into
// model queries, extracts tool invocations, hands them to the background
// executor, and reconciles completed tool work back into the conversation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/agent"
	"conductor/pkg/config"
	"conductor/pkg/ident"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/parser"
	"conductor/pkg/persistence"
	"conductor/pkg/proto"
	"conductor/pkg/registry"
	"conductor/pkg/session"
	"conductor/pkg/tokens"
	"conductor/pkg/tools"
)

// contextMessageLimit bounds how many prior messages are even considered for
// prompt context before token capping.
const contextMessageLimit = 50

// Turn is the visible outcome of one processed user turn.
type Turn struct {
	ResponseText string
	Acks         []string
	RequestIDs   []int64
}

// Completion is one reconciled tool result discovered by polling.
type Completion struct {
	RequestID    int64
	ResponseText string
}

// Deps are the loop's collaborators. All are injected; the loop owns none of
// their lifecycles.
type Deps struct {
	Ops        *persistence.DatabaseOperations
	Registry   *registry.Registry
	Executor   *registry.Executor
	Catalogue  *tools.Catalogue
	Client     agent.LLMClient
	Session    *session.Manager
	Allocator  *ident.Allocator
	Classifier parser.Classifier
	Counter    *tokens.Counter
	Recorder   *metrics.Recorder
	Config     *config.Config
}

// Loop is the orchestration loop for one session. One turn is processed to
// completion before the next begins; only tool execution runs in the
// background.
type Loop struct {
	deps   Deps
	logger *logx.Logger

	// appendMu serializes log appends so a result/response pair lands
	// atomically after its submission message, whatever order tools finish in.
	appendMu sync.Mutex

	// resubmits tracks how many times a retryable failure chain has been
	// resubmitted, keyed by the chain's current request id.
	resubmits map[int64]int
}

// New creates a loop over the given collaborators.
func New(deps Deps) *Loop {
	if deps.Classifier == nil {
		deps.Classifier = parser.New()
	}
	return &Loop{
		deps:      deps,
		logger:    logx.NewLogger("orchestrator"),
		resubmits: make(map[int64]int),
	}
}

// ProcessTurn handles one user turn. A non-nil requestID marks a
// tool-completion turn: the loop skips straight to reconciliation using the
// request's stored original user text.
func (l *Loop) ProcessTurn(ctx context.Context, userText string, requestID *int64) (*Turn, error) {
	started := time.Now()

	if requestID != nil {
		text := l.reconcile(ctx, *requestID)
		l.deps.Recorder.ObserveTurn("reconciliation", time.Since(started))
		return &Turn{ResponseText: text, RequestIDs: []int64{*requestID}}, nil
	}
	defer func() { l.deps.Recorder.ObserveTurn("user", time.Since(started)) }()

	if err := l.deps.Session.BeginTurn(); err != nil {
		// Illegal transitions are logged and the turn proceeds without a
		// status change.
		l.logger.Warn("Session transition rejected: %v", err)
	}

	contextMessages := l.loadContext()

	l.appendMu.Lock()
	l.appendMessage(proto.RoleUser, userText, proto.AddressCLI, proto.AddressLLM, nil, nil)
	l.appendMu.Unlock()

	catalogueBlock := l.deps.Catalogue.PromptBlock()
	messages := buildMessages(systemPrompt(catalogueBlock), contextMessages,
		l.deps.Counter, l.deps.Config.ContextTokens, userText)

	resp, err := l.deps.Client.Complete(ctx, agent.NewCompletionRequest(messages))
	if err != nil {
		// Model failures become the visible reply; the conversation degrades
		// instead of crashing.
		l.logger.Error("Model query failed: %v", err)
		text := fmt.Sprintf("I couldn't reach the language model (%v). Please try again.", err)
		l.appendAssistantReply(text, nil)
		return &Turn{ResponseText: text}, nil
	}

	result := l.deps.Classifier.Classify(resp.Content)
	responseText := resp.Content

	if result.HallucinationDetected {
		l.deps.Recorder.ObserveHallucination()
		l.logger.Warn("Discarded fabricated tool output, retrying with stricter instructions")

		stricter := buildMessages(stricterSystemPrompt(catalogueBlock), contextMessages,
			l.deps.Counter, l.deps.Config.ContextTokens, userText)
		retryResp, retryErr := l.deps.Client.Complete(ctx, agent.NewCompletionRequest(stricter))
		if retryErr != nil {
			l.logger.Error("Model retry failed: %v", retryErr)
			result = parser.Result{}
			responseText = fallbackReply
		} else {
			result = l.deps.Classifier.Classify(retryResp.Content)
			responseText = retryResp.Content
			if result.HallucinationDetected {
				l.deps.Recorder.ObserveHallucination()
				responseText = fallbackReply
				result = l.deps.Classifier.Classify(fallbackReply)
			}
		}
	}

	if len(result.Calls) > 0 {
		acks, ids := l.submitCalls(ctx, userText, result.Calls, nil)
		text := strings.Join(acks, "\n")
		return &Turn{ResponseText: text, Acks: acks, RequestIDs: ids}, nil
	}

	l.appendAssistantReply(responseText, nil)
	return &Turn{ResponseText: responseText}, nil
}

// PollCompletions reconciles every request that reached a terminal state since
// the last poll. Retryable failures with resubmission budget left are
// resubmitted instead of surfaced. Intended to be called once per host input
// cycle.
func (l *Loop) PollCompletions(ctx context.Context) []Completion {
	var completions []Completion

	for _, id := range l.deps.Registry.Sweep() {
		entry, ok := l.deps.Registry.Get(id)
		if !ok {
			continue
		}

		if entry.Status != proto.StatusCompleted && entry.Retryable &&
			l.resubmits[id] < l.deps.Config.MaxResubmissions {
			l.resubmitFailed(ctx, &entry)
			l.deps.Registry.Evict(id)
			delete(l.resubmits, id)
			continue
		}

		started := time.Now()
		text := l.reconcile(ctx, id)
		l.deps.Recorder.ObserveTurn("reconciliation", time.Since(started))

		completions = append(completions, Completion{RequestID: id, ResponseText: text})
		l.deps.Registry.Evict(id)
		delete(l.resubmits, id)

		if current := l.deps.Session.CurrentRequestID(); current != nil && *current == id {
			if err := l.deps.Session.SetCurrentRequest(nil); err != nil {
				l.logger.Warn("Failed to clear current request: %v", err)
			}
		}
	}

	return completions
}

// submitCalls submits each parsed call, dispatches it, logs the submission
// message, and collects the acknowledgement shown to the user. A non-nil
// parentID marks nested sub-calls made in service of an earlier request: they
// get their own identifier and carry the parent in metadata.
func (l *Loop) submitCalls(ctx context.Context, userText string, calls []parser.ToolCall, parentID *int64) (acks []string, ids []int64) {
	for _, call := range calls {
		id, err := l.deps.Registry.Submit(l.deps.Session.SessionID(), call.Name, call.Task, userText)
		if err != nil {
			if errors.Is(err, registry.ErrDuplicateRequest) {
				l.logger.Error("Duplicate request id on submit: %v", err)
				continue
			}
			l.logger.Error("Tool submission failed: %v", err)
			acks = append(acks, fmt.Sprintf("I couldn't start %s right now.", call.Name))
			continue
		}

		// The tool must outlive this turn; detach its context from the turn's
		// cancellation while keeping values.
		if err := l.deps.Executor.Dispatch(context.WithoutCancel(ctx), id); err != nil {
			l.logger.Error("Dispatch of request %d failed: %v", id, err)
		}

		metadata := map[string]string{}
		if parentID != nil {
			metadata[proto.KeyParentRequestID] = strconv.FormatInt(*parentID, 10)
			metadata[proto.KeyCorrelationID] = uuid.NewString()
		}
		if count := l.resubmits[id]; count > 0 {
			metadata[proto.KeyResubmitCount] = strconv.Itoa(count)
		}

		l.appendMu.Lock()
		l.appendMessage(proto.RoleTool,
			fmt.Sprintf("submitted %s(task=%q)", call.Name, call.Task),
			proto.ToolAddress(call.Name), proto.AddressLLM, &id, metadata)
		l.appendMu.Unlock()

		if err := l.deps.Session.SetCurrentRequest(&id); err != nil {
			l.logger.Warn("Failed to set current request: %v", err)
		}

		ack := fmt.Sprintf("Working on it: %s is handling %q.", call.Name, call.Task)
		if def, ok := l.deps.Catalogue.Get(call.Name); ok {
			ack = def.Acknowledgement(call.Task)
		}
		acks = append(acks, ack)
		ids = append(ids, id)
	}
	return acks, ids
}

// resubmitFailed starts a fresh request for a retryable failure, carrying the
// resubmission count forward.
func (l *Loop) resubmitFailed(ctx context.Context, failed *registry.Entry) {
	newID, err := l.deps.Registry.Submit(failed.SessionID, failed.Tool, failed.Task, failed.UserText)
	if err != nil {
		l.logger.Error("Resubmission of request %d failed: %v", failed.ID, err)
		return
	}
	l.resubmits[newID] = l.resubmits[failed.ID] + 1

	if err := l.deps.Executor.Dispatch(context.WithoutCancel(ctx), newID); err != nil {
		l.logger.Error("Dispatch of resubmitted request %d failed: %v", newID, err)
		return
	}

	metadata := map[string]string{
		proto.KeyResubmitCount:   strconv.Itoa(l.resubmits[newID]),
		proto.KeyParentRequestID: strconv.FormatInt(failed.ID, 10),
	}
	l.appendMu.Lock()
	l.appendMessage(proto.RoleTool,
		fmt.Sprintf("resubmitted %s(task=%q) after retryable failure", failed.Tool, failed.Task),
		proto.ToolAddress(failed.Tool), proto.AddressLLM, &newID, metadata)
	l.appendMu.Unlock()

	l.logger.Info("🔁 Resubmitted request %d as %d (attempt %d)", failed.ID, newID, l.resubmits[newID])
}

// reconcile builds the constrained follow-up turn for one terminal request:
// query the model with only that tool's result, then append the result message
// and the new assistant message as an atomic pair under the request id.
func (l *Loop) reconcile(ctx context.Context, id int64) string {
	tool, userText, payload, status, found := l.lookupRequest(id)
	if !found {
		l.logger.Error("Reconciliation for unknown request %d", id)
		return fmt.Sprintf("I lost track of background task %d.", id)
	}
	failed := status != proto.StatusCompleted

	var prompt string
	if failed {
		prompt = failureReconciliationPrompt(tool, userText, payload)
	} else {
		prompt = reconciliationPrompt(tool, userText, payload)
	}

	messages := []agent.CompletionMessage{
		agent.NewSystemMessage(systemPrompt(l.deps.Catalogue.PromptBlock())),
		agent.NewUserMessage(prompt),
	}

	responseText := ""
	resp, err := l.deps.Client.Complete(ctx, agent.NewCompletionRequest(messages))
	if err != nil {
		l.logger.Error("Reconciliation model query failed: %v", err)
		if failed {
			responseText = fmt.Sprintf("The background task %s didn't succeed: %s", tool, payload)
		} else {
			responseText = fmt.Sprintf("The background task %s finished: %s", tool, payload)
		}
	} else {
		responseText = resp.Content
	}

	// A reconciliation reply may itself delegate further work; those nested
	// calls reference this request as their parent.
	if !failed && err == nil {
		if result := l.deps.Classifier.Classify(responseText); len(result.Calls) > 0 {
			acks, _ := l.submitCalls(ctx, userText, result.Calls, &id)
			responseText = strings.Join(acks, "\n")
		}
	}

	resultMeta := map[string]string{}
	if status == proto.StatusTimedOut {
		resultMeta[proto.KeyFailureKind] = "timeout"
	} else if failed {
		resultMeta[proto.KeyFailureKind] = "tool_error"
	}

	l.appendMu.Lock()
	l.appendMessage(proto.RoleTool, payload, proto.ToolAddress(tool), proto.AddressLLM, &id, resultMeta)
	l.appendMessage(proto.RoleAssistant, responseText, proto.AddressLLM, proto.AddressCLI, &id, nil)
	l.appendMu.Unlock()

	if err := l.deps.Session.ObserveReply(responseText); err != nil {
		l.logger.Warn("Closing-phrase transition rejected: %v", err)
	}

	return responseText
}

// lookupRequest reads a request's reconciliation view from the registry,
// falling back to the durable log for requests that predate this process.
func (l *Loop) lookupRequest(id int64) (tool, userText, payload string, status proto.RequestStatus, found bool) {
	if entry, ok := l.deps.Registry.Get(id); ok {
		return entry.Tool, entry.UserText, entry.Payload, entry.Status, true
	}

	req, err := l.deps.Ops.GetRequest(l.deps.Session.SessionID(), id)
	if err != nil {
		return "", "", "", "", false
	}
	return req.Tool, req.UserText, req.Payload, req.Status, true
}

// loadContext fetches recent user/assistant messages for prompt construction.
// Tool-submission noise is excluded at the query level.
func (l *Loop) loadContext() []*proto.Message {
	messages, err := l.deps.Ops.ListMessages(&persistence.MessageFilter{
		SessionID: l.deps.Session.SessionID(),
		Roles:     []string{string(proto.RoleUser), string(proto.RoleAssistant)},
		Limit:     contextMessageLimit,
	})
	if err != nil {
		l.logger.Warn("Context load failed, prompting without history: %v", err)
		return nil
	}
	return messages
}

// appendAssistantReply logs the assistant's visible reply and runs the
// closing-phrase check. Callers hold no locks.
func (l *Loop) appendAssistantReply(text string, requestID *int64) {
	l.appendMu.Lock()
	l.appendMessage(proto.RoleAssistant, text, proto.AddressLLM, proto.AddressCLI, requestID, nil)
	l.appendMu.Unlock()

	if err := l.deps.Session.ObserveReply(text); err != nil {
		l.logger.Warn("Closing-phrase transition rejected: %v", err)
	}
}

// appendMessage allocates an identifier and writes one log entry. Store
// failures degrade to in-memory-only conversation rather than failing the
// turn. Callers must hold appendMu.
func (l *Loop) appendMessage(role proto.Role, content, sender, target string, requestID *int64, metadata map[string]string) {
	sessionID := l.deps.Session.SessionID()

	id, err := l.deps.Allocator.Next(ident.MessagesScope(sessionID))
	if err != nil {
		l.logger.Warn("Message id allocation failed, entry not persisted: %v", err)
		return
	}

	msg := proto.NewMessage(sessionID, role, content, sender, target)
	msg.ID = id
	if requestID != nil {
		msg.SetRequestID(*requestID)
	}
	for k, v := range metadata {
		msg.SetMetadata(k, v)
	}

	if err := l.deps.Ops.InsertMessage(msg); err != nil {
		l.logger.Warn("Message %d not persisted: %v", id, err)
	}
}
