// Package pipeline orchestrates one conversational turn: plan, gate,
// resolve, execute, respond, with checkpointed interrupts in between.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/donnahq/donna/pkg/checkpoint"
	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/entity"
	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/hitl"
	"github.com/donnahq/donna/pkg/language"
	"github.com/donnahq/donna/pkg/memory"
	"github.com/donnahq/donna/pkg/observability"
	"github.com/donnahq/donna/pkg/planner"
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/resolver"
	"github.com/donnahq/donna/pkg/routing"
	"github.com/donnahq/donna/pkg/timectx"
)

// Orchestrator runs the request pipeline. One turn per user at a time;
// concurrent deliveries for the same user serialize on a per-user lock.
type Orchestrator struct {
	cfg         config.Config
	memory      *memory.ConversationMemory
	planner     *planner.Planner
	resolvers   *resolver.Registry
	entities    *entity.Registry
	executors   *executor.Registry
	gate        *hitl.Gate
	checkpoints checkpoint.Store
	metrics     *observability.Metrics
	logger      *slog.Logger
	nowFn       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(nowFn func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFn = nowFn }
}

// WithMetrics attaches prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New wires the orchestrator.
func New(
	cfg config.Config,
	mem *memory.ConversationMemory,
	plan *planner.Planner,
	resolvers *resolver.Registry,
	entities *entity.Registry,
	executors *executor.Registry,
	gate *hitl.Gate,
	checkpoints checkpoint.Store,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:         cfg,
		memory:      mem,
		planner:     plan,
		resolvers:   resolvers,
		entities:    entities,
		executors:   executors,
		gate:        gate,
		checkpoints: checkpoints,
		logger:      logger,
		nowFn:       time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleMessage processes one inbound message to a terminal outcome:
// either a reply or an interrupt. It never returns a user-visible
// error; internal failures become an apologetic reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, inbound *protocol.InboundMessage) (*protocol.Outcome, error) {
	lock := o.userLock(inbound.UserID)
	lock.Lock()
	defer lock.Unlock()

	started := o.nowFn()
	ctx, span := observability.StartSpan(ctx, "pipeline.turn")
	var outErr error
	defer func() { observability.EndSpan(span, outErr) }()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.TurnTimeout)
	defer cancel()

	// Re-delivery of a message we already handled re-emits the reply.
	if prior := o.priorReply(inbound); prior != nil {
		return &protocol.Outcome{Reply: prior}, nil
	}

	outcome, err := o.handle(ctx, inbound)
	if err != nil {
		outErr = err
		o.logger.Error("Turn failed", "user", inbound.UserID, "error", err)
		o.observeTurn("error", started)
		reply := o.finishReply(inbound, apologyText(o.defaultLanguage(inbound.Text)))
		return &protocol.Outcome{Reply: reply}, nil
	}

	if outcome.Interrupted() {
		o.observeTurn("interrupt", started)
		if o.metrics != nil {
			o.metrics.InterruptsTotal.WithLabelValues(string(outcome.Interrupt.Type)).Inc()
		}
	} else {
		o.observeTurn("reply", started)
	}
	return outcome, nil
}

func (o *Orchestrator) handle(ctx context.Context, inbound *protocol.InboundMessage) (*protocol.Outcome, error) {
	st, err := o.loadSuspended(ctx, inbound.UserID)
	if err != nil {
		return nil, err
	}

	o.memory.Append(inbound.UserID, protocol.RoleUser, inbound.Text, memory.AppendOptions{
		ExternalID:        inbound.MessageExternalID,
		ReplyToExternalID: inbound.ReplyToExternalID,
	})

	if st != nil {
		return o.resume(ctx, st, inbound)
	}
	return o.runTurn(ctx, o.newState(inbound))
}

// loadSuspended returns the live suspended state for the user, clearing
// expired interrupts along the way.
func (o *Orchestrator) loadSuspended(ctx context.Context, userID string) (*State, error) {
	rec, err := o.checkpoints.Load(ctx, userID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	st, err := UnmarshalState(rec.State)
	if err != nil {
		o.logger.Warn("Discarding unreadable checkpoint", "user", userID, "error", err)
		_ = o.checkpoints.Delete(ctx, userID)
		return nil, nil
	}
	if st.Interrupt == nil || o.gate.Expired(st.Interrupt) {
		o.logger.Info("Interrupt expired, starting a fresh turn", "user", userID)
		_ = o.checkpoints.Delete(ctx, userID)
		return nil, nil
	}
	return st, nil
}

func (o *Orchestrator) newState(inbound *protocol.InboundMessage) *State {
	lang := o.defaultLanguage(inbound.Text)
	return &State{
		TurnID:    uuid.NewString(),
		UserID:    inbound.UserID,
		Message:   *inbound,
		Language:  lang,
		Now:       o.nowFn(),
		Resolved:  make(map[string]*resolver.Output),
		Results:   make(map[string]*StepResult),
		Completed: make(map[string]bool),
	}
}

func (o *Orchestrator) defaultLanguage(text string) protocol.Language {
	if lang := language.Detect(text); lang != protocol.LanguageOther {
		return lang
	}
	return protocol.Language(o.cfg.Language).Normalize()
}

// resume feeds the user's answer back into the suspended turn.
func (o *Orchestrator) resume(ctx context.Context, st *State, inbound *protocol.InboundMessage) (*protocol.Outcome, error) {
	answer := hitl.ParseAnswer(inbound.Text)
	o.logger.Info("Resuming suspended turn",
		"user", st.UserID, "turn", st.TurnID, "interrupt", st.Interrupt.Type, "answer", answer.Kind)

	switch st.Interrupt.Type {
	case protocol.InterruptIntentUnclear, protocol.InterruptClarification:
		// The answer refines the original request; replan from scratch
		// with it attached.
		st.Clarification = answer.Text
		st.Plan = nil
		st.Interrupt = nil
		st.PendingStep = nil
		st.GatePassed = false
		return o.runTurn(ctx, st)

	case protocol.InterruptConfirmation, protocol.InterruptApproval:
		switch answer.Kind {
		case hitl.AnswerYes:
			st.GatePassed = true
			st.Interrupt = nil
			return o.runTurn(ctx, st)
		case hitl.AnswerNo:
			return o.finish(ctx, st, canceledText(st.Language))
		default:
			// Anything else abandons the pending action and is treated
			// as a brand-new request.
			_ = o.checkpoints.Delete(ctx, st.UserID)
			return o.runTurn(ctx, o.newState(inbound))
		}

	case protocol.InterruptDisambiguation:
		return o.resumeDisambiguation(ctx, st, answer)
	}

	return nil, fmt.Errorf("unknown interrupt type %q", st.Interrupt.Type)
}

func (o *Orchestrator) resumeDisambiguation(ctx context.Context, st *State, answer hitl.Answer) (*protocol.Outcome, error) {
	if answer.Kind == hitl.AnswerNo {
		return o.finish(ctx, st, canceledText(st.Language))
	}
	pending := st.PendingStep
	if pending == nil || pending.Disambiguation == nil {
		return nil, fmt.Errorf("disambiguation interrupt without pending step")
	}

	res := entity.ApplySelection(answer.Text, pending.Disambiguation, pending.Args)
	if res.Resolved == nil {
		// Invalid pick re-asks with the same candidates.
		interrupt := o.gate.CheckResolution(pending.StepID, pending.EntityType, res, st.Language)
		return o.suspend(ctx, st, interrupt)
	}

	o.memory.ClearDisambiguation(st.UserID)
	if out := st.Resolved[pending.StepID]; out != nil {
		out.Args = res.Resolved.Args
		out.Type = resolver.OutputExecute
	}
	st.Interrupt = nil
	st.PendingStep = nil
	return o.runTurn(ctx, st)
}

// runTurn drives the turn from wherever the state left off.
func (o *Orchestrator) runTurn(ctx context.Context, st *State) (*protocol.Outcome, error) {
	if st.Plan == nil {
		st.Plan = o.plan(ctx, st)
	}
	o.synthesizeSteps(st)

	if !st.GatePassed {
		interrupt := o.gate.CheckPlan(ctx, hitl.PlanCheck{
			Plan:        st.Plan,
			UserMessage: st.Message.Text,
			Language:    st.Language,
			Hints:       routing.Suggest(st.Message.Text),
		})
		if interrupt != nil {
			return o.suspend(ctx, st, interrupt)
		}
		st.GatePassed = true
	}

	interrupt, err := o.executePlan(ctx, st)
	if err != nil {
		return nil, err
	}
	if interrupt != nil {
		return o.suspend(ctx, st, interrupt)
	}

	return o.finish(ctx, st, o.composeReply(st))
}

func (o *Orchestrator) plan(ctx context.Context, st *State) *planner.PlanOutput {
	capabilities := make(map[protocol.Capability]bool)
	for _, c := range o.resolvers.Capabilities() {
		capabilities[c] = true
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.CallTimeout)
	defer cancel()
	return o.planner.Plan(callCtx, &planner.Input{
		Message:        st.Message.Text,
		Time:           timectx.At(st.Now, o.cfg.Timezone),
		Language:       st.Language,
		RecentMessages: o.memory.Recent(st.UserID, o.cfg.Memory.MaxContextMessages),
		Capabilities:   capabilities,
		Hints:          routing.Suggest(st.Message.Text),
		Clarification:  st.Clarification,
	})
}

// synthesizeSteps guarantees a runnable plan for conversational and
// meta intents that arrived with an empty step list.
func (o *Orchestrator) synthesizeSteps(st *State) {
	if len(st.Plan.Plan) > 0 {
		return
	}
	capability := protocol.CapabilityGeneral
	if st.Plan.IntentType == planner.IntentMeta {
		capability = protocol.CapabilityMeta
	}
	st.Plan.Plan = []planner.PlanStep{{
		ID:          "A",
		Capability:  capability,
		ActionHint:  "respond to the user",
		Constraints: planner.StepConstraints{RawMessage: st.Message.Text},
	}}
}

// executePlan runs the remaining steps in dependency order. Returns an
// interrupt when a step needs user input.
func (o *Orchestrator) executePlan(ctx context.Context, st *State) (*protocol.InterruptPayload, error) {
	for _, batch := range planner.TopologicalBatches(st.Plan.Plan) {
		var todo []planner.PlanStep
		for _, step := range batch {
			if !st.Completed[step.ID] {
				todo = append(todo, step)
			}
		}
		if len(todo) == 0 {
			continue
		}

		type stepOutcome struct {
			index     int
			interrupt *protocol.InterruptPayload
			pending   *PendingStep
		}
		var (
			mu       sync.Mutex
			outcomes []stepOutcome
		)

		g, gctx := errgroup.WithContext(ctx)
		for i, step := range todo {
			g.Go(func() error {
				interrupt, pending, err := o.runStep(gctx, st, step)
				if err != nil {
					return err
				}
				if interrupt != nil {
					mu.Lock()
					outcomes = append(outcomes, stepOutcome{index: i, interrupt: interrupt, pending: pending})
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if len(outcomes) > 0 {
			// With several suspended steps in one batch, ask about the
			// earliest one; the rest re-resolve on resume.
			sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].index < outcomes[b].index })
			st.PendingStep = outcomes[0].pending
			return outcomes[0].interrupt, nil
		}
	}
	return nil, nil
}

// runStep resolves and executes one step. A non-nil interrupt means the
// step (and turn) suspended.
func (o *Orchestrator) runStep(ctx context.Context, st *State, step planner.PlanStep) (*protocol.InterruptPayload, *PendingStep, error) {
	started := o.nowFn()
	ctx, span := observability.StartSpan(ctx, "pipeline.step")
	defer span.End()

	// Internal resolution errors become a clarification question rather
	// than a failed result; the user's rephrase replans the turn.
	out, err := o.resolveStep(ctx, st, step)
	if err != nil {
		o.logger.Error("Step resolution failed, asking the user to rephrase",
			"user", st.UserID, "step", step.ID, "error", err)
		return o.gate.ClarifyError(st.Language), nil, nil
	}

	args := out.Args
	if out.Type == resolver.OutputNeedsEntityResolution {
		resolution, interrupt, err := o.resolveEntities(ctx, st, step, out)
		if err != nil {
			o.logger.Error("Entity resolution failed, asking the user to rephrase",
				"user", st.UserID, "step", step.ID, "error", err)
			return o.gate.ClarifyError(st.Language), nil, nil
		}
		if interrupt != nil {
			return interrupt, &PendingStep{
				StepID:         step.ID,
				EntityType:     out.EntityType,
				Args:           out.Args,
				Disambiguation: resolution.Disambiguation,
			}, nil
		}
		args = resolution.Resolved.Args
		out.Args = args
		out.Type = resolver.OutputExecute
	}

	result := o.execute(ctx, st, step, out.EntityType, args)
	st.setResult(step.ID, result)
	o.observeStep(step.Capability, started)
	return nil, nil, nil
}

func (o *Orchestrator) resolveStep(ctx context.Context, st *State, step planner.PlanStep) (*resolver.Output, error) {
	if out := st.resolvedOutput(step.ID); out != nil {
		return out, nil
	}

	r, err := o.resolvers.Get(step.Capability)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.CallTimeout)
	defer cancel()
	out, err := r.Resolve(callCtx, &resolver.Input{
		Step:           step,
		Time:           timectx.At(st.Now, o.cfg.Timezone),
		Language:       st.Language,
		RecentMessages: o.memory.Recent(st.UserID, o.cfg.Memory.MaxContextMessages),
		UserID:         st.UserID,
	})
	if err != nil {
		return nil, err
	}
	st.setResolved(step.ID, out)
	return out, nil
}

func (o *Orchestrator) resolveEntities(ctx context.Context, st *State, step planner.PlanStep, out *resolver.Output) (entity.Resolution, *protocol.InterruptPayload, error) {
	er, err := o.entities.Get(out.EntityType)
	if err != nil {
		return entity.Resolution{}, nil, err
	}

	op, _ := out.Args["operation"].(string)
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.CallTimeout)
	defer cancel()
	res := er.Resolve(callCtx, op, out.Args, entity.Context{
		UserID:   st.UserID,
		Language: st.Language,
		Time:     timectx.At(st.Now, o.cfg.Timezone),
	})

	interrupt := o.gate.CheckResolution(step.ID, out.EntityType, res, st.Language)
	if interrupt != nil && res.Disambiguation != nil {
		o.memory.StoreDisambiguation(st.UserID, interrupt.Metadata.Candidates, out.EntityType)
	}
	return res, interrupt, nil
}

// execute applies the resolved operation through the capability's
// executor. Conversational steps carry their text inline.
func (o *Orchestrator) execute(ctx context.Context, st *State, step planner.PlanStep, entityType string, args map[string]any) *StepResult {
	op, _ := args["operation"].(string)
	result := &StepResult{
		StepID:     step.ID,
		Capability: step.Capability,
		Operation:  op,
		Success:    true,
	}

	if entityType == "" {
		result.Text, _ = args["text"].(string)
		return result
	}

	exec, err := o.executors.Get(entityType)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.CallTimeout)
	defer cancel()

	if op == "list" {
		entities, err := exec.List(callCtx, st.UserID, listFilter(args))
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			return result
		}
		result.Data = map[string]any{"entities": entities}
		return result
	}

	data, err := exec.Mutate(callCtx, st.UserID, op, args)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}
	result.Data = data
	return result
}

func listFilter(args map[string]any) executor.ListFilter {
	var filter executor.ListFilter
	if t, ok := parseTimeArg(args["timeMin"]); ok {
		filter.TimeMin = &t
	}
	if t, ok := parseTimeArg(args["timeMax"]); ok {
		filter.TimeMax = &t
	}
	if q, ok := args["query"].(string); ok {
		filter.Query = q
	}
	return filter
}

func parseTimeArg(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// suspend checkpoints the turn and surfaces the interrupt question.
func (o *Orchestrator) suspend(ctx context.Context, st *State, interrupt *protocol.InterruptPayload) (*protocol.Outcome, error) {
	st.Interrupt = interrupt

	data, err := st.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize turn state: %w", err)
	}
	if err := o.checkpoints.Save(ctx, &checkpoint.Record{
		UserID: st.UserID,
		TurnID: st.TurnID,
		State:  data,
	}); err != nil {
		return nil, fmt.Errorf("failed to checkpoint turn: %w", err)
	}

	o.memory.Append(st.UserID, protocol.RoleAssistant, interrupt.Question, memory.AppendOptions{
		ReplyToExternalID: st.Message.MessageExternalID,
	})
	o.logger.Info("Turn suspended",
		"user", st.UserID, "turn", st.TurnID, "type", interrupt.Type)
	return &protocol.Outcome{Interrupt: interrupt}, nil
}

// finish emits the terminal reply and clears the checkpoint.
func (o *Orchestrator) finish(ctx context.Context, st *State, text string) (*protocol.Outcome, error) {
	_ = o.checkpoints.Delete(ctx, st.UserID)
	reply := o.finishReply(&st.Message, text)
	return &protocol.Outcome{Reply: reply}, nil
}

func (o *Orchestrator) finishReply(inbound *protocol.InboundMessage, text string) *protocol.AssistantReply {
	o.memory.Append(inbound.UserID, protocol.RoleAssistant, text, memory.AppendOptions{
		ReplyToExternalID: inbound.MessageExternalID,
	})
	return &protocol.AssistantReply{
		Text:             text,
		ExternalIDToMark: inbound.MessageExternalID,
	}
}

// priorReply finds the assistant reply already sent for this external
// id, if the message was delivered before.
func (o *Orchestrator) priorReply(inbound *protocol.InboundMessage) *protocol.AssistantReply {
	if o.memory.FindByExternalID(inbound.UserID, inbound.MessageExternalID) == nil {
		return nil
	}
	o.logger.Info("Duplicate delivery, re-emitting prior reply",
		"user", inbound.UserID, "external_id", inbound.MessageExternalID)
	for _, msg := range o.memory.Recent(inbound.UserID, o.cfg.Memory.MaxContextMessages) {
		if msg.Role == protocol.RoleAssistant && msg.ReplyToExternalID == inbound.MessageExternalID {
			return &protocol.AssistantReply{Text: msg.Content, ExternalIDToMark: inbound.MessageExternalID}
		}
	}
	// Handled but no reply recorded (e.g. evicted); acknowledge quietly.
	return &protocol.AssistantReply{
		Text:             ackText(o.defaultLanguage(inbound.Text)),
		ExternalIDToMark: inbound.MessageExternalID,
	}
}

func (o *Orchestrator) userLock(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[userID] = lock
	}
	return lock
}

func (o *Orchestrator) observeTurn(outcome string, started time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveTurn(outcome, o.nowFn().Sub(started))
	}
}

func (o *Orchestrator) observeStep(capability protocol.Capability, started time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStep(string(capability), o.nowFn().Sub(started))
	}
}

func (st *State) setResult(stepID string, result *StepResult) {
	st.resultsMu.Lock()
	defer st.resultsMu.Unlock()
	st.Results[stepID] = result
	st.Completed[stepID] = true
}

func (st *State) setResolved(stepID string, out *resolver.Output) {
	st.resultsMu.Lock()
	defer st.resultsMu.Unlock()
	st.Resolved[stepID] = out
}

func (st *State) resolvedOutput(stepID string) *resolver.Output {
	st.resultsMu.Lock()
	defer st.resultsMu.Unlock()
	return st.Resolved[stepID]
}
