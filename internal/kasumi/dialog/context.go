package dialog

import (
	"context"
	"fmt"
	"log/slog"
)

// stepOp encodes which operation a step returned.
type stepOp int

const (
	opWaiting stepOp = iota // prompt issued, turn ends
	opNext                  // advance to the next step with a value
	opBegin                 // push a child flow
	opEnd                   // pop this flow, deliver a value to the caller
	opReplace               // pop and immediately re-push a flow
)

// StepResult is the opaque outcome of one step execution, constructed only
// through the StepContext operations.
type StepResult struct {
	op     stepOp
	value  any
	flowID string
	state  State
}

// Context drives the dialog stack for one conversation during one turn. It
// is not safe for concurrent use; the application serializes turns per
// conversation.
type Context struct {
	registry   *Registry
	responder  Responder
	signIn     SignInProvider
	interrupts *Interrupts
	stack      *Stack
}

// Config assembles a dialog Context.
type Config struct {
	Registry  *Registry
	Responder Responder
	// SignIn may be nil when no flow uses OAuth prompts.
	SignIn SignInProvider
	// Interrupts may be nil to disable the cancel/help layer.
	Interrupts *Interrupts
	// Stack is the conversation's current stack, typically restored from a
	// session snapshot. Nil means a fresh conversation.
	Stack *Stack
}

// NewContext creates a dialog context over the given stack.
func NewContext(cfg Config) *Context {
	if cfg.Stack == nil {
		cfg.Stack = NewStack()
	}
	return &Context{
		registry:   cfg.Registry,
		responder:  cfg.Responder,
		signIn:     cfg.SignIn,
		interrupts: cfg.Interrupts,
		stack:      cfg.Stack,
	}
}

// Stack returns the underlying stack, for persistence after the turn.
func (dc *Context) Stack() *Stack {
	return dc.stack
}

// ResumeTurn feeds the user's latest input to the active frame. With an
// empty stack it reports StatusEmpty and the caller begins the default flow.
// The interrupt layer runs first and may claim the turn entirely.
func (dc *Context) ResumeTurn(ctx context.Context, input string) (TurnResult, error) {
	if dc.stack.Depth() == 0 {
		return TurnResult{Status: StatusEmpty}, nil
	}

	if dc.interrupts != nil {
		switch dc.interrupts.Check(input) {
		case InterruptCancel:
			dc.CancelAll()
			if err := dc.responder.SendActivity(ctx, Activity{Text: dc.interrupts.CancelAck}); err != nil {
				return TurnResult{}, err
			}
			return TurnResult{Status: StatusEmpty}, nil

		case InterruptHelp:
			// Help never consumes the turn's real input: the same prompt is
			// re-issued and depth and index stay untouched.
			if err := dc.responder.SendActivity(ctx, Activity{Text: dc.interrupts.HelpText}); err != nil {
				return TurnResult{}, err
			}
			if p := dc.stack.Top().Pending; p != nil {
				if err := dc.responder.SendActivity(ctx, Activity{Text: p.render(false)}); err != nil {
					return TurnResult{}, err
				}
			}
			return TurnResult{Status: StatusWaiting}, nil
		}
	}

	frame := dc.stack.Top()
	var result any = input
	if p := frame.Pending; p != nil {
		value, ok := p.resolve(input)
		if !ok {
			// Invalid reply: re-ask with the retry wording, stay suspended.
			if err := dc.responder.SendActivity(ctx, Activity{Text: p.render(true)}); err != nil {
				return TurnResult{}, err
			}
			return TurnResult{Status: StatusWaiting}, nil
		}
		frame.Pending = nil
		result = value
	}

	return dc.run(ctx, frame, result)
}

// BeginFlow pushes a new frame for flowID and executes its first step
// synchronously within the current turn; the flow may complete or suspend on
// that very first step.
func (dc *Context) BeginFlow(ctx context.Context, flowID string, state State) (TurnResult, error) {
	if _, ok := dc.registry.Lookup(flowID); !ok {
		return TurnResult{}, fmt.Errorf("dialog: unknown flow %q", flowID)
	}
	if state == nil {
		state = State{}
	}
	frame := &Frame{FlowID: flowID, State: state}
	dc.stack.push(frame)
	return dc.run(ctx, frame, nil)
}

// CancelAll clears the entire stack unconditionally.
func (dc *Context) CancelAll() {
	dc.stack.Clear()
}

// run executes steps starting at frame's current index, interpreting each
// step's operation and unwinding synchronously until a prompt suspends or
// the stack empties. Exactly one step executes per loop iteration.
func (dc *Context) run(ctx context.Context, frame *Frame, input any) (TurnResult, error) {
	for {
		flow, ok := dc.registry.Lookup(frame.FlowID)
		if !ok {
			return TurnResult{}, fmt.Errorf("dialog: frame references unknown flow %q", frame.FlowID)
		}

		// Stepping past the last step ends the flow with the current value.
		if frame.Index >= len(flow.Steps) {
			res, done := dc.unwind(input)
			if done {
				return res, nil
			}
			frame = dc.stack.Top()
			continue
		}

		sc := &StepContext{dc: dc, frame: frame, Result: input}
		sr, err := flow.Steps[frame.Index](ctx, sc)
		if err != nil {
			return TurnResult{}, fmt.Errorf("dialog: flow %q step %d: %w", frame.FlowID, frame.Index, err)
		}

		switch sr.op {
		case opWaiting:
			return TurnResult{Status: StatusWaiting}, nil

		case opNext:
			frame.Index++
			input = sr.value

		case opBegin:
			// Delegation: the parent's index is left unchanged so the same
			// step re-executes with the child's return value.
			child := &Frame{FlowID: sr.flowID, State: sr.state}
			dc.stack.push(child)
			frame = child
			input = nil

		case opEnd:
			res, done := dc.unwind(sr.value)
			if done {
				return res, nil
			}
			frame = dc.stack.Top()
			input = sr.value

		case opReplace:
			dc.stack.pop()
			frame = &Frame{FlowID: sr.flowID, State: sr.state}
			dc.stack.push(frame)
			input = nil
		}
	}
}

// unwind pops the active frame. done reports that the stack emptied and the
// turn is complete with value; otherwise the parent frame resumes at its
// current step.
func (dc *Context) unwind(value any) (TurnResult, bool) {
	dc.stack.pop()
	if dc.stack.Depth() == 0 {
		return TurnResult{Status: StatusComplete, Value: value}, true
	}
	return TurnResult{}, false
}

// StepContext is the API surface a step sees: the frame's mutable state, the
// most recent result value, and the suspend/complete/delegate operations.
type StepContext struct {
	dc    *Context
	frame *Frame

	// Result is the value produced by the prior step's prompt resolution or
	// a child flow's completion. Nil on a flow's first execution.
	Result any
}

// State returns the frame's mutable state map.
func (sc *StepContext) State() State {
	if sc.frame.State == nil {
		sc.frame.State = State{}
	}
	return sc.frame.State
}

// SendActivity emits an informational message without suspending.
func (sc *StepContext) SendActivity(ctx context.Context, a Activity) error {
	return sc.dc.responder.SendActivity(ctx, a)
}

// Prompt suspends the flow on a question. The resolved answer is delivered
// to the following step. OAuth prompts resolve within the same tick: the
// engine sends the sign-in card and blocks on the provider up to the prompt
// timeout, then advances with a TokenResponse (empty on failure or timeout).
func (sc *StepContext) Prompt(ctx context.Context, p Prompt) (StepResult, error) {
	if p.Kind == PromptOAuth {
		return sc.oauthPrompt(ctx, p)
	}

	if err := sc.dc.responder.SendActivity(ctx, Activity{Text: p.render(false)}); err != nil {
		return StepResult{}, err
	}
	pending := p
	sc.frame.Pending = &pending
	sc.frame.Index++
	return StepResult{op: opWaiting}, nil
}

// oauthPrompt runs the sign-in delegate. Provider failures resolve as an
// empty token so the flow's next step can report a login failure to the
// user instead of the turn crashing.
func (sc *StepContext) oauthPrompt(ctx context.Context, p Prompt) (StepResult, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultSignInTimeout
	}

	if sc.dc.signIn == nil {
		slog.Warn("dialog: oauth prompt with no sign-in provider configured", "flow", sc.frame.FlowID)
		return StepResult{op: opNext, value: TokenResponse{}}, nil
	}

	sess, err := sc.dc.signIn.BeginSignIn(ctx, p.Connection)
	if err != nil {
		slog.Warn("dialog: begin sign-in failed", "flow", sc.frame.FlowID, "err", err)
		return StepResult{op: opNext, value: TokenResponse{}}, nil
	}

	card := &Card{
		Title:   "Sign In",
		Section: p.Text,
		Actions: []CardAction{{Label: "Sign In", URL: sess.URL()}},
	}
	if err := sc.dc.responder.SendActivity(ctx, Activity{Card: card}); err != nil {
		return StepResult{}, err
	}

	tok, err := sess.Await(ctx, timeout)
	if err != nil {
		slog.Warn("dialog: sign-in attempt failed", "flow", sc.frame.FlowID, "err", err)
		return StepResult{op: opNext, value: TokenResponse{}}, nil
	}
	return StepResult{op: opNext, value: tok}, nil
}

// Next skips any remaining prompt in this step and advances to the next step
// with the given value, within the same tick.
func (sc *StepContext) Next(value any) (StepResult, error) {
	return StepResult{op: opNext, value: value}, nil
}

// BeginDialog delegates to a child flow. The current step's index is left
// unchanged; when the child completes, this same step re-executes with the
// child's return value as Result.
func (sc *StepContext) BeginDialog(flowID string, state State) (StepResult, error) {
	if _, ok := sc.dc.registry.Lookup(flowID); !ok {
		return StepResult{}, fmt.Errorf("dialog: unknown flow %q", flowID)
	}
	if state == nil {
		state = State{}
	}
	return StepResult{op: opBegin, flowID: flowID, state: state}, nil
}

// EndDialog completes this flow, optionally with a return value delivered to
// the caller's current step (or as the turn's final value at the stack root).
func (sc *StepContext) EndDialog(value any) (StepResult, error) {
	return StepResult{op: opEnd, value: value}, nil
}

// ReplaceDialog ends this flow and immediately begins another in its place,
// as one atomic stack operation.
func (sc *StepContext) ReplaceDialog(flowID string, state State) (StepResult, error) {
	if _, ok := sc.dc.registry.Lookup(flowID); !ok {
		return StepResult{}, fmt.Errorf("dialog: unknown flow %q", flowID)
	}
	if state == nil {
		state = State{}
	}
	return StepResult{op: opReplace, flowID: flowID, state: state}, nil
}
