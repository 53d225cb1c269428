// Package dialog implements the conversational orchestration engine: a
// stack-based state machine that threads a typed state object through ordered
// suspend/resume steps ("waterfall" flows), supports nested flows with return
// values, cancellation and restart, and evaluates cross-cutting interrupts
// (cancel / help) before every resumption.
//
// The engine is transport-agnostic: it emits outbound messages through the
// Responder interface and never renders channel-specific markup. It is also
// storage-agnostic: the caller loads a Stack at turn start (see RestoreStack)
// and persists its snapshot at turn end.
//
// Exactly one step executes synchronously per tick. A chain of immediate
// completions (a child flow returning a value that causes the parent step to
// also complete without suspending) unwinds within a single inbound message;
// nested-flow completion never introduces a turn boundary.
package dialog

import (
	"context"
	"fmt"
	"time"
)

// TurnStatus describes the outcome of processing one inbound message.
type TurnStatus int

const (
	// StatusEmpty means no flow is active; the caller should begin the
	// default flow. Also reported after a cancel interrupt clears the stack.
	StatusEmpty TurnStatus = iota
	// StatusWaiting means a prompt was issued and the turn is over; the
	// frame resumes when the next user message arrives.
	StatusWaiting
	// StatusComplete means the stack fully unwound; Value carries the
	// outermost flow's return value, if any.
	StatusComplete
)

// TurnResult is the outcome of resuming the dialog stack for one turn.
type TurnResult struct {
	Status TurnStatus
	Value  any
}

// Step is the atomic unit of a flow: given the current step context it
// returns one of the operations constructed via the StepContext methods
// (Prompt, BeginDialog, Next, EndDialog, ReplaceDialog).
type Step func(ctx context.Context, sc *StepContext) (StepResult, error)

// Flow is an immutable, named, ordered sequence of steps. Flows are
// registered once per process and shared read-only by every frame that
// references them; a frame only tracks its index and state.
type Flow struct {
	ID    string
	Steps []Step
}

// Registry holds all flow definitions known to the process.
type Registry struct {
	flows map[string]*Flow
}

// NewRegistry creates an empty flow registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*Flow)}
}

// Register adds a flow definition. Flow IDs must be unique and flows must
// declare at least one step.
func (r *Registry) Register(f *Flow) error {
	if f == nil || f.ID == "" {
		return fmt.Errorf("dialog: flow must have an ID")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("dialog: flow %q has no steps", f.ID)
	}
	if _, exists := r.flows[f.ID]; exists {
		return fmt.Errorf("dialog: flow %q already registered", f.ID)
	}
	r.flows[f.ID] = f
	return nil
}

// Lookup returns the flow registered under id.
func (r *Registry) Lookup(id string) (*Flow, bool) {
	f, ok := r.flows[id]
	return f, ok
}

// State is the free-form structured data owned exclusively by one flow
// instance. It must stay JSON-serializable: stick to strings, bools, numbers
// and nested maps/slices thereof so that a suspended frame survives a
// snapshot round trip.
type State map[string]any

// String reads a string value from the state map.
func (s State) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// Bool reads a boolean value from the state map.
func (s State) Bool(key string) (bool, bool) {
	v, ok := s[key].(bool)
	return v, ok
}

// Int reads an integer value from the state map. JSON decoding turns numbers
// into float64, so both representations are accepted.
func (s State) Int(key string) (int, bool) {
	switch v := s[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Activity is one outbound message: either plain text or a structured
// interactive card. The engine only constructs these payloads; rendering is
// the transport adapter's job.
type Activity struct {
	Text string
	Card *Card
}

// Card is a channel-neutral interactive payload: a section of text, a set of
// label/value fields, and an actions block with named buttons.
type Card struct {
	Title   string
	Section string
	Fields  []CardField
	Actions []CardAction
}

// CardField is one label/value pair on a card.
type CardField struct {
	Label string
	Value string
}

// CardAction is a named button. URL-bearing actions open a link; plain
// actions submit their Value as the user's reply.
type CardAction struct {
	Label string
	Value string
	URL   string
}

// Responder delivers outbound activities to the conversation's channel.
type Responder interface {
	SendActivity(ctx context.Context, a Activity) error
}

// TokenResponse is the result of an OAuth sign-in attempt. An empty Token
// denotes failure or timeout; the engine never distinguishes the two.
//
// Tokens are threaded through one flow instance as step results and frame
// state, and discarded when the flow ends. They are never written to the
// session store.
type TokenResponse struct {
	Token string
}

// SignInSession is one in-progress sign-in attempt with the external
// identity provider.
type SignInSession interface {
	// URL is the link the user opens to complete the sign-in.
	URL() string
	// Await blocks until the provider delivers a token or timeout elapses.
	// A timed-out attempt resolves with an empty TokenResponse, not an error.
	Await(ctx context.Context, timeout time.Duration) (TokenResponse, error)
}

// SignInProvider starts sign-in attempts against a named connection
// configured at the identity provider.
type SignInProvider interface {
	BeginSignIn(ctx context.Context, connection string) (SignInSession, error)
}

// DefaultSignInTimeout bounds how long an OAuth prompt waits for the
// identity provider before resolving with no token.
const DefaultSignInTimeout = 300 * time.Second
