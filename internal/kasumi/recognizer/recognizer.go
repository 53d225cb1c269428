// Package recognizer maps raw utterance text to an intent plus extracted
// entities (room and capability slots).
//
// Intents form a closed set: every value a Recognizer may produce is declared
// here, and dispatch over them is a total mapping rather than a string switch
// with a silent default. Anything a provider returns outside the set
// collapses to IntentNone.
package recognizer

import "context"

// Intent is one member of the closed intent union.
type Intent string

const (
	// IntentNone means the utterance matched nothing with usable confidence.
	IntentNone Intent = "None"
	// IntentAuthorize asks to connect a SmartThings location.
	IntentAuthorize Intent = "Authorize"
	// IntentQueryState asks for a device reading in a room ("what's the
	// temperature in the kitchen?").
	IntentQueryState Intent = "QueryState"
	// IntentCheckOccupancy asks whether a space is occupied.
	IntentCheckOccupancy Intent = "CheckOccupancy"
	// IntentChitChat is small talk answered from the QnA knowledge base.
	IntentChitChat Intent = "ChitChat"
)

// All lists every member of the intent union. Dispatch tables are checked
// against it for totality.
var All = []Intent{IntentNone, IntentAuthorize, IntentQueryState, IntentCheckOccupancy, IntentChitChat}

// ParseIntent collapses an arbitrary label onto the closed set.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentAuthorize, IntentQueryState, IntentCheckOccupancy, IntentChitChat:
		return Intent(s)
	}
	return IntentNone
}

// ScoredIntent is one candidate intent with its confidence score.
type ScoredIntent struct {
	Intent Intent
	Score  float64
}

// Entities carries the slot values extracted from the utterance. Immutable
// once constructed.
type Entities struct {
	// Room is the free-text room mention ("living room"), empty when absent.
	Room string
	// Capability is the device capability implied by the utterance
	// ("temperatureMeasurement"), empty when absent.
	Capability string
}

// Result is the outcome of recognizing one utterance.
type Result struct {
	TopIntent Intent
	Intents   []ScoredIntent
	Entities  Entities
}

// TopIntent returns the highest-confidence intent of a result. Safe on nil:
// a missing result recognizes as IntentNone.
func TopIntent(r *Result) Intent {
	if r == nil {
		return IntentNone
	}
	return r.TopIntent
}

// Recognizer resolves an utterance to an intent and entities.
type Recognizer interface {
	Recognize(ctx context.Context, utterance string) (*Result, error)
	// Configured reports whether the recognizer can actually run; when false
	// the router skips recognition and uses the fallback path.
	Configured() bool
}
