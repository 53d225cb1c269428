package dialog

import "strings"

// InterruptKind classifies a turn claimed by the global interrupt layer.
type InterruptKind int

const (
	// InterruptNone means the input is ordinary and normal resumption applies.
	InterruptNone InterruptKind = iota
	// InterruptCancel clears the whole stack and acknowledges.
	InterruptCancel
	// InterruptHelp emits the help text and re-issues the pending prompt.
	InterruptHelp
)

// Interrupts is the flow-agnostic meta-command layer evaluated before every
// normal resumption. Every flow inherits it by composition: the engine
// consults it at resume time, so no flow re-implements cancel or help.
type Interrupts struct {
	// CancelAck is sent after the stack has been cleared.
	CancelAck string
	// HelpText is sent before the pending prompt is re-issued.
	HelpText string

	cancelWords map[string]struct{}
	helpWords   map[string]struct{}
}

// NewInterrupts builds an interrupt policy over the given trigger words.
// Matching is case-insensitive against the whole (trimmed) message.
func NewInterrupts(cancelWords, helpWords []string, cancelAck, helpText string) *Interrupts {
	i := &Interrupts{
		CancelAck:   cancelAck,
		HelpText:    helpText,
		cancelWords: make(map[string]struct{}, len(cancelWords)),
		helpWords:   make(map[string]struct{}, len(helpWords)),
	}
	for _, w := range cancelWords {
		i.cancelWords[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range helpWords {
		i.helpWords[strings.ToLower(w)] = struct{}{}
	}
	return i
}

// DefaultInterrupts returns the standard cancel/help policy.
func DefaultInterrupts() *Interrupts {
	return NewInterrupts(
		[]string{"cancel", "quit", "stop"},
		[]string{"help", "?"},
		"Cancelling...",
		"Show me what you need help with and I'll do my best. Say \"cancel\" to start over.",
	)
}

// Check classifies the input. It never mutates any state.
func (i *Interrupts) Check(input string) InterruptKind {
	word := strings.ToLower(strings.TrimSpace(input))
	if _, ok := i.cancelWords[word]; ok {
		return InterruptCancel
	}
	if _, ok := i.helpWords[word]; ok {
		return InterruptHelp
	}
	return InterruptNone
}
