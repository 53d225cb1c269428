package dialog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PromptKind selects the input discipline of a prompt.
type PromptKind string

const (
	// PromptText accepts any non-empty reply.
	PromptText PromptKind = "text"
	// PromptChoice accepts one entry from an enumerated list, by number,
	// exact label, or unambiguous substring. Invalid replies re-ask.
	PromptChoice PromptKind = "choice"
	// PromptConfirm accepts a yes/no answer.
	PromptConfirm PromptKind = "confirm"
	// PromptOAuth does not consume user text: the engine begins a sign-in
	// attempt with the provider, sends a sign-in card, and blocks on the
	// attempt up to Timeout. The next step receives a TokenResponse.
	PromptOAuth PromptKind = "oauth"
)

// Prompt describes a suspend request: the question to ask, how to interpret
// the answer, and what to say when the answer does not parse. Pending prompts
// are serialized with the frame so a suspended conversation survives a
// process restart.
type Prompt struct {
	Kind      PromptKind `json:"kind"`
	Text      string     `json:"text"`
	RetryText string     `json:"retry_text,omitempty"`
	Choices   []string   `json:"choices,omitempty"`

	// Connection and Timeout apply to PromptOAuth only.
	Connection string        `json:"connection,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// ChoiceResult is the resolved value of a choice prompt.
type ChoiceResult struct {
	Index int
	Value string
}

// ConfirmResult is the resolved value of a confirm prompt.
type ConfirmResult struct {
	Confirmed bool
}

// render builds the outbound text for a prompt. retry selects the retry
// wording; choice prompts always list their options.
func (p *Prompt) render(retry bool) string {
	text := p.Text
	if retry && p.RetryText != "" {
		text = p.RetryText
	}

	switch p.Kind {
	case PromptChoice:
		var b strings.Builder
		b.WriteString(text)
		for i, c := range p.Choices {
			fmt.Fprintf(&b, "\n%d. %s", i+1, c)
		}
		return b.String()
	case PromptConfirm:
		return text + " (yes/no)"
	default:
		return text
	}
}

// resolve interprets the user's reply for a pending prompt. ok reports
// whether the reply was valid; an invalid reply leaves the prompt pending
// and the caller re-asks.
func (p *Prompt) resolve(input string) (value any, ok bool) {
	input = strings.TrimSpace(input)

	switch p.Kind {
	case PromptText:
		if input == "" {
			return nil, false
		}
		return input, true

	case PromptChoice:
		if idx, ok := matchChoice(p.Choices, input); ok {
			return ChoiceResult{Index: idx, Value: p.Choices[idx]}, true
		}
		return nil, false

	case PromptConfirm:
		switch strings.ToLower(input) {
		case "yes", "y", "yeah", "yep", "sure", "ok", "true":
			return ConfirmResult{Confirmed: true}, true
		case "no", "n", "nope", "nah", "false":
			return ConfirmResult{Confirmed: false}, true
		}
		return nil, false
	}

	return nil, false
}

// matchChoice finds the choice selected by input: a 1-based number, an exact
// label (case-insensitive), or the first label containing the input as a
// substring.
func matchChoice(choices []string, input string) (int, bool) {
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(choices) {
			return n - 1, true
		}
		return 0, false
	}

	lower := strings.ToLower(input)
	for i, c := range choices {
		if strings.ToLower(c) == lower {
			return i, true
		}
	}
	if lower == "" {
		return 0, false
	}
	for i, c := range choices {
		if strings.Contains(strings.ToLower(c), lower) {
			return i, true
		}
	}
	return 0, false
}
