package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
	"github.com/kasumi-bot/kasumi/internal/kasumi/recognizer"
)

const (
	defaultGreeting = "What can I help you with today?\nSay something like \"What's going on in Apollo right now?\""
	restartGreeting = "What else can I do for you?"
)

// introStep greets the user and prompts for a command. On a restart the
// greeting stored by finalStep is used instead of the first-contact one.
// With no recognizer configured there is nothing to prompt for; the flow
// moves straight on so the act step can offer authorization.
func (b *Bot) introStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	if b.recognizer == nil || !b.recognizer.Configured() {
		note := "NOTE: the intent recognizer is not configured, so I can't understand free-text commands yet. Let's connect your SmartThings account instead."
		if err := sc.SendActivity(ctx, dialog.Activity{Text: note}); err != nil {
			return dialog.StepResult{}, err
		}
		return sc.Next(nil)
	}

	text := defaultGreeting
	if msg, ok := sc.State().String("restart_msg"); ok && msg != "" {
		text = msg
	}
	return sc.Prompt(ctx, dialog.Prompt{Kind: dialog.PromptText, Text: text})
}

// actStep recognizes the user's command and dispatches it to a flow. The
// step runs twice per dispatch: once to begin the child flow, and again when
// the child returns, at which point the result is forwarded to the final
// step untouched.
func (b *Bot) actStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	if done, _ := sc.State().Bool("dispatched"); done {
		return sc.Next(sc.Result)
	}

	if b.recognizer == nil || !b.recognizer.Configured() {
		sc.State()["dispatched"] = true
		return sc.BeginDialog(FlowAuthorize, nil)
	}

	utterance, _ := sc.Result.(string)
	res, err := b.recognizer.Recognize(ctx, utterance)
	if err != nil {
		slog.Warn("bot: recognition failed", "err", err)
		res = nil
	}

	intent := recognizer.TopIntent(res)
	flowID := flowFor[intent]
	if flowID == "" {
		if intent == recognizer.IntentChitChat && b.answerQuestion(ctx, sc, utterance) {
			return sc.Next(nil)
		}
		text := fmt.Sprintf("Sorry, I didn't get that. Please try asking in a different way (intent was %s).", intent)
		if err := sc.SendActivity(ctx, dialog.Activity{Text: text}); err != nil {
			return dialog.StepResult{}, err
		}
		return sc.Next(nil)
	}

	state := dialog.State{}
	if flowID == FlowQuery {
		state["room"] = res.Entities.Room
		state["capability"] = res.Entities.Capability
	}
	sc.State()["dispatched"] = true
	return sc.BeginDialog(flowID, state)
}

// finalStep closes the round: a successful authorization is confirmed by
// naming the connected location, then the main flow replaces itself with a
// varied greeting so the conversation continues indefinitely.
func (b *Bot) finalStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	if auth, ok := sc.Result.(AuthorizationResult); ok && auth.Token != "" {
		locs, err := b.devices.Locations(ctx, auth.Token)
		switch {
		case err != nil:
			slog.Warn("bot: listing locations after authorization failed", "err", err)
		case len(locs) == 0:
			slog.Warn("bot: authorized account has no locations")
		default:
			msg := fmt.Sprintf("I connected your SmartThings location %s.", locs[0].Name)
			if err := sc.SendActivity(ctx, dialog.Activity{Text: msg}); err != nil {
				return dialog.StepResult{}, err
			}
		}
	}
	return sc.ReplaceDialog(FlowMain, dialog.State{"restart_msg": restartGreeting})
}

// answerQuestion sends the knowledge base's top answer for chit-chat that
// arrives mid-conversation. Reports whether an answer was sent.
func (b *Bot) answerQuestion(ctx context.Context, sc *dialog.StepContext, question string) bool {
	if b.qna == nil || !b.qna.Configured() {
		return false
	}
	answers, err := b.qna.GetAnswers(ctx, question)
	if err != nil || len(answers) == 0 {
		return false
	}
	if err := sc.SendActivity(ctx, dialog.Activity{Text: answers[0].Answer}); err != nil {
		slog.Warn("bot: sending chit-chat answer failed", "err", err)
	}
	return true
}
