package bot

import (
	"context"
	"log/slog"

	"github.com/kasumi-bot/kasumi/common/trace"
	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
	"github.com/kasumi-bot/kasumi/internal/kasumi/recognizer"
)

// HandleTurn processes one inbound message for one conversation. It emits a
// typing indicator, answers chit-chat directly when no flow is active, and
// otherwise resumes the dialog stack, starting the main flow whenever the
// stack reports empty. The (possibly mutated) stack is returned for the
// caller to persist.
//
// The caller must serialize HandleTurn per conversation; the stack is not
// safe for concurrent turns.
func (b *Bot) HandleTurn(ctx context.Context, rsp Responder, stack *dialog.Stack, input string) (*dialog.Stack, error) {
	if err := rsp.SendTyping(ctx); err != nil {
		slog.Warn("bot: typing indicator failed", "turn", trace.FromContext(ctx), "err", err)
	}

	dc := dialog.NewContext(dialog.Config{
		Registry:   b.registry,
		Responder:  rsp,
		SignIn:     b.signIn,
		Interrupts: b.interrupts,
		Stack:      stack,
	})

	if dc.Stack().Depth() == 0 && b.answerChitChat(ctx, rsp, input) {
		return dc.Stack(), nil
	}

	res, err := dc.ResumeTurn(ctx, input)
	if err != nil {
		return nil, err
	}
	if res.Status == dialog.StatusEmpty {
		if _, err := dc.BeginFlow(ctx, FlowMain, nil); err != nil {
			return nil, err
		}
	}
	return dc.Stack(), nil
}

// answerChitChat handles small talk before any flow starts: when the
// recognizer classifies the message as chit-chat and the knowledge base has
// an answer, the top answer is sent verbatim and no flow begins. Any failure
// along the way falls through to normal dispatch.
func (b *Bot) answerChitChat(ctx context.Context, rsp Responder, input string) bool {
	if b.qna == nil || !b.qna.Configured() {
		return false
	}
	if b.recognizer == nil || !b.recognizer.Configured() {
		return false
	}

	res, err := b.recognizer.Recognize(ctx, input)
	if err != nil {
		slog.Warn("bot: recognition failed", "turn", trace.FromContext(ctx), "err", err)
		return false
	}
	if recognizer.TopIntent(res) != recognizer.IntentChitChat {
		return false
	}

	answers, err := b.qna.GetAnswers(ctx, input)
	if err != nil {
		slog.Warn("bot: knowledge base lookup failed", "turn", trace.FromContext(ctx), "err", err)
		return false
	}
	if len(answers) == 0 {
		return false
	}
	if err := rsp.SendActivity(ctx, dialog.Activity{Text: answers[0].Answer}); err != nil {
		slog.Warn("bot: sending chit-chat answer failed", "turn", trace.FromContext(ctx), "err", err)
	}
	return true
}
