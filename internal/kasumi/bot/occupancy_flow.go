package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
	"github.com/kasumi-bot/kasumi/internal/kasumi/smartthings"
)

// occupancyCommandStep requests a fresh token, same as the query flow.
func (b *Bot) occupancyCommandStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	return sc.Prompt(ctx, dialog.Prompt{
		Kind:       dialog.PromptOAuth,
		Text:       "Powered by SmartThings",
		Connection: b.connection,
	})
}

// occupancyProcessStep counts presence sensors reporting someone present
// across the account's location and reports the tally.
func (b *Bot) occupancyProcessStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	tok, ok := sc.Result.(dialog.TokenResponse)
	if !ok || tok.Token == "" {
		if err := sc.SendActivity(ctx, dialog.Activity{Text: "We couldn't log you in. Please try again later."}); err != nil {
			return dialog.StepResult{}, err
		}
		return sc.EndDialog(nil)
	}

	occ, err := b.devices.CheckOccupancy(ctx, tok.Token)
	if err != nil {
		var noDevices *smartthings.NoDevicesError
		var msg string
		switch {
		case errors.As(err, &noDevices):
			msg = "I didn't find any presence sensors in your location."
		case errors.Is(err, smartthings.ErrAllStatusFetchesFailed):
			msg = "None of the presence sensors responded. Please try again later."
		default:
			slog.Warn("bot: occupancy check failed", "err", err)
			msg = "Something went wrong talking to SmartThings. Please try again later."
		}
		if err := sc.SendActivity(ctx, dialog.Activity{Text: msg}); err != nil {
			return dialog.StepResult{}, err
		}
		return sc.EndDialog(nil)
	}

	var msg string
	if occ.Present == 0 {
		msg = fmt.Sprintf("Nobody seems to be around at %s right now (0 of %d sensors report presence).", occ.Location.Name, occ.Total)
	} else {
		msg = fmt.Sprintf("%s looks occupied: %d of %d presence sensors report someone present.", occ.Location.Name, occ.Present, occ.Total)
	}
	if n := len(occ.Failures); n > 0 {
		msg += fmt.Sprintf(" %d sensors did not respond.", n)
	}
	if err := sc.SendActivity(ctx, dialog.Activity{Text: msg}); err != nil {
		return dialog.StepResult{}, err
	}
	return sc.EndDialog(nil)
}
