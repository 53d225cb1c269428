package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
	"github.com/kasumi-bot/kasumi/internal/kasumi/smartthings"
)

// readingNames maps device capabilities to the word used in chat replies.
// Unknown capabilities fall back to the raw capability name.
var readingNames = map[string]string{
	"temperatureMeasurement":      "temperature",
	"relativeHumidityMeasurement": "humidity",
	"illuminanceMeasurement":      "illuminance",
}

func readingName(capability string) string {
	if name, ok := readingNames[capability]; ok {
		return name
	}
	return capability
}

// queryCommandStep requests a token before every query. The token is never
// cached between turns: by the time the user answers a prompt a stored token
// may have expired, and re-running the sign-in is free when the provider
// still holds a session.
func (b *Bot) queryCommandStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	return sc.Prompt(ctx, dialog.Prompt{
		Kind:       dialog.PromptOAuth,
		Text:       "Powered by SmartThings",
		Connection: b.connection,
	})
}

// queryProcessStep runs the aggregation and reports the result. Every
// failure mode ends as a plain chat message; nothing here fails the turn.
func (b *Bot) queryProcessStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	tok, ok := sc.Result.(dialog.TokenResponse)
	if !ok || tok.Token == "" {
		if err := sc.SendActivity(ctx, dialog.Activity{Text: "We couldn't log you in. Please try again later."}); err != nil {
			return dialog.StepResult{}, err
		}
		return sc.EndDialog(nil)
	}

	room, _ := sc.State().String("room")
	capability, _ := sc.State().String("capability")
	if capability == "" {
		capability = "temperatureMeasurement"
	}
	if room == "" {
		msg := "I couldn't tell which room you meant. Try something like \"What's the temperature in the kitchen?\"."
		if err := sc.SendActivity(ctx, dialog.Activity{Text: msg}); err != nil {
			return dialog.StepResult{}, err
		}
		return sc.EndDialog(nil)
	}

	agg, err := b.devices.AggregateRoomReadings(ctx, tok.Token, room, capability)
	if err != nil {
		return b.reportQueryFailure(ctx, sc, room, capability, err)
	}

	avg, ok := agg.AverageValue()
	if !ok {
		msg := fmt.Sprintf("The devices in %s didn't report a numeric %s reading.", agg.Room.Name, readingName(capability))
		if err := sc.SendActivity(ctx, dialog.Activity{Text: msg}); err != nil {
			return dialog.StepResult{}, err
		}
		return sc.EndDialog(nil)
	}

	msg := fmt.Sprintf("Average %s reading in %s is %d%s", readingName(capability), agg.Room.Name, avg, agg.Unit())
	if n := len(agg.Failures); n > 0 {
		msg += fmt.Sprintf(" (%d of %d devices did not respond)", n, n+len(agg.Readings))
	}
	if err := sc.SendActivity(ctx, dialog.Activity{Text: msg}); err != nil {
		return dialog.StepResult{}, err
	}
	return sc.EndDialog(nil)
}

// reportQueryFailure translates aggregation errors into user messages.
func (b *Bot) reportQueryFailure(ctx context.Context, sc *dialog.StepContext, room, capability string, err error) (dialog.StepResult, error) {
	var notFound *smartthings.RoomNotFoundError
	var noDevices *smartthings.NoDevicesError

	var msg string
	switch {
	case errors.As(err, &notFound):
		msg = fmt.Sprintf("I couldn't find a room called %q in your location.", notFound.Room)
	case errors.As(err, &noDevices):
		msg = fmt.Sprintf("I didn't find any devices reporting %s in %s.", readingName(capability), noDevices.Room)
	case errors.Is(err, smartthings.ErrAllStatusFetchesFailed):
		msg = fmt.Sprintf("None of the devices in %s responded. Please try again later.", room)
	default:
		slog.Warn("bot: device query failed", "room", room, "capability", capability, "err", err)
		msg = "Something went wrong talking to SmartThings. Please try again later."
	}

	if err := sc.SendActivity(ctx, dialog.Activity{Text: msg}); err != nil {
		return dialog.StepResult{}, err
	}
	return sc.EndDialog(nil)
}
