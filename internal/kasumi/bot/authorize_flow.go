package bot

import (
	"context"
	"fmt"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
)

// AuthorizationResult is what the authorize flow returns to its caller when
// the user completes a sign-in. The token lives only for the rest of the
// turn; it is never written to the session store.
type AuthorizationResult struct {
	InstallationContext string
	AuthType            string
	Token               string
}

var (
	installationContexts = []string{"Everybody in this workspace", "Only full members", "Just me"}
	authTypes            = []string{"Personal Access Token (all available locations)", "OAuth 2.0 (single location)"}

	installationContextSummaries = []string{"everybody", "only full members", "just yourself"}
	authTypeSummaries            = []string{"a SmartThings personal access token", "a SmartThings OAuth 2.0 authorization"}
)

// authTypeOAuth is the index of the OAuth entry in authTypes.
const authTypeOAuth = 1

func (b *Bot) installationContextStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	// Callers may hand the answer in as initial flow state.
	if _, ok := sc.State().Int("installation_context"); ok {
		return sc.Next(nil)
	}
	return sc.Prompt(ctx, dialog.Prompt{
		Kind:      dialog.PromptChoice,
		Text:      "Who should be able to access this SmartThings location?",
		RetryText: "Sorry, please choose from the list.",
		Choices:   installationContexts,
	})
}

func (b *Bot) authTypeStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	if choice, ok := sc.Result.(dialog.ChoiceResult); ok {
		sc.State()["installation_context"] = choice.Index
	}
	if _, ok := sc.State().Int("auth_type"); ok {
		return sc.Next(nil)
	}
	return sc.Prompt(ctx, dialog.Prompt{
		Kind:      dialog.PromptChoice,
		Text:      "How do you want to authorize your account?",
		RetryText: "Sorry, please choose from the list.",
		Choices:   authTypes,
	})
}

// confirmStep summarizes the collected answers on a card and asks for a
// yes/no confirmation before anything touches the identity provider.
func (b *Bot) confirmStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	if choice, ok := sc.Result.(dialog.ChoiceResult); ok {
		sc.State()["auth_type"] = choice.Index
	}

	ici, _ := sc.State().Int("installation_context")
	ati, _ := sc.State().Int("auth_type")

	card := &dialog.Card{
		Title:   "Authorize SmartThings",
		Section: "Here is what you asked for:",
		Fields: []dialog.CardField{
			{Label: "Access", Value: summaryAt(installationContexts, ici)},
			{Label: "Method", Value: summaryAt(authTypes, ati)},
		},
	}
	if err := sc.SendActivity(ctx, dialog.Activity{Card: card}); err != nil {
		return dialog.StepResult{}, err
	}

	text := fmt.Sprintf("Please confirm, you want to authorize a location for %s, using %s. Is this correct?",
		summaryAt(installationContextSummaries, ici), summaryAt(authTypeSummaries, ati))
	return sc.Prompt(ctx, dialog.Prompt{Kind: dialog.PromptConfirm, Text: text})
}

// authorizeStep runs the sign-in when the user confirmed an OAuth
// authorization. Personal access tokens are declared unsupported; a decline
// skips the sign-in entirely.
func (b *Bot) authorizeStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	confirm, ok := sc.Result.(dialog.ConfirmResult)
	if !ok || !confirm.Confirmed {
		return sc.Next(nil)
	}

	if ati, _ := sc.State().Int("auth_type"); ati != authTypeOAuth {
		msg := "Personal access tokens are not supported yet. Please start over and pick OAuth 2.0 instead."
		if err := sc.SendActivity(ctx, dialog.Activity{Text: msg}); err != nil {
			return dialog.StepResult{}, err
		}
		return sc.Next(nil)
	}

	return sc.Prompt(ctx, dialog.Prompt{
		Kind:       dialog.PromptOAuth,
		Text:       "Powered by SmartThings",
		Connection: b.connection,
	})
}

// authorizeFinalStep ends the flow, returning the authorization to the
// caller when a token was obtained and nothing otherwise.
func (b *Bot) authorizeFinalStep(ctx context.Context, sc *dialog.StepContext) (dialog.StepResult, error) {
	tok, ok := sc.Result.(dialog.TokenResponse)
	if !ok || tok.Token == "" {
		return sc.EndDialog(nil)
	}

	ici, _ := sc.State().Int("installation_context")
	ati, _ := sc.State().Int("auth_type")
	return sc.EndDialog(AuthorizationResult{
		InstallationContext: summaryAt(installationContexts, ici),
		AuthType:            summaryAt(authTypes, ati),
		Token:               tok.Token,
	})
}

// summaryAt indexes a label list. Indices come back from restored snapshots
// and may be out of range.
func summaryAt(labels []string, i int) string {
	if i < 0 || i >= len(labels) {
		return "unknown"
	}
	return labels[i]
}
