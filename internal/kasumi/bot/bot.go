// Package bot assembles the conversational behaviour on top of the dialog
// engine: the per-message router and the concrete flows (main, authorize,
// query, occupancy). It talks to the outside world only through interfaces,
// so the Matrix adapter, the recognizer, the knowledge base and the device
// API are all swappable in tests.
package bot

import (
	"context"
	"fmt"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
	"github.com/kasumi-bot/kasumi/internal/kasumi/qna"
	"github.com/kasumi-bot/kasumi/internal/kasumi/recognizer"
	"github.com/kasumi-bot/kasumi/internal/kasumi/smartthings"
)

// Flow IDs registered by New. They appear in persisted stack snapshots, so
// renaming one invalidates suspended conversations.
const (
	FlowMain      = "main"
	FlowAuthorize = "authorize"
	FlowQuery     = "query"
	FlowOccupancy = "occupancy"
)

// flowFor maps every member of the intent union to the flow it starts. An
// empty flow ID means the act step handles the intent inline (chit-chat,
// fallback). New refuses to build a bot whose mapping misses an intent.
var flowFor = map[recognizer.Intent]string{
	recognizer.IntentNone:           "",
	recognizer.IntentChitChat:       "",
	recognizer.IntentAuthorize:      FlowAuthorize,
	recognizer.IntentQueryState:     FlowQuery,
	recognizer.IntentCheckOccupancy: FlowOccupancy,
}

// Responder is the transport surface the router needs: activity delivery
// plus a best-effort typing indicator.
type Responder interface {
	dialog.Responder
	SendTyping(ctx context.Context) error
}

// DeviceAPI is the slice of the SmartThings client the flows use.
// *smartthings.Client satisfies it.
type DeviceAPI interface {
	Locations(ctx context.Context, token string) ([]smartthings.Location, error)
	AggregateRoomReadings(ctx context.Context, token, roomName, capability string) (*smartthings.Aggregate, error)
	CheckOccupancy(ctx context.Context, token string) (*smartthings.Occupancy, error)
}

// Config assembles a Bot.
type Config struct {
	// Recognizer resolves utterances to intents. May report unconfigured, in
	// which case the main flow skips recognition and offers authorization.
	Recognizer recognizer.Recognizer
	// QnA answers chit-chat. May be nil or unconfigured.
	QnA qna.Service
	// Devices is the SmartThings API.
	Devices DeviceAPI
	// SignIn backs the OAuth prompts. May be nil; prompts then resolve empty.
	SignIn dialog.SignInProvider
	// Connection names the OAuth connection used by the sign-in prompts.
	Connection string
	// Interrupts overrides the default cancel/help policy when non-nil.
	Interrupts *dialog.Interrupts
}

// Bot routes inbound messages through the dialog engine.
type Bot struct {
	registry   *dialog.Registry
	recognizer recognizer.Recognizer
	qna        qna.Service
	devices    DeviceAPI
	signIn     dialog.SignInProvider
	interrupts *dialog.Interrupts
	connection string
}

// New builds the bot and registers its flows. It fails when the intent/flow
// mapping does not cover the whole intent union, so an intent added to the
// recognizer cannot silently fall through dispatch.
func New(cfg Config) (*Bot, error) {
	b := &Bot{
		recognizer: cfg.Recognizer,
		qna:        cfg.QnA,
		devices:    cfg.Devices,
		signIn:     cfg.SignIn,
		interrupts: cfg.Interrupts,
		connection: cfg.Connection,
	}
	if b.interrupts == nil {
		b.interrupts = dialog.DefaultInterrupts()
	}

	for _, intent := range recognizer.All {
		if _, ok := flowFor[intent]; !ok {
			return nil, fmt.Errorf("bot: intent %q has no flow mapping", intent)
		}
	}

	reg := dialog.NewRegistry()
	flows := []*dialog.Flow{
		{ID: FlowMain, Steps: []dialog.Step{b.introStep, b.actStep, b.finalStep}},
		{ID: FlowAuthorize, Steps: []dialog.Step{
			b.installationContextStep, b.authTypeStep, b.confirmStep, b.authorizeStep, b.authorizeFinalStep,
		}},
		{ID: FlowQuery, Steps: []dialog.Step{b.queryCommandStep, b.queryProcessStep}},
		{ID: FlowOccupancy, Steps: []dialog.Step{b.occupancyCommandStep, b.occupancyProcessStep}},
	}
	for _, f := range flows {
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}
	b.registry = reg
	return b, nil
}
