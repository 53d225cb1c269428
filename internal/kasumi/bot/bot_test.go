package bot_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kasumi-bot/kasumi/internal/kasumi/bot"
	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
	"github.com/kasumi-bot/kasumi/internal/kasumi/qna"
	"github.com/kasumi-bot/kasumi/internal/kasumi/recognizer"
	"github.com/kasumi-bot/kasumi/internal/kasumi/smartthings"
)

// recorder captures everything the bot sends to the conversation.
type recorder struct {
	typing     int
	activities []dialog.Activity
}

func (r *recorder) SendActivity(_ context.Context, a dialog.Activity) error {
	r.activities = append(r.activities, a)
	return nil
}

func (r *recorder) SendTyping(context.Context) error {
	r.typing++
	return nil
}

func (r *recorder) lastText() string {
	for i := len(r.activities) - 1; i >= 0; i-- {
		if r.activities[i].Text != "" {
			return r.activities[i].Text
		}
	}
	return ""
}

func (r *recorder) contains(sub string) bool {
	for _, a := range r.activities {
		if strings.Contains(a.Text, sub) {
			return true
		}
	}
	return false
}

type fakeRecognizer struct {
	configured bool
	result     *recognizer.Result
	err        error
}

func (f *fakeRecognizer) Recognize(context.Context, string) (*recognizer.Result, error) {
	return f.result, f.err
}

func (f *fakeRecognizer) Configured() bool { return f.configured }

type fakeQnA struct {
	answers []qna.Answer
}

func (f *fakeQnA) GetAnswers(context.Context, string) ([]qna.Answer, error) {
	return f.answers, nil
}

func (f *fakeQnA) Configured() bool { return true }

type fakeDevices struct {
	locations []smartthings.Location
	agg       *smartthings.Aggregate
	aggErr    error
	occ       *smartthings.Occupancy
	occErr    error
}

func (f *fakeDevices) Locations(context.Context, string) ([]smartthings.Location, error) {
	return f.locations, nil
}

func (f *fakeDevices) AggregateRoomReadings(context.Context, string, string, string) (*smartthings.Aggregate, error) {
	return f.agg, f.aggErr
}

func (f *fakeDevices) CheckOccupancy(context.Context, string) (*smartthings.Occupancy, error) {
	return f.occ, f.occErr
}

type fakeSignIn struct {
	token string
	calls int
}

func (f *fakeSignIn) BeginSignIn(context.Context, string) (dialog.SignInSession, error) {
	f.calls++
	return fakeSession{token: f.token}, nil
}

type fakeSession struct{ token string }

func (s fakeSession) URL() string { return "https://id.example.com/signin" }

func (s fakeSession) Await(context.Context, time.Duration) (dialog.TokenResponse, error) {
	return dialog.TokenResponse{Token: s.token}, nil
}

func intentResult(i recognizer.Intent, ents recognizer.Entities) *recognizer.Result {
	return &recognizer.Result{
		TopIntent: i,
		Intents:   []recognizer.ScoredIntent{{Intent: i, Score: 0.9}},
		Entities:  ents,
	}
}

func reading(value string, unit string) smartthings.DeviceReading {
	return smartthings.DeviceReading{
		Value: smartthings.AttributeValue{Value: json.RawMessage(value), Unit: unit},
	}
}

// harness drives a conversation through the bot, carrying the stack between
// turns the way the app does.
type harness struct {
	t      *testing.T
	bot    *bot.Bot
	rec    *recorder
	stack  *dialog.Stack
	signIn *fakeSignIn
}

func newHarness(t *testing.T, cfg bot.Config) *harness {
	t.Helper()
	signIn := &fakeSignIn{token: "tok-42"}
	if cfg.SignIn == nil {
		cfg.SignIn = signIn
	}
	if cfg.Connection == "" {
		cfg.Connection = "smartthings"
	}
	b, err := bot.New(cfg)
	if err != nil {
		t.Fatalf("bot.New: %v", err)
	}
	return &harness{t: t, bot: b, rec: &recorder{}, signIn: signIn}
}

func (h *harness) turn(input string) {
	h.t.Helper()
	stack, err := h.bot.HandleTurn(context.Background(), h.rec, h.stack, input)
	if err != nil {
		h.t.Fatalf("HandleTurn(%q): %v", input, err)
	}
	h.stack = stack
}

func TestFirstMessageStartsMainFlow(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentNone, recognizer.Entities{})},
		Devices:    &fakeDevices{},
	})

	h.turn("hi")

	if h.rec.typing != 1 {
		t.Fatalf("typing indicators = %d, want 1", h.rec.typing)
	}
	if !strings.Contains(h.rec.lastText(), "What can I help you with today?") {
		t.Fatalf("greeting = %q", h.rec.lastText())
	}
	if h.stack.Depth() != 1 {
		t.Fatalf("depth = %d, want 1 (main flow waiting)", h.stack.Depth())
	}
}

func TestChitChatAnsweredWithoutStartingFlow(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentChitChat, recognizer.Entities{})},
		QnA:        &fakeQnA{answers: []qna.Answer{{Answer: "I'm Kasumi, your SmartThings assistant.", Score: 0.95}}},
		Devices:    &fakeDevices{},
	})

	h.turn("who are you?")

	if got := h.rec.lastText(); got != "I'm Kasumi, your SmartThings assistant." {
		t.Fatalf("answer = %q", got)
	}
	if h.stack.Depth() != 0 {
		t.Fatalf("depth = %d, chit-chat must not start a flow", h.stack.Depth())
	}
}

func TestUnconfiguredRecognizerOffersAuthorization(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: false},
		Devices:    &fakeDevices{},
	})

	h.turn("hi")

	if !h.rec.contains("intent recognizer is not configured") {
		t.Fatal("missing configuration note")
	}
	if !strings.Contains(h.rec.lastText(), "Who should be able to access this SmartThings location?") {
		t.Fatalf("expected the authorize flow's first prompt, got %q", h.rec.lastText())
	}
	if h.stack.Depth() != 2 {
		t.Fatalf("depth = %d, want 2 (main + authorize)", h.stack.Depth())
	}
}

func TestAuthorizeHappyPath(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentAuthorize, recognizer.Entities{})},
		Devices:    &fakeDevices{locations: []smartthings.Location{{LocationID: "loc-1", Name: "Headquarters"}}},
	})

	h.turn("hi")
	h.turn("connect my smartthings account")

	if !strings.Contains(h.rec.lastText(), "Who should be able to access") {
		t.Fatalf("expected installation context prompt, got %q", h.rec.lastText())
	}

	h.turn("just me")
	if !strings.Contains(h.rec.lastText(), "How do you want to authorize your account?") {
		t.Fatalf("expected auth type prompt, got %q", h.rec.lastText())
	}

	h.turn("oauth")
	if !strings.Contains(h.rec.lastText(), "Is this correct?") {
		t.Fatalf("expected confirmation prompt, got %q", h.rec.lastText())
	}
	var sawCard bool
	for _, a := range h.rec.activities {
		if a.Card != nil && a.Card.Title == "Authorize SmartThings" {
			sawCard = true
		}
	}
	if !sawCard {
		t.Fatal("missing summary card before the confirmation prompt")
	}

	h.turn("yes")

	if h.signIn.calls != 1 {
		t.Fatalf("sign-in attempts = %d, want 1", h.signIn.calls)
	}
	if !h.rec.contains("I connected your SmartThings location Headquarters.") {
		t.Fatal("missing connected-location confirmation")
	}
	if got := h.rec.lastText(); got != "What else can I do for you?" {
		t.Fatalf("restart greeting = %q", got)
	}
	if h.stack.Depth() != 1 {
		t.Fatalf("depth = %d, want 1 (restarted main flow)", h.stack.Depth())
	}
}

func TestAuthorizeDeclined(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentAuthorize, recognizer.Entities{})},
		Devices:    &fakeDevices{locations: []smartthings.Location{{Name: "Headquarters"}}},
	})

	h.turn("hi")
	h.turn("connect my smartthings account")
	h.turn("just me")
	h.turn("oauth")
	h.turn("no")

	if h.signIn.calls != 0 {
		t.Fatalf("sign-in attempts = %d, want 0 after a decline", h.signIn.calls)
	}
	if h.rec.contains("I connected your SmartThings location") {
		t.Fatal("declined authorization must not report a connected location")
	}
	if got := h.rec.lastText(); got != "What else can I do for you?" {
		t.Fatalf("restart greeting = %q", got)
	}
}

func TestQueryReportsAverage(t *testing.T) {
	ents := recognizer.Entities{Room: "apollo", Capability: "temperatureMeasurement"}
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentQueryState, ents)},
		Devices: &fakeDevices{agg: &smartthings.Aggregate{
			Room:     smartthings.Room{RoomID: "room-1", Name: "Apollo Conference Room"},
			Readings: []smartthings.DeviceReading{reading("20", "C"), reading("22", "C")},
		}},
	})

	h.turn("hi")
	h.turn("what's the temperature in apollo?")

	if !h.rec.contains("Average temperature reading in Apollo Conference Room is 21C") {
		t.Fatalf("missing aggregate message, activities: %+v", h.rec.activities)
	}
	if got := h.rec.lastText(); got != "What else can I do for you?" {
		t.Fatalf("restart greeting = %q", got)
	}
}

func TestQueryRoomNotFound(t *testing.T) {
	ents := recognizer.Entities{Room: "boiler room", Capability: "temperatureMeasurement"}
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentQueryState, ents)},
		Devices:    &fakeDevices{aggErr: &smartthings.RoomNotFoundError{Room: "boiler room"}},
	})

	h.turn("hi")
	h.turn("what's the temperature in the boiler room?")

	if !h.rec.contains(`I couldn't find a room called "boiler room"`) {
		t.Fatalf("missing room-not-found message, activities: %+v", h.rec.activities)
	}
}

func TestQueryLoginFailure(t *testing.T) {
	ents := recognizer.Entities{Room: "apollo", Capability: "temperatureMeasurement"}
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentQueryState, ents)},
		Devices:    &fakeDevices{},
		SignIn:     &fakeSignIn{token: ""},
	})

	h.turn("hi")
	h.turn("what's the temperature in apollo?")

	if !h.rec.contains("We couldn't log you in. Please try again later.") {
		t.Fatal("missing login failure message")
	}
}

func TestOccupancyReported(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentCheckOccupancy, recognizer.Entities{})},
		Devices: &fakeDevices{occ: &smartthings.Occupancy{
			Location: smartthings.Location{Name: "Headquarters"},
			Present:  2,
			Total:    3,
		}},
	})

	h.turn("hi")
	h.turn("is anyone at the office?")

	if !h.rec.contains("Headquarters looks occupied: 2 of 3 presence sensors report someone present.") {
		t.Fatalf("missing occupancy message, activities: %+v", h.rec.activities)
	}
}

func TestUnknownIntentFallsBack(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentNone, recognizer.Entities{})},
		Devices:    &fakeDevices{},
	})

	h.turn("hi")
	h.turn("flibbertigibbet")

	if !h.rec.contains("Sorry, I didn't get that.") {
		t.Fatal("missing fallback message")
	}
	if got := h.rec.lastText(); got != "What else can I do for you?" {
		t.Fatalf("restart greeting = %q", got)
	}
}

func TestCancelRestartsMainFlow(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentAuthorize, recognizer.Entities{})},
		Devices:    &fakeDevices{},
	})

	h.turn("hi")
	h.turn("connect my smartthings account")
	h.turn("cancel")

	if !h.rec.contains("Cancelling...") {
		t.Fatal("missing cancel acknowledgment")
	}
	if !strings.Contains(h.rec.lastText(), "What can I help you with today?") {
		t.Fatalf("expected a fresh main flow prompt, got %q", h.rec.lastText())
	}
	if h.stack.Depth() != 1 {
		t.Fatalf("depth = %d, want 1 after cancel restarts the main flow", h.stack.Depth())
	}
}

func TestHelpReissuesPendingPrompt(t *testing.T) {
	h := newHarness(t, bot.Config{
		Recognizer: &fakeRecognizer{configured: true, result: intentResult(recognizer.IntentNone, recognizer.Entities{})},
		Devices:    &fakeDevices{},
	})

	h.turn("hi")
	before := h.stack.Depth()

	h.turn("help")

	if !h.rec.contains("Show me what you need help with") {
		t.Fatal("missing help text")
	}
	if !strings.Contains(h.rec.lastText(), "What can I help you with today?") {
		t.Fatalf("pending prompt not re-issued, got %q", h.rec.lastText())
	}
	if h.stack.Depth() != before {
		t.Fatalf("depth changed from %d to %d on help", before, h.stack.Depth())
	}
}
