package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second

	// lowConfidenceThreshold downgrades shaky classifications to IntentNone
	// so the caller re-prompts instead of dispatching the wrong flow.
	lowConfidenceThreshold = 0.5
)

// Config configures the OpenAI-compatible recognizer.
type Config struct {
	// APIKey authenticates against the API. Empty means unconfigured: the
	// recognizer reports Configured() == false and the router falls back.
	APIKey string
	// BaseURL overrides the API endpoint (local models, Azure, etc.).
	BaseURL string
	// Model is the chat model used for classification.
	Model string
	// Timeout bounds one classification call.
	Timeout time.Duration
}

// Client is a Recognizer backed by an OpenAI-compatible chat completions
// endpoint in JSON mode. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ Recognizer = (*Client)(nil)

// New returns a recognizer over the given configuration.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// --- minimal chat-completions wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatFormat struct {
	Type string `json:"type"` // "json_object"
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// classification is the JSON object the model is instructed to produce.
type classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Room       string  `json:"room"`
	Capability string  `json:"capability"`
}

const systemPrompt = `You classify one chat message sent to a SmartThings home assistant.

Reply with a single JSON object and nothing else:
{"intent": "<label>", "confidence": <0..1>, "room": "<room name or empty>", "capability": "<capability or empty>"}

Labels:
- "Authorize": the user wants to connect or authorize their SmartThings account or location.
- "QueryState": the user asks for a device reading (temperature, humidity, etc.) in a room. Extract the room name into "room" and the SmartThings capability into "capability" (e.g. "temperatureMeasurement", "relativeHumidityMeasurement").
- "CheckOccupancy": the user asks whether a room or the office is occupied or who is around.
- "ChitChat": greetings, small talk, questions about the assistant itself.
- "None": anything else.

Leave "room" and "capability" empty unless the message names them.`

// Recognize classifies the utterance into the closed intent set.
func (c *Client) Recognize(ctx context.Context, utterance string) (*Result, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("recognizer: not configured")
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: utterance},
		},
		MaxTokens:      200,
		ResponseFormat: &chatFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("recognizer: marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("recognizer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognizer: call model: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("recognizer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer: model returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("recognizer: decode response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("recognizer: model error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("recognizer: model returned no choices")
	}

	var cl classification
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &cl); err != nil {
		return nil, fmt.Errorf("recognizer: malformed classification %q: %w",
			truncate(cr.Choices[0].Message.Content, 200), err)
	}

	intent := ParseIntent(cl.Intent)
	if cl.Confidence < lowConfidenceThreshold {
		intent = IntentNone
	}

	return &Result{
		TopIntent: intent,
		Intents:   []ScoredIntent{{Intent: intent, Score: cl.Confidence}},
		Entities: Entities{
			Room:       strings.TrimSpace(cl.Room),
			Capability: strings.TrimSpace(cl.Capability),
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
