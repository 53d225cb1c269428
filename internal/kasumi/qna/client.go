// Package qna looks up answers to small-talk questions in a hosted
// question/answer knowledge base. The top-scored answer is sent to the user
// verbatim.
package qna

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

const defaultTimeout = 15 * time.Second

// Answer is one scored knowledge-base hit.
type Answer struct {
	Answer string  `json:"answer"`
	Score  float64 `json:"score"`
}

// Service answers free-text questions.
type Service interface {
	GetAnswers(ctx context.Context, question string) ([]Answer, error)
	Configured() bool
}

// Config wires the hosted knowledge-base endpoint.
type Config struct {
	// Host is the knowledge-base service base URL.
	Host string
	// KnowledgeBaseID selects the knowledge base.
	KnowledgeBaseID string
	// EndpointKey authenticates the call. Empty means unconfigured.
	EndpointKey string
	// Timeout bounds one lookup.
	Timeout time.Duration
}

// Client implements Service over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ Service = (*Client)(nil)

// New returns a knowledge-base client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Configured reports whether the knowledge base is wired up.
func (c *Client) Configured() bool {
	return c.cfg.Host != "" && c.cfg.KnowledgeBaseID != "" && c.cfg.EndpointKey != ""
}

type generateAnswerRequest struct {
	Question string `json:"question"`
	Top      int    `json:"top"`
}

type generateAnswerResponse struct {
	Answers []Answer `json:"answers"`
}

// GetAnswers queries the knowledge base. Answers come back ordered by score,
// highest first.
func (c *Client) GetAnswers(ctx context.Context, question string) ([]Answer, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("qna: not configured")
	}

	payload, err := json.Marshal(generateAnswerRequest{Question: question, Top: 3})
	if err != nil {
		return nil, fmt.Errorf("qna: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/knowledgebases/%s/generateAnswer",
		strings.TrimRight(c.cfg.Host, "/"), c.cfg.KnowledgeBaseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("qna: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "EndpointKey "+c.cfg.EndpointKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qna: call knowledge base: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("qna: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qna: knowledge base returned HTTP %d", resp.StatusCode)
	}

	var gr generateAnswerResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("qna: decode response: %w", err)
	}
	return gr.Answers, nil
}
