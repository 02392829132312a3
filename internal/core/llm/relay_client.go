package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/markdave123-py/appointly/internal/core"
)

// RelayClient forwards turns to the external AI service over HTTP.
type RelayClient struct {
	http    *resty.Client
	chatURL string
}

type relayTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type relayRequest struct {
	UserID    string      `json:"user_id"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
	History   []relayTurn `json:"history,omitempty"`
}

type relayResponse struct {
	Response  string    `json:"response"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRelayClient(baseURL string, timeout time.Duration) *RelayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &RelayClient{http: c, chatURL: strings.TrimRight(baseURL, "/") + "/chat"}
}

func (c *RelayClient) Reply(ctx context.Context, req core.AssistantRequest) (string, error) {
	body := relayRequest{UserID: req.UserID, Message: req.Message, SessionID: req.SessionID}
	for _, m := range req.History {
		body.History = append(body.History, relayTurn{Role: string(m.MessageType), Content: m.Content})
	}

	var out relayResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(c.chatURL)
	if err != nil {
		return "", fmt.Errorf("ai relay: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ai relay: status %d", resp.StatusCode())
	}
	if out.Response == "" {
		return "", fmt.Errorf("ai relay: empty response")
	}
	return out.Response, nil
}

var _ core.Assistant = (*RelayClient)(nil)
