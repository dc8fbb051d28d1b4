package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"harnessbot/harness/pkg/log"
	"harnessbot/harness/pkg/version"
)

const apiBase = "https://discord.com/api/v10"

var userAgent = fmt.Sprintf("DiscordBot (https://github.com/harnessbot/harness, %s)", version.Version)

// APIError is a non-2xx response from Discord.
type APIError struct {
	Status  int // HTTP status
	Code    int // Discord error code, 0 when the body carried none
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord: HTTP %d (code %d): %s", e.Status, e.Code, e.Message)
}

// IsUnauthorized reports whether err is a 401 from Discord, which means the
// token is bad and retrying is pointless.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Client is a Discord REST client with per-route rate limiting.
type Client struct {
	token   string
	base    string
	http    *http.Client
	limiter *limiter
	lgr     *log.Logger
}

// NewClient returns a REST client authenticating as a bot with token.
func NewClient(token string, lgr *log.Logger) *Client {
	return &Client{
		token:   token,
		base:    apiBase,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: newLimiter(),
		lgr:     lgr.Named("rest"),
	}
}

// WithBaseURL overrides the API base, used in tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.base = base
	return c
}

// Me returns the account the token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "users/@me", "/users/@me", nil, &u); err != nil {
		return nil, err
	}

	return &u, nil
}

// GatewayBot returns the websocket URL and session start limits.
func (c *Client) GatewayBot(ctx context.Context) (*GatewayBot, error) {
	var gw GatewayBot
	if err := c.do(ctx, http.MethodGet, "gateway/bot", "/gateway/bot", nil, &gw); err != nil {
		return nil, err
	}

	return &gw, nil
}

// CreateMessage posts a message to a channel. A nonce is generated when the
// caller did not set one, so Discord can deduplicate retried sends.
func (c *Client) CreateMessage(ctx context.Context, channelID string, send MessageSend) (*Message, error) {
	if send.Nonce == "" {
		send.Nonce = uuid.NewString()
	}

	var msg Message
	route := "POST channels/" + channelID + "/messages"
	path := "/channels/" + channelID + "/messages"
	if err := c.do(ctx, http.MethodPost, route, path, send, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// EditMessage rewrites a message the bot sent earlier.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, send MessageSend) (*Message, error) {
	var msg Message
	route := "PATCH channels/" + channelID + "/messages"
	path := "/channels/" + channelID + "/messages/" + messageID
	if err := c.do(ctx, http.MethodPatch, route, path, send, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	route := "DELETE channels/" + channelID + "/messages"
	path := "/channels/" + channelID + "/messages/" + messageID

	return c.do(ctx, http.MethodDelete, route, path, nil, nil)
}

// CreateReaction adds the bot's reaction to a message. emoji is either a
// unicode emoji or a custom one in name:id form.
func (c *Client) CreateReaction(ctx context.Context, channelID, messageID, emoji string) error {
	route := "PUT channels/" + channelID + "/reactions"
	path := "/channels/" + channelID + "/messages/" + messageID +
		"/reactions/" + url.PathEscape(emoji) + "/@me"

	return c.do(ctx, http.MethodPut, route, path, nil, nil)
}

// do issues one request against the API, honoring the per-route limiter.
// A 429 is retried once after the advertised delay; other failures map to
// *APIError.
func (c *Client) do(ctx context.Context, method, route, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("json.Marshal(): %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		bucket, err := c.limiter.acquire(ctx, route)
		if err != nil {
			return err
		}

		status, header, data, err := c.roundTrip(ctx, method, path, payload)
		bucket.release(header)
		if err != nil {
			return err
		}

		switch {
		case status >= 200 && status < 300:
			if out != nil && len(data) > 0 {
				if err := json.Unmarshal(data, out); err != nil {
					return fmt.Errorf("unmarshaling %s %s response: %w", method, path, err)
				}
			}
			return nil

		case status == http.StatusTooManyRequests:
			var rl struct {
				Message    string  `json:"message"`
				RetryAfter float64 `json:"retry_after"`
				Global     bool    `json:"global"`
			}
			_ = json.Unmarshal(data, &rl)

			wait := time.Duration(rl.RetryAfter * float64(time.Second))
			if wait <= 0 {
				wait = time.Second
			}
			if rl.Global {
				c.limiter.setGlobal(wait)
			}
			if attempt >= 1 {
				return &APIError{Status: status, Message: "rate limited after retry"}
			}

			c.lgr.WarnMsg("rate limited on %s, retrying in %s", route, wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}

		default:
			var apiBody struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			_ = json.Unmarshal(data, &apiBody)

			return &APIError{Status: status, Code: apiBody.Code, Message: apiBody.Message}
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("http.NewRequestWithContext(): %w", err)
	}

	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", userAgent)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}

	return resp.StatusCode, resp.Header, data, nil
}
