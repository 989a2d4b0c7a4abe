// Package signaling is the peers' side of the rendezvous relay.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrTimeout  = errors.New("relay timed out waiting for peer")
	ErrGone     = errors.New("session already delivered")
	ErrConflict = errors.New("another peer is already waiting on this session")
)

// StatusError is returned for relay responses not covered by a sentinel.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay error. status: %d. message: %s", e.Status, e.Message)
}

type Client struct {
	endpoint *url.URL
	client   *http.Client
}

// NewClient talks to the relay at endpoint. requestTimeout must be longer
// than the relay's fetch timeout or every long poll ends client side.
func NewClient(endpoint string, requestTimeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing signaling url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported signaling url scheme %q", u.Scheme)
	}
	return &Client{
		endpoint: u,
		client:   &http.Client{Timeout: requestTimeout},
	}, nil
}

func (c *Client) newReq(ctx context.Context, method string, path string, body any) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint.JoinPath(path).String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		text, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if json.Unmarshal(text, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(text))
		}
		switch res.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, body.Error)
		case http.StatusRequestTimeout:
			return ErrTimeout
		case http.StatusGone:
			return ErrGone
		case http.StatusConflict:
			return ErrConflict
		}
		return &StatusError{Status: res.StatusCode, Message: body.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding relay response: %w", err)
	}
	return nil
}

func (c *Client) PublishOffer(ctx context.Context, offer string) (uuid.UUID, error) {
	req, err := c.newReq(ctx, http.MethodPost, "offer", map[string]string{"offer": offer})
	if err != nil {
		return uuid.Nil, err
	}
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(req, &resp); err != nil {
		return uuid.Nil, fmt.Errorf("publishing offer: %w", err)
	}
	id, err := uuid.Parse(resp.SessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("relay returned invalid session id %q: %w", resp.SessionID, err)
	}
	return id, nil
}

func (c *Client) PublishAnswer(ctx context.Context, id uuid.UUID, answer string) error {
	req, err := c.newReq(ctx, http.MethodPost, "answer", map[string]string{
		"sessionId": id.String(),
		"answer":    answer,
	})
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("publishing answer: %w", err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, role string, id uuid.UUID) (string, error) {
	req, err := c.newReq(ctx, http.MethodGet, role+"/"+id.String(), nil)
	if err != nil {
		return "", err
	}
	var resp map[string]string
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("fetching %s: %w", role, err)
	}
	blob, ok := resp[role]
	if !ok {
		return "", fmt.Errorf("relay response has no %s", role)
	}
	return blob, nil
}

func (c *Client) FetchOffer(ctx context.Context, id uuid.UUID) (string, error) {
	return c.fetch(ctx, "offer", id)
}

func (c *Client) FetchAnswer(ctx context.Context, id uuid.UUID) (string, error) {
	return c.fetch(ctx, "answer", id)
}

// AwaitOffer repeats the offer long poll until the relay delivers, fails
// with anything other than a timeout, or ctx ends.
func (c *Client) AwaitOffer(ctx context.Context, id uuid.UUID) (string, error) {
	return c.await(ctx, "offer", id, c.FetchOffer)
}

func (c *Client) AwaitAnswer(ctx context.Context, id uuid.UUID) (string, error) {
	return c.await(ctx, "answer", id, c.FetchAnswer)
}

func (c *Client) await(ctx context.Context, role string, id uuid.UUID, fetch func(context.Context, uuid.UUID) (string, error)) (string, error) {
	for attempt := 1; ; attempt++ {
		blob, err := fetch(ctx, id)
		if err == nil {
			return blob, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Debug("Still waiting for peer", "role", role, "session", id, "attempt", attempt)
	}
}

func (c *Client) CloseSession(ctx context.Context, id uuid.UUID) error {
	req, err := c.newReq(ctx, http.MethodDelete, "session/"+id.String(), nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}
