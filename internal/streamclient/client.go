// Package streamclient reads a chat turn from a remote gateway over HTTP.
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentra/backend/internal/gateway"
	"sentra/backend/pkg/jwt"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/middleware"
	"sentra/backend/pkg/sse"
)

// ErrStreamTruncated is returned when the body ends without a complete or error event
var ErrStreamTruncated = errors.New("stream ended without a terminal event")

// StatusError is a non-200 response from the gateway
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Client posts chat turns to a gateway and relays the decoded events
type Client struct {
	url        string
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a client for the stream endpoint at url.
// The HTTP client has no overall timeout; cancel ctx to abort the read.
func New(url string, log *logger.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		log: log.With("component", "stream_client"),
	}
}

// Stream sends req with a bearer token and dispatches every event to sink.
// A cancelled ctx aborts the network read and returns the context error.
func (c *Client) Stream(ctx context.Context, token string, req gateway.ChatTurnRequest, sink gateway.EventSink) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if id := middleware.GetRequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeStatusError(resp)
	}

	return c.relay(ctx, resp.Body, sink)
}

func (c *Client) relay(ctx context.Context, body io.Reader, sink gateway.EventSink) error {
	dec := sse.NewDecoder(body)
	for {
		ev, err := dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrStreamTruncated
			}
			return fmt.Errorf("read stream: %w", err)
		}

		p, err := ev.Decode()
		if err != nil {
			c.log.Warn("Skipping undecodable event", "event", ev.Name, "error", err.Error())
			continue
		}

		switch p.Type {
		case sse.TypeStart:
			err = sink.Start()
		case sse.TypeDelta:
			err = sink.Delta(p.Content)
		case sse.TypeComplete:
			return sink.Complete(p.FullContent)
		case sse.TypeError:
			return sink.Error(p.Message)
		default:
			c.log.Debug("Ignoring unknown event", "event", ev.Name, "type", p.Type)
		}
		if err != nil {
			return err
		}
	}
}

func decodeStatusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
		se.Code = body.Error.Code
		se.Message = body.Error.Message
	}
	return se
}

// Generator calls the remote gateway on behalf of a user, minting a short-lived token
type Generator struct {
	client *Client
	tokens *jwt.Service
}

// NewGenerator pairs a client with the token service shared with the gateway
func NewGenerator(client *Client, tokens *jwt.Service) *Generator {
	return &Generator{client: client, tokens: tokens}
}

// Generate streams req for the given user into sink
func (g *Generator) Generate(ctx context.Context, userID, username string, req gateway.ChatTurnRequest, sink gateway.EventSink) error {
	token, err := g.tokens.GenerateToken(userID, username)
	if err != nil {
		return fmt.Errorf("issue gateway token: %w", err)
	}
	return g.client.Stream(ctx, token, req, sink)
}
