package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/agentbus/internal/engine"
)

// DefaultURL is where the CLI looks for a bus server.
const DefaultURL = "http://127.0.0.1:8080"

// Client calls a remote bus over HTTP.
//
// Errors reported by the server come back as *engine.Error with the
// server's code, so callers can use engine.IsNotFound and friends.
type Client struct {
	base     string
	http     *http.Client
	hostName string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithClientHostName sets the machine sent with register and unregister
// when the request has none. Default: os.Hostname().
func WithClientHostName(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.hostName = name
		}
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	if host, err := os.Hostname(); err == nil {
		c.hostName = host
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register implements Bus. The local host name fills an empty Machine, so
// the session is attributed to the caller rather than the server.
func (c *Client) Register(ctx context.Context, req engine.RegisterRequest) (engine.RegisterResult, error) {
	if req.Machine == "" {
		req.Machine = c.hostName
	}

	var out registerResponse
	err := c.do(ctx, "register", http.MethodPost, "/v1/sessions", nil, registerBody{
		Name:          req.Name,
		Machine:       req.Machine,
		Cwd:           req.Cwd,
		Repo:          req.Repo,
		ClientID:      req.ClientID,
		LivenessToken: req.LivenessToken,
	}, &out)
	if err != nil {
		return engine.RegisterResult{}, err
	}

	return engine.RegisterResult{
		SessionID:      out.SessionID,
		DisplayID:      out.DisplayID,
		Name:           out.Name,
		Machine:        out.Machine,
		Cwd:            out.Cwd,
		Repo:           out.Repo,
		Cursor:         out.Cursor,
		Resumed:        out.Resumed,
		ActiveSessions: out.ActiveSessions,
	}, nil
}

// ListSessions implements Bus.
func (c *Client) ListSessions(ctx context.Context) ([]engine.SessionInfo, error) {
	var out []sessionJSON
	if err := c.do(ctx, "list_sessions", http.MethodGet, "/v1/sessions", nil, nil, &out); err != nil {
		return nil, err
	}

	sessions := make([]engine.SessionInfo, len(out))
	for i, s := range out {
		sessions[i] = s.toEngine()
	}
	return sessions, nil
}

// ListChannels implements Bus.
func (c *Client) ListChannels(ctx context.Context) ([]engine.ChannelInfo, error) {
	var out []channelJSON
	if err := c.do(ctx, "list_channels", http.MethodGet, "/v1/channels", nil, nil, &out); err != nil {
		return nil, err
	}

	chans := make([]engine.ChannelInfo, len(out))
	for i, ch := range out {
		chans[i] = engine.ChannelInfo{Channel: ch.Channel, Subscribers: ch.Subscribers}
	}
	return chans, nil
}

// Publish implements Bus.
func (c *Client) Publish(ctx context.Context, req engine.PublishRequest) (engine.PublishResult, error) {
	var out publishResponse
	err := c.do(ctx, "publish", http.MethodPost, "/v1/events", nil, publishBody{
		EventType: req.EventType,
		Payload:   req.Payload,
		SessionID: req.SessionID,
		Channel:   req.Channel,
	}, &out)
	if err != nil {
		return engine.PublishResult{}, err
	}

	return engine.PublishResult{
		EventID:   out.EventID,
		EventType: out.EventType,
		Payload:   out.Payload,
		Channel:   out.Channel,
		Notification: engine.Notification{
			Title:           out.Notification.Title,
			Body:            out.Notification.Body,
			ShouldFire:      out.Notification.ShouldFire,
			TargetSessionID: out.Notification.Target,
		},
	}, nil
}

// GetEvents implements Bus.
func (c *Client) GetEvents(ctx context.Context, req engine.GetEventsRequest) (engine.GetEventsResult, error) {
	q := url.Values{}
	if req.Cursor != nil {
		q.Set("cursor", strconv.FormatInt(*req.Cursor, 10))
	}
	if req.Limit != 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.SessionID != "" {
		q.Set("session_id", req.SessionID)
	}
	if req.Channel != "" {
		q.Set("channel", req.Channel)
	}
	if req.Order != "" {
		q.Set("order", req.Order)
	}
	if req.Resume {
		q.Set("resume", "true")
	}
	for _, t := range req.EventTypes {
		q.Add("event_type", t)
	}

	var out eventsResponse
	if err := c.do(ctx, "get_events", http.MethodGet, "/v1/events", q, nil, &out); err != nil {
		return engine.GetEventsResult{}, err
	}

	res := engine.GetEventsResult{Events: make([]engine.Event, len(out.Events)), NextCursor: out.NextCursor}
	for i, e := range out.Events {
		res.Events[i] = e.toEngine()
	}
	return res, nil
}

// Unregister implements Bus.
func (c *Client) Unregister(ctx context.Context, req engine.UnregisterRequest) (engine.UnregisterResult, error) {
	path := "/v1/sessions"
	q := url.Values{}
	if req.SessionID != "" {
		path += "/" + url.PathEscape(req.SessionID)
	} else {
		machine := req.Machine
		if machine == "" {
			machine = c.hostName
		}
		q.Set("client_id", req.ClientID)
		q.Set("machine", machine)
	}

	var out unregisterResponse
	if err := c.do(ctx, "unregister", http.MethodDelete, path, q, nil, &out); err != nil {
		return engine.UnregisterResult{}, err
	}

	return engine.UnregisterResult{
		SessionID:      out.SessionID,
		DisplayID:      out.DisplayID,
		Name:           out.Name,
		ActiveSessions: out.ActiveSessions,
	}, nil
}

// Notify implements Bus.
func (c *Client) Notify(ctx context.Context, req engine.NotifyRequest) (engine.NotifyResult, error) {
	var out notifyResponse
	err := c.do(ctx, "notify", http.MethodPost, "/v1/notify", nil, notifyBody{
		Title:   req.Title,
		Message: req.Message,
		Sound:   req.Sound,
	}, &out)
	if err != nil {
		return engine.NotifyResult{}, err
	}
	return engine.NotifyResult{Success: out.Success, Title: out.Title, Message: out.Message}, nil
}

// Sweep implements Bus.
func (c *Client) Sweep(ctx context.Context) (engine.SweepResult, error) {
	var out sweepResponse
	if err := c.do(ctx, "sweep", http.MethodPost, "/v1/sweep", nil, nil, &out); err != nil {
		return engine.SweepResult{}, err
	}
	return engine.SweepResult{Removed: out.Removed}, nil
}

// do sends one request and decodes the response into out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &engine.Error{Code: engine.ErrCodeStorageUnavailable, Op: op, Message: "bus unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Code == "" {
			return fmt.Errorf("%s: unexpected status %s", op, resp.Status)
		}
		if e.Op == "" {
			e.Op = op
		}
		return &engine.Error{Code: engine.ErrorCode(e.Code), Op: e.Op, Message: e.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
