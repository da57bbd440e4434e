package httpapi

import (
	"context"
	"time"

	"github.com/roach88/agentbus/internal/engine"
)

// Bus is the set of operations served over HTTP. *engine.Engine implements
// it in-process and *Client implements it remotely.
type Bus interface {
	Register(ctx context.Context, req engine.RegisterRequest) (engine.RegisterResult, error)
	ListSessions(ctx context.Context) ([]engine.SessionInfo, error)
	ListChannels(ctx context.Context) ([]engine.ChannelInfo, error)
	Publish(ctx context.Context, req engine.PublishRequest) (engine.PublishResult, error)
	GetEvents(ctx context.Context, req engine.GetEventsRequest) (engine.GetEventsResult, error)
	Unregister(ctx context.Context, req engine.UnregisterRequest) (engine.UnregisterResult, error)
	Notify(ctx context.Context, req engine.NotifyRequest) (engine.NotifyResult, error)
	Sweep(ctx context.Context) (engine.SweepResult, error)
}

var (
	_ Bus = (*engine.Engine)(nil)
	_ Bus = (*Client)(nil)
)

// JSON bodies. Field names follow the snake_case wire format.

type registerBody struct {
	Name          string `json:"name"`
	Machine       string `json:"machine,omitempty"`
	Cwd           string `json:"cwd,omitempty"`
	Repo          string `json:"repo,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	LivenessToken string `json:"liveness_token,omitempty"`
}

type registerResponse struct {
	SessionID      string `json:"session_id"`
	DisplayID      string `json:"display_id"`
	Name           string `json:"name"`
	Machine        string `json:"machine"`
	Cwd            string `json:"cwd"`
	Repo           string `json:"repo"`
	Cursor         *int64 `json:"cursor"`
	Resumed        bool   `json:"resumed"`
	ActiveSessions int    `json:"active_sessions"`
}

type sessionJSON struct {
	SessionID          string    `json:"session_id"`
	DisplayID          string    `json:"display_id"`
	Name               string    `json:"name"`
	Machine            string    `json:"machine"`
	Cwd                string    `json:"cwd"`
	Repo               string    `json:"repo"`
	ClientID           string    `json:"client_id,omitempty"`
	LivenessToken      string    `json:"liveness_token,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	LastHeartbeatAt    time.Time `json:"last_heartbeat"`
	Cursor             *int64    `json:"cursor"`
	SubscribedChannels []string  `json:"subscribed_channels"`
	AgeSeconds         float64   `json:"age_seconds"`
}

type channelJSON struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
}

type publishBody struct {
	EventType string `json:"event_type"`
	Payload   string `json:"payload"`
	SessionID string `json:"session_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

type notificationJSON struct {
	Title      string `json:"title,omitempty"`
	Body       string `json:"body,omitempty"`
	ShouldFire bool   `json:"should_fire"`
	Target     string `json:"target_session_id,omitempty"`
}

type publishResponse struct {
	EventID      int64            `json:"event_id"`
	EventType    string           `json:"event_type"`
	Payload      string           `json:"payload"`
	Channel      string           `json:"channel"`
	Notification notificationJSON `json:"notification"`
}

type eventJSON struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Payload   string    `json:"payload"`
	Channel   string    `json:"channel"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

type eventsResponse struct {
	Events     []eventJSON `json:"events"`
	NextCursor *int64      `json:"next_cursor"`
}

type unregisterResponse struct {
	SessionID      string `json:"session_id"`
	DisplayID      string `json:"display_id"`
	Name           string `json:"name"`
	ActiveSessions int    `json:"active_sessions"`
}

type notifyBody struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Sound   bool   `json:"sound,omitempty"`
}

type notifyResponse struct {
	Success bool   `json:"success"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type sweepResponse struct {
	Removed []string `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Op    string `json:"op,omitempty"`
}

func toSessionJSON(s engine.SessionInfo) sessionJSON {
	return sessionJSON{
		SessionID:          s.SessionID,
		DisplayID:          s.DisplayID,
		Name:               s.Name,
		Machine:            s.Machine,
		Cwd:                s.Cwd,
		Repo:               s.Repo,
		ClientID:           s.ClientID,
		LivenessToken:      s.LivenessToken,
		CreatedAt:          s.CreatedAt,
		LastHeartbeatAt:    s.LastHeartbeatAt,
		Cursor:             s.Cursor,
		SubscribedChannels: s.SubscribedChannels,
		AgeSeconds:         s.Age.Seconds(),
	}
}

func (s sessionJSON) toEngine() engine.SessionInfo {
	return engine.SessionInfo{
		SessionID:          s.SessionID,
		DisplayID:          s.DisplayID,
		Name:               s.Name,
		Machine:            s.Machine,
		Cwd:                s.Cwd,
		Repo:               s.Repo,
		ClientID:           s.ClientID,
		LivenessToken:      s.LivenessToken,
		CreatedAt:          s.CreatedAt,
		LastHeartbeatAt:    s.LastHeartbeatAt,
		Cursor:             s.Cursor,
		SubscribedChannels: s.SubscribedChannels,
		Age:                time.Duration(s.AgeSeconds * float64(time.Second)),
	}
}

func toEventJSON(e engine.Event) eventJSON {
	return eventJSON{
		ID:        e.ID,
		EventType: e.EventType,
		Payload:   e.Payload,
		Channel:   e.Channel,
		SessionID: e.PublisherSessionID,
		Timestamp: e.CreatedAt,
	}
}

func (e eventJSON) toEngine() engine.Event {
	return engine.Event{
		ID:                 e.ID,
		EventType:          e.EventType,
		Payload:            e.Payload,
		Channel:            e.Channel,
		PublisherSessionID: e.SessionID,
		CreatedAt:          e.Timestamp,
	}
}
