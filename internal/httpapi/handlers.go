package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/agentbus/internal/engine"
)

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decode(r, w, &body); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := h.bus.Register(r.Context(), engine.RegisterRequest{
		Name:          body.Name,
		Machine:       body.Machine,
		Cwd:           body.Cwd,
		Repo:          body.Repo,
		ClientID:      body.ClientID,
		LivenessToken: body.LivenessToken,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	h.writeJSON(w, status, registerResponse{
		SessionID:      res.SessionID,
		DisplayID:      res.DisplayID,
		Name:           res.Name,
		Machine:        res.Machine,
		Cwd:            res.Cwd,
		Repo:           res.Repo,
		Cursor:         res.Cursor,
		Resumed:        res.Resumed,
		ActiveSessions: res.ActiveSessions,
	})
}

func (h *Handlers) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.bus.ListSessions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]sessionJSON, len(sessions))
	for i, s := range sessions {
		out[i] = toSessionJSON(s)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleUnregisterByID(w http.ResponseWriter, r *http.Request) {
	h.unregister(w, r, engine.UnregisterRequest{SessionID: chi.URLParam(r, "sessionID")})
}

func (h *Handlers) handleUnregisterByClient(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.unregister(w, r, engine.UnregisterRequest{
		ClientID: q.Get("client_id"),
		Machine:  q.Get("machine"),
	})
}

func (h *Handlers) unregister(w http.ResponseWriter, r *http.Request, req engine.UnregisterRequest) {
	res, err := h.bus.Unregister(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, unregisterResponse{
		SessionID:      res.SessionID,
		DisplayID:      res.DisplayID,
		Name:           res.Name,
		ActiveSessions: res.ActiveSessions,
	})
}

func (h *Handlers) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chans, err := h.bus.ListChannels(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]channelJSON, len(chans))
	for i, c := range chans {
		out[i] = channelJSON{Channel: c.Channel, Subscribers: c.Subscribers}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) handlePublish(w http.ResponseWriter, r *http.Request) {
	var body publishBody
	if err := decode(r, w, &body); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := h.bus.Publish(r.Context(), engine.PublishRequest{
		EventType: body.EventType,
		Payload:   body.Payload,
		SessionID: body.SessionID,
		Channel:   body.Channel,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, publishResponse{
		EventID:   res.EventID,
		EventType: res.EventType,
		Payload:   res.Payload,
		Channel:   res.Channel,
		Notification: notificationJSON{
			Title:      res.Notification.Title,
			Body:       res.Notification.Body,
			ShouldFire: res.Notification.ShouldFire,
			Target:     res.Notification.TargetSessionID,
		},
	})
}

func (h *Handlers) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	req, err := parseGetEvents(r)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	res, err := h.bus.GetEvents(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := eventsResponse{Events: make([]eventJSON, len(res.Events)), NextCursor: res.NextCursor}
	for i, e := range res.Events {
		out.Events[i] = toEventJSON(e)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// parseGetEvents reads get_events parameters from the query string.
// event_type may repeat or hold a comma-separated list.
func parseGetEvents(r *http.Request) (engine.GetEventsRequest, error) {
	q := r.URL.Query()
	req := engine.GetEventsRequest{
		SessionID: q.Get("session_id"),
		Channel:   q.Get("channel"),
		Order:     q.Get("order"),
	}

	if v := q.Get("cursor"); v != "" {
		c, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errInvalidParam("cursor", v)
		}
		req.Cursor = &c
	}

	if v := q.Get("limit"); v != "" {
		// An explicit limit must be positive; omit it for the default.
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, errInvalidParam("limit", v)
		}
		req.Limit = n
	}

	if v := q.Get("resume"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, errInvalidParam("resume", v)
		}
		req.Resume = b
	}

	for _, v := range q["event_type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.EventTypes = append(req.EventTypes, t)
			}
		}
	}

	return req, nil
}

type paramError struct {
	name, value string
}

func (e paramError) Error() string {
	return "invalid " + e.name + " parameter: " + strconv.Quote(e.value)
}

func errInvalidParam(name, value string) error {
	return paramError{name: name, value: value}
}

func (h *Handlers) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body notifyBody
	if err := decode(r, w, &body); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := h.bus.Notify(r.Context(), engine.NotifyRequest{
		Title:   body.Title,
		Message: body.Message,
		Sound:   body.Sound,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, notifyResponse{Success: res.Success, Title: res.Title, Message: res.Message})
}

func (h *Handlers) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.bus.Sweep(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sweepResponse{Removed: res.Removed})
}
