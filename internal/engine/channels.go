package engine

import (
	"context"
	"time"

	"github.com/roach88/agentbus/internal/channel"
	"github.com/roach88/agentbus/internal/store"
)

// ChannelInfo is one channel with at least one active member.
type ChannelInfo struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
}

// ListChannels returns every channel that currently has members, with its
// member count, sorted by channel name. "all" is present iff at least one
// session is active.
//
// Returns an empty slice (not nil) if there are no sessions.
func (e *Engine) ListChannels(ctx context.Context) (out []ChannelInfo, err error) {
	const op = "list_channels"
	defer func(start time.Time) { e.record(op, start, err) }(time.Now())

	var rows []store.Session
	err = e.update(ctx, op, func(tx *store.Tx) error {
		if _, err := e.sweep(ctx, tx, e.clock.Now()); err != nil {
			return err
		}
		var err error
		rows, err = tx.ListSessions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	attrs := make([]channel.Attrs, len(rows))
	for i, s := range rows {
		attrs[i] = attrsOf(s)
	}

	counts := channel.Count(attrs)
	out = make([]ChannelInfo, len(counts))
	for i, c := range counts {
		out[i] = ChannelInfo{Channel: c.Channel.String(), Subscribers: c.Subscribers}
	}
	return out, nil
}
