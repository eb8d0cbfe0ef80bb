package hdclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gorillawebsocket "github.com/gorilla/websocket"

	"github.com/renalcare/hdschedule/internal/platform/eventbus"
	"github.com/renalcare/hdschedule/internal/platform/websocket"
)

// ScheduleTopic is the server-side websocket topic for schedule changes.
const ScheduleTopic = "hd-schedule"

// Watch connects to the backend's websocket feed and republishes every
// remote schedule change on bus, so bookings made by other clients trigger
// the same reload as local ones. It returns when ctx is done or the
// connection drops.
func (c *Client) Watch(ctx context.Context, wsURL string, bus *eventbus.Bus) error {
	header := http.Header{}
	if c.tokens != nil {
		if tok, err := c.tokens.Token(); err == nil && tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, _, err := gorillawebsocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return &NetworkError{Op: "watch", Err: err}
	}
	defer conn.Close()

	sub := websocket.ClientMessage{Action: "subscribe", Topics: []string{ScheduleTopic}}
	if err := conn.WriteJSON(sub); err != nil {
		return &NetworkError{Op: "watch", Err: err}
	}
	c.logger.Info().Str("url", wsURL).Msg("watching remote schedule changes")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &NetworkError{Op: "watch", Err: err}
		}
		var evt websocket.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed schedule event")
			continue
		}
		local, err := fromRemote(evt)
		if err != nil {
			c.logger.Debug().Err(err).Str("type", evt.Type).Msg("ignoring schedule event")
			continue
		}
		bus.Publish(local)
	}
}

func fromRemote(evt websocket.Event) (eventbus.Event, error) {
	out := eventbus.Event{
		Topic:      eventbus.TopicScheduleChanged,
		ResourceID: evt.ResourceID,
		Remote:     true,
		Timestamp:  evt.Timestamp,
	}
	switch {
	case strings.HasSuffix(evt.Type, ".booked"):
		out.Action = eventbus.ActionBook
	case strings.HasSuffix(evt.Type, ".cancelled"):
		out.Action = eventbus.ActionCancel
	default:
		return out, fmt.Errorf("unknown event type %q", evt.Type)
	}
	if len(evt.Data) > 0 {
		var appt Appointment
		if err := json.Unmarshal(evt.Data, &appt); err == nil {
			out.Date = appt.Date
			if out.Action == eventbus.ActionBook {
				out.Payload = appt
			}
		}
	}
	return out, nil
}
