// Package hdclient is the gateway to the backend's hemodialysis schedule
// resource. Every successful booking or cancellation is announced on the
// injected event bus so that all mounted scheduler views refresh.
package hdclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/renalcare/hdschedule/internal/platform/eventbus"
)

const maxErrorBody = 4 << 10

// Client talks to the /api/hd-schedule resource.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	bus    *eventbus.Bus
	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource sets where the bearer token comes from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithNotifier sets the bus that receives schedule-changed events.
func WithNotifier(bus *eventbus.Bus) Option {
	return func(c *Client) { c.bus = bus }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client for the resource rooted at baseURL, e.g.
// "http://localhost:8000/api/hd-schedule".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   http.DefaultClient,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListByDate returns the appointments booked on date ("YYYY-MM-DD"). No
// appointments is an empty slice, not an error.
func (c *Client) ListByDate(ctx context.Context, date string) ([]Appointment, error) {
	q := url.Values{"date": {date}}
	resp, err := c.do(ctx, "list", http.MethodGet, "/day?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ""); err != nil {
		return nil, err
	}
	var appts []Appointment
	if err := json.NewDecoder(resp.Body).Decode(&appts); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode appointments for %s: %w", date, err)
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return appts, nil
}

// Book asks the backend to book req. The backend owns the uniqueness check;
// a taken slot comes back as *ConflictError. Missing phn, slotId or date is
// rejected locally with *ValidationError before any request is made.
func (c *Client) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	switch {
	case strings.TrimSpace(req.PHN) == "":
		return nil, &ValidationError{Field: "phn", Message: "patient health number is required"}
	case strings.TrimSpace(req.SlotID) == "":
		return nil, &ValidationError{Field: "slotId", Message: "slot is required"}
	case strings.TrimSpace(req.Date) == "":
		return nil, &ValidationError{Field: "date", Message: "date is required"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode booking: %w", err)
	}
	resp, err := c.do(ctx, "book", http.MethodPost, "/book", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ""); err != nil {
		c.logger.Warn().Err(err).Str("date", req.Date).Str("slot_id", req.SlotID).Msg("booking rejected")
		return nil, err
	}
	var appt Appointment
	if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
		return nil, fmt.Errorf("decode booked appointment: %w", err)
	}

	c.logger.Info().Str("appointment_id", appt.ID.String()).Str("date", appt.Date).Str("slot_id", appt.SlotID).Msg("slot booked")
	c.bus.Publish(eventbus.Event{
		Topic:      eventbus.TopicScheduleChanged,
		Action:     eventbus.ActionBook,
		ResourceID: appt.ID.String(),
		Date:       appt.Date,
		Payload:    appt,
	})
	return &appt, nil
}

// Cancel deletes the appointment. Cancelling twice is not guaranteed to be
// idempotent: the second call usually fails with *NotFoundError. The
// schedule-changed event is published in that case too, since the slot was
// evidently freed by someone.
func (c *Client) Cancel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Message: "appointment id is required"}
	}
	resp, err := c.do(ctx, "cancel", http.MethodDelete, "/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	statusErr := checkStatus(resp, id)
	if statusErr != nil && !IsNotFound(statusErr) {
		return statusErr
	}

	c.logger.Info().Str("appointment_id", id).Bool("not_found", statusErr != nil).Msg("appointment cancelled")
	c.bus.Publish(eventbus.Event{
		Topic:      eventbus.TopicScheduleChanged,
		Action:     eventbus.ActionCancel,
		ResourceID: id,
	})
	return statusErr
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			c.logger.Warn().Err(err).Msg("token unavailable, sending unauthenticated request")
		} else if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	return resp, nil
}

// checkStatus maps a non-2xx response to the error taxonomy. The body is
// read best-effort for a message.
func checkStatus(resp *http.Response, id string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return statusError(resp.StatusCode, readMessage(resp.Body), id)
}

func readMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(b) == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	var s string
	if json.Unmarshal(b, &s) == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(b))
}
