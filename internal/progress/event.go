package progress

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event records.
type Stage string

// Supported progress stages.
const (
	StageRequestStart Stage = "REQUEST_START"
	StageRequestDone  Stage = "REQUEST_DONE"
	StageRequestError Stage = "REQUEST_ERROR"
	StageSiteDone     Stage = "SITE_DONE"
)

// Event is one milestone of a request.
type Event struct {
	// RequestID ties the event to the request that produced it.
	RequestID string
	// TS is the UTC time the event was emitted.
	TS    time.Time
	Stage Stage
	// Kind is the request kind: crawl, search, walk or extract.
	Kind string
	// Site is the registry base URL for site events.
	Site    string
	Keyword string
	// Results counts titles, matched pages or paragraphs depending on Kind.
	Results int
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RequestID == "" {
		return errors.New("request id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRequestStart, StageRequestDone, StageRequestError:
		if e.Kind == "" {
			return fmt.Errorf("%s requires kind", e.Stage)
		}
	case StageSiteDone:
		if e.Site == "" {
			return errors.New("site done requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Results < 0 {
		return errors.New("results must be >= 0")
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id so that components deeper in
// the call tree can tag their events.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
