package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/unklstewy/skyplot/pkg/coordinates"
	"github.com/unklstewy/skyplot/pkg/logger"
	"github.com/unklstewy/skyplot/pkg/opensky"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTransport Outcome = "transport"
	OutcomeFormat    Outcome = "format"
	OutcomeDomain    Outcome = "domain"
	OutcomeInternal  Outcome = "internal"
	OutcomeCanceled  Outcome = "canceled"
)

// Outcomes lists every outcome label, for pre-registering metric series.
var Outcomes = []Outcome{
	OutcomeOK, OutcomeTransport, OutcomeFormat, OutcomeDomain, OutcomeInternal, OutcomeCanceled,
}

// Classify maps a cycle error onto its outcome.
func Classify(err error) Outcome {
	var (
		te *opensky.TransportError
		fe *opensky.FormatError
		de *coordinates.DomainError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	case errors.As(err, &te):
		return OutcomeTransport
	case errors.As(err, &fe):
		return OutcomeFormat
	case errors.As(err, &de):
		return OutcomeDomain
	default:
		return OutcomeInternal
	}
}

// CycleEvent describes one finished ingestion cycle.
type CycleEvent struct {
	RunID     string
	Cycle     uint64
	StartedAt time.Time
	Duration  time.Duration
	Outcome   Outcome

	// Rows is the published row count, 0 for failed cycles
	Rows int

	// OutsideRegion counts published rows positioned outside the box
	OutsideRegion int

	// StatusCode is the upstream HTTP status for transport failures
	StatusCode int

	Err error
}

// Recorder receives cycle events. A recorder error is logged by the service
// and never fails the cycle.
type Recorder interface {
	Record(ctx context.Context, ev CycleEvent) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev CycleEvent) error

func (f RecorderFunc) Record(ctx context.Context, ev CycleEvent) error {
	return f(ctx, ev)
}

// MultiRecorder fans an event out to every recorder, returning the joined
// errors.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, ev CycleEvent) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogRecorder writes every cycle event to the log: successes at info,
// failures at error. Credential rejections and rate limiting get an extra
// warning naming the fix.
type LogRecorder struct {
	log *logger.Logger
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(log *logger.Logger) *LogRecorder {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogRecorder{log: log.Named("cycle-log")}
}

func (r *LogRecorder) Record(_ context.Context, ev CycleEvent) error {
	fields := []logger.Field{
		logger.Uint64("cycle", ev.Cycle),
		logger.String("outcome", string(ev.Outcome)),
		logger.Duration("duration", ev.Duration),
	}

	if ev.Outcome == OutcomeOK {
		r.log.Info("Buffer replaced", append(fields, logger.Int("rows", ev.Rows))...)
		return nil
	}

	if ev.StatusCode != 0 {
		fields = append(fields, logger.Int("status_code", ev.StatusCode))
	}
	r.log.Error("Cycle failed, keeping previous buffer", append(fields, logger.Error(ev.Err))...)

	var te *opensky.TransportError
	if !errors.As(ev.Err, &te) {
		return nil
	}
	switch {
	case te.Unauthorized():
		r.log.Warn("OpenSky rejected the credentials, check opensky.username and opensky.password",
			logger.Int("status_code", te.StatusCode),
		)
	case te.RateLimited():
		hint := []logger.Field{logger.Int("remaining", te.RateLimit.Remaining)}
		if te.RetryAfter > 0 {
			hint = append(hint, logger.Duration("retry_after", te.RetryAfter))
		}
		r.log.Warn("OpenSky rate limit hit, consider a longer ingest interval", hint...)
	}
	return nil
}
