// Package ingest runs the polling pipeline: fetch the bounding box from
// OpenSky, normalize the state vectors, project them to Web-Mercator, derive
// the rendering fields and replace the aircraft buffer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unklstewy/skyplot/internal/buffer"
	"github.com/unklstewy/skyplot/pkg/coordinates"
	"github.com/unklstewy/skyplot/pkg/flights"
	"github.com/unklstewy/skyplot/pkg/logger"
	"github.com/unklstewy/skyplot/pkg/opensky"
)

const tracerName = "github.com/unklstewy/skyplot/internal/ingest"

// DefaultInterval is the polling interval when none is configured.
const DefaultInterval = 5000 * time.Millisecond

// Fetcher retrieves the state vectors inside a bounding box.
type Fetcher interface {
	FetchStates(ctx context.Context, box coordinates.BoundingBox) (*opensky.StatesResponse, error)
}

// Config holds the per-service settings.
type Config struct {
	Box      coordinates.BoundingBox
	Interval time.Duration

	// IconURL is attached to every row; empty uses flights.DefaultIconURL
	IconURL string

	// RunID identifies this process in recorded events
	RunID string
}

// Status is a point-in-time view of the service.
type Status struct {
	RunID               string    `json:"run_id"`
	Running             bool      `json:"running"`
	InFlight            bool      `json:"in_flight"`
	Interval            string    `json:"interval"`
	Attempts            uint64    `json:"attempts"`
	Successes           uint64    `json:"successes"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastAttempt         time.Time `json:"last_attempt"`
	LastSuccess         time.Time `json:"last_success"`
	LastOutcome         Outcome   `json:"last_outcome,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	Rows                int       `json:"rows"`

	// OutsideRegion counts rows of the last published cycle whose reported
	// position falls outside the configured box
	OutsideRegion int `json:"outside_region"`
}

// Service owns one ingestion pipeline and the buffer it publishes to.
type Service struct {
	fetcher   Fetcher
	buffer    *buffer.Buffer
	scheduler Scheduler
	recorder  Recorder
	cfg       Config
	logger    *logger.Logger

	// cycleMu is held for the whole of a cycle
	cycleMu sync.Mutex

	mu     sync.RWMutex
	status Status
	cycle  uint64
}

// NewService creates an ingestion service. A nil scheduler gets a
// TickerScheduler, a nil recorder a LogRecorder.
func NewService(fetcher Fetcher, buf *buffer.Buffer, sched Scheduler, rec Recorder, cfg Config, log *logger.Logger) (*Service, error) {
	if fetcher == nil {
		return nil, errors.New("ingest: fetcher is required")
	}
	if err := cfg.Box.Validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	if buf == nil {
		buf = buffer.New()
	}
	if sched == nil {
		sched = NewTickerScheduler()
	}
	if rec == nil {
		rec = NewLogRecorder(log)
	}

	return &Service{
		fetcher:   fetcher,
		buffer:    buf,
		scheduler: sched,
		recorder:  rec,
		cfg:       cfg,
		logger:    log.Named("ingest"),
		status: Status{
			RunID:    cfg.RunID,
			Interval: cfg.Interval.String(),
		},
	}, nil
}

// Buffer returns the buffer the service publishes to.
func (s *Service) Buffer() *buffer.Buffer {
	return s.buffer
}

// Run polls until ctx is done. The first cycle starts immediately.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Starting ingestion",
		logger.Duration("interval", s.cfg.Interval),
		logger.Float64("lamin", s.cfg.Box.LatMin),
		logger.Float64("lomin", s.cfg.Box.LonMin),
		logger.Float64("lamax", s.cfg.Box.LatMax),
		logger.Float64("lomax", s.cfg.Box.LonMax),
	)

	s.setRunning(true)
	defer s.setRunning(false)

	err := s.scheduler.Run(ctx, s.cfg.Interval, func(ctx context.Context) {
		if err := s.RunOnce(ctx); errors.Is(err, ErrCycleInFlight) {
			s.logger.Debug("Skipping tick, cycle in flight")
		}
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Info("Ingestion stopped")
		return nil
	}
	return err
}

// TriggerNow asks the scheduler for an immediate cycle.
func (s *Service) TriggerNow() error {
	return s.scheduler.Trigger()
}

// RunOnce executes a single cycle and returns its error. It returns
// ErrCycleInFlight without doing anything when another cycle is running.
func (s *Service) RunOnce(ctx context.Context) error {
	if !s.cycleMu.TryLock() {
		return ErrCycleInFlight
	}
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	s.status.InFlight = true
	s.status.Attempts++
	s.status.LastAttempt = time.Now()
	s.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.cycle",
		trace.WithAttributes(
			attribute.String("run_id", s.cfg.RunID),
			attribute.Int64("cycle", int64(cycle)),
		),
	)
	defer span.End()

	started := time.Now()
	rows, outside, err := s.runCycle(ctx, cycle)

	ev := CycleEvent{
		RunID:         s.cfg.RunID,
		Cycle:         cycle,
		StartedAt:     started,
		Duration:      time.Since(started),
		Outcome:       Classify(err),
		Rows:          rows,
		OutsideRegion: outside,
		Err:           err,
	}
	var te *opensky.TransportError
	if errors.As(err, &te) {
		ev.StatusCode = te.StatusCode
	}

	span.SetAttributes(
		attribute.String("outcome", string(ev.Outcome)),
		attribute.Int("rows", rows),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ev.Outcome))
	}

	s.finish(ev)

	if recErr := s.recorder.Record(ctx, ev); recErr != nil {
		s.logger.Warn("Failed to record cycle event",
			logger.Uint64("cycle", cycle),
			logger.Error(recErr),
		)
	}
	return err
}

// runCycle performs fetch, normalize, project, derive and publish. The
// buffer is only touched by the final step.
func (s *Service) runCycle(ctx context.Context, cycle uint64) (rows, outside int, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("PANIC in ingestion cycle", logger.Any("panic", r))
			err = fmt.Errorf("ingest: panic in cycle %d: %v", cycle, r)
		}
	}()

	resp, err := s.fetcher.FetchStates(ctx, s.cfg.Box)
	if err != nil {
		return 0, 0, err
	}
	fetchedAt := time.Now()

	records, err := resp.Records()
	if err != nil {
		return 0, 0, err
	}

	tracked := flights.Normalize(records)
	if err := flights.ProjectRows(tracked); err != nil {
		return 0, 0, err
	}
	flights.Derive(tracked, s.cfg.IconURL)

	// OpenSky filters on the last known position, which can trail the
	// reported one. Such rows are kept and only counted.
	for i := range tracked {
		if pos, ok := tracked[i].Position(); ok && !s.cfg.Box.Contains(pos) {
			outside++
		}
	}
	if outside > 0 {
		s.logger.Debug("Rows outside the region",
			logger.Uint64("cycle", cycle),
			logger.Int("outside", outside),
		)
	}

	s.buffer.Replace(&buffer.Snapshot{
		Cycle:     cycle,
		FetchedAt: fetchedAt,
		Rows:      tracked,
	})
	return len(tracked), outside, nil
}

func (s *Service) finish(ev CycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.InFlight = false
	s.status.LastOutcome = ev.Outcome
	if ev.Outcome == OutcomeOK {
		s.status.Successes++
		s.status.ConsecutiveFailures = 0
		s.status.LastSuccess = ev.StartedAt.Add(ev.Duration)
		s.status.LastError = ""
		s.status.Rows = ev.Rows
		s.status.OutsideRegion = ev.OutsideRegion
		return
	}
	s.status.ConsecutiveFailures++
	if ev.Err != nil {
		s.status.LastError = ev.Err.Error()
	}
}

func (s *Service) setRunning(running bool) {
	s.mu.Lock()
	s.status.Running = running
	s.mu.Unlock()
}

// Status returns the current service status.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
