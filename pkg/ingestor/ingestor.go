// Package ingestor loads routing updates for a time interval by splitting it
// into ranges and running one worker per range.
package ingestor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/config"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/partition"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/sink"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/source"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/status"
)

// Request describes one load
type Request struct {
	Collectors  []string
	From        time.Time
	Until       time.Time
	Concurrency int
	Filter      string
	RecordType  string
}

// Validate checks the request before partitioning
func (r Request) Validate() error {
	if len(r.Collectors) == 0 {
		return fmt.Errorf("%w: no collectors", ErrInvalidConfig)
	}
	if r.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, r.Concurrency)
	}
	if !r.From.Before(r.Until) {
		return fmt.Errorf("%w: from %s is not before until %s", ErrInvalidConfig,
			r.From.Format(models.InputTimeFormat), r.Until.Format(models.InputTimeFormat))
	}
	return nil
}

// RequestFromConfig builds the request described by cfg
func RequestFromConfig(cfg *config.Config) (Request, error) {
	from, err := models.ParseTime(cfg.From)
	if err != nil {
		return Request{}, fmt.Errorf("%w: from: %w", ErrInvalidConfig, err)
	}
	until, err := models.ParseTime(cfg.Until)
	if err != nil {
		return Request{}, fmt.Errorf("%w: until: %w", ErrInvalidConfig, err)
	}
	return Request{
		Collectors:  cfg.Collectors,
		From:        from,
		Until:       until,
		Concurrency: cfg.Concurrency,
		Filter:      cfg.Filter,
		RecordType:  cfg.RecordType,
	}, nil
}

// Summary reports a finished run
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Elapsed    time.Duration
	Outcomes   []RangeOutcome
}

// Rows returns the number of rows written by all ranges
func (s *Summary) Rows() int64 {
	var n int64
	for _, o := range s.Outcomes {
		n += o.Rows
	}
	return n
}

// Failed returns the outcomes that ended with an error
func (s *Summary) Failed() []RangeOutcome {
	var failed []RangeOutcome
	for _, o := range s.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithRecorder records range outcomes in r
func WithRecorder(r status.Recorder) Option {
	return func(ing *Ingestor) {
		ing.recorder = r
	}
}

// WithPartitionOptions sets the boundary arithmetic
func WithPartitionOptions(opts partition.Options) Option {
	return func(ing *Ingestor) {
		ing.partition = opts
	}
}

// WithTimeouts bounds opening a stream and waiting for each record
func WithTimeouts(open, next time.Duration) Option {
	return func(ing *Ingestor) {
		ing.openTimeout = open
		ing.nextTimeout = next
	}
}

// WithFailFast cancels the remaining ranges after the first failure
func WithFailFast(failFast bool) Option {
	return func(ing *Ingestor) {
		ing.failFast = failFast
	}
}

// WithLogger sets the logger
func WithLogger(log *logrus.Entry) Option {
	return func(ing *Ingestor) {
		ing.log = log
	}
}

// Ingestor is the component that fans a request out to range workers and
// waits for all of them
type Ingestor struct {
	provider    source.Provider
	factory     sink.Factory
	recorder    status.Recorder
	partition   partition.Options
	openTimeout time.Duration
	nextTimeout time.Duration
	failFast    bool
	log         *logrus.Entry
	closers     []io.Closer
}

// New creates an Ingestor reading from provider and writing through factory
func New(provider source.Provider, factory sink.Factory, opts ...Option) *Ingestor {
	ing := &Ingestor{
		provider:  provider,
		factory:   factory,
		recorder:  status.Nop{},
		partition: partition.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	ing.log = logging.OrDefault(ing.log)
	return ing
}

// NewIngestor creates an Ingestor from the configuration, connecting to the
// source, sink and ledger it names
func NewIngestor(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Ingestor, error) {
	log = logging.OrDefault(log)
	var closers []io.Closer
	fail := func(err error) (*Ingestor, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}

	var provider source.Provider
	switch cfg.Source.Type {
	case "flight":
		p, err := source.NewFlightProvider(cfg.Source.Flight.Address, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, p)
		provider = p
	case "csv":
		provider = &source.CSVProvider{Dir: cfg.Source.CSV.Dir}
	default:
		return fail(fmt.Errorf("%w: unsupported source type: %s", ErrInvalidConfig, cfg.Source.Type))
	}

	var factory sink.Factory
	switch cfg.Sink.Type {
	case sink.KindCSV:
		factory = &sink.CSVFactory{Dir: cfg.Sink.Dir, Capacity: cfg.BufferSize, Log: log}
	case sink.KindParquet:
		factory = &sink.ParquetFactory{Dir: cfg.Sink.Dir, Capacity: cfg.BufferSize, Log: log}
	case sink.KindArrow:
		factory = &sink.ArrowFactory{Dir: cfg.Sink.Dir, Capacity: cfg.BufferSize, Log: log}
	case sink.KindTable:
		db, err := sink.OpenDB(ctx, cfg.Sink.DSN, cfg.Sink.MaxConns)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, db)
		factory = &sink.TableFactory{DB: db, Table: cfg.Sink.Table, Capacity: cfg.BufferSize, Log: log}
	default:
		return fail(fmt.Errorf("%w: unsupported sink type: %s", ErrInvalidConfig, cfg.Sink.Type))
	}

	var recorder status.Recorder = status.Nop{}
	if cfg.Status.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Status.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
		closers = append(closers, client)
		recorder = status.NewRedisRecorder(client, &status.Options{
			KeyPrefix: cfg.Status.KeyPrefix,
			Expiry:    cfg.Status.TTL,
		})
	}

	ing := New(provider, factory,
		WithRecorder(recorder),
		WithPartitionOptions(partition.Options{
			Precision:    cfg.PrecisionDuration(),
			InclusiveEnd: cfg.InclusiveEnd,
		}),
		WithTimeouts(cfg.Source.OpenTimeout, cfg.Source.NextTimeout),
		WithFailFast(cfg.FailFast),
		WithLogger(log),
	)
	ing.closers = closers
	return ing, nil
}

// Run partitions the request and loads every range concurrently. It returns
// once all workers have stopped.
//
// When some ranges fail the summary is returned together with a
// *PartialRunError naming them. Failed ranges are not retried.
func (ing *Ingestor) Run(ctx context.Context, req Request) (*Summary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ranges, err := partition.Split(req.From, req.Until, req.Concurrency, ing.partition)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	runID := uuid.NewString()
	log := ing.log.WithField("run_id", runID)
	for i, r := range ranges {
		log.WithFields(logrus.Fields{"index": i, "range": r.String()}).Info("planned range")
	}

	if err := ing.factory.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare %s sink: %w", ing.factory.Kind(), err)
	}

	ledgerCtx := context.WithoutCancel(ctx)
	if err := ing.recorder.Begin(ledgerCtx, runID, ranges); err != nil {
		log.WithError(err).Warn("failed to register run in ledger")
	}

	summary := &Summary{
		RunID:     runID,
		StartedAt: time.Now(),
		Outcomes:  make([]RangeOutcome, len(ranges)),
	}

	g, gctx := &errgroup.Group{}, ctx
	if ing.failFast {
		g, gctx = errgroup.WithContext(ctx)
	}

	worker := &Worker{
		Provider:    ing.provider,
		Factory:     ing.factory,
		RecordType:  req.RecordType,
		OpenTimeout: ing.openTimeout,
		NextTimeout: ing.nextTimeout,
		Log:         log,
	}
	for i, r := range ranges {
		g.Go(func() error {
			ing.record(ledgerCtx, log, runID, status.NewRangeStatus(i, r, status.StateRunning))
			out := worker.Run(gctx, i, req.Collectors, r, req.Filter)
			summary.Outcomes[i] = out
			ing.record(ledgerCtx, log, runID, outcomeStatus(out))
			return out.Err
		})
	}
	// Outcomes carry every error; Wait only joins.
	_ = g.Wait()

	summary.FinishedAt = time.Now()
	summary.Elapsed = summary.FinishedAt.Sub(summary.StartedAt)

	log = log.WithFields(logrus.Fields{
		"rows":    summary.Rows(),
		"elapsed": summary.Elapsed.String(),
	})
	if failed := summary.Failed(); len(failed) > 0 {
		log.WithField("failed", len(failed)).Error("run finished with failed ranges")
		return summary, &PartialRunError{Failed: failed, Total: len(ranges)}
	}
	log.Info("run finished")
	return summary, nil
}

func (ing *Ingestor) record(ctx context.Context, log *logrus.Entry, runID string, st status.RangeStatus) {
	if err := ing.recorder.Update(ctx, runID, st); err != nil {
		log.WithError(err).WithField("index", st.Index).Warn("failed to update ledger")
	}
}

func outcomeStatus(out RangeOutcome) status.RangeStatus {
	st := status.NewRangeStatus(out.Index, out.Range, status.StateCompleted)
	st.Target = out.Target
	st.Rows = out.Rows
	if out.Err != nil {
		st.State = status.StateFailed
		st.Error = out.Err.Error()
	}
	return st
}

// Close releases the connections opened by NewIngestor
func (ing *Ingestor) Close() error {
	var errs []error
	for _, c := range ing.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
