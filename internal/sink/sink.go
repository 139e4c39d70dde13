// Package sink ships telemetry to an external MongoDB store.
//
// The sink decouples the turn loop from database writes: records are
// enqueued on a bounded channel and a single drainer goroutine writes
// them in batches. The JSONL file is the ground truth; everything here
// is best-effort. If the store is unreachable at startup the sink
// disables itself and every call becomes a no-op, so a tournament never
// stalls on database weather.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mousetraptech/llmtourney/internal/telemetry"
)

// Prometheus metrics
var (
	recordsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmtourney_sink_enqueued_total",
		Help: "Total number of records enqueued to the sink",
	})

	recordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmtourney_sink_written_total",
		Help: "Total number of records written to the external store",
	})

	recordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmtourney_sink_dropped_total",
		Help: "Total number of records dropped (queue full or batch failure)",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llmtourney_sink_queue_depth",
		Help: "Current depth of the sink queue",
	})

	batchWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llmtourney_sink_batch_write_duration_seconds",
		Help:    "Duration of batch writes to the external store",
		Buckets: prometheus.DefBuckets,
	})
)

type itemKind int

const (
	itemTurn itemKind = iota
	itemMatch
	itemTournament
)

type item struct {
	kind       itemKind
	turn       telemetry.TurnRecord
	match      telemetry.MatchSummary
	tournament TournamentRecord
}

// TournamentRecord is the sink's view of a finished (or in-flight)
// tournament, upserted by name so reruns overwrite stale state.
type TournamentRecord struct {
	Name      string
	Format    string
	Seed      int64
	Status    string
	Champion  string
	Standings any
}

// Config configures the sink.
type Config struct {
	URI      string
	Database string
	// Tournament is stamped onto every written record so one database
	// can hold several tournaments side by side.
	Tournament    string
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	CloseTimeout  time.Duration
	PingTimeout   time.Duration
	// StorePrompts controls whether full prompt text reaches the
	// store. When false, only a SHA-256 digest and lengths are kept.
	StorePrompts bool
	Logger       *zap.Logger
}

// Sink is an asynchronous MongoDB writer for telemetry records.
type Sink struct {
	cfg    Config
	client *mongo.Client
	db     *mongo.Database
	queue  chan item
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	// mu orders enqueues against Close: a send never races the
	// channel close, and disabled is safe to read from any goroutine.
	mu       sync.RWMutex
	disabled bool
}

// New connects to the external store and starts the drainer. An empty
// URI or an unreachable store yields a disabled sink and a nil error:
// the store is optional by design, and the caller logs and plays on.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Database == "" {
		cfg.Database = "llmtourney"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	s := &Sink{
		cfg:    cfg,
		logger: cfg.Logger.Sugar(),
	}

	if cfg.URI == "" {
		s.disabled = true
		s.logger.Info("External store URI not set, sink disabled")
		return s, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()

	client, err := mongo.Connect(pingCtx, options.Client().ApplyURI(cfg.URI))
	if err == nil {
		err = client.Ping(pingCtx, nil)
	}
	if err != nil {
		s.disabled = true
		s.logger.Warnw("External store unreachable, sink disabled", "error", err)
		return s, nil
	}

	s.client = client
	s.db = client.Database(cfg.Database)
	s.queue = make(chan item, cfg.QueueSize)

	if err := s.ensureIndexes(ctx); err != nil {
		s.logger.Warnw("Failed to ensure indexes", "error", err)
	}

	s.wg.Add(1)
	go s.drain()

	s.logger.Infow("Sink started",
		"database", cfg.Database,
		"queueSize", cfg.QueueSize,
		"batchSize", cfg.BatchSize,
	)
	return s, nil
}

// Disabled reports whether the sink is a no-op.
func (s *Sink) Disabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled
}

// ForwardTurn enqueues a turn record. Never blocks: a full queue drops
// the record and counts it.
func (s *Sink) ForwardTurn(rec telemetry.TurnRecord) {
	s.enqueue(item{kind: itemTurn, turn: rec})
}

// ForwardMatch enqueues a match summary.
func (s *Sink) ForwardMatch(sum telemetry.MatchSummary) {
	s.enqueue(item{kind: itemMatch, match: sum})
}

// ForwardTournament enqueues a tournament-level record, typically once
// when the orchestrator finishes.
func (s *Sink) ForwardTournament(rec TournamentRecord) {
	s.enqueue(item{kind: itemTournament, tournament: rec})
}

func (s *Sink) enqueue(it item) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disabled {
		return
	}
	select {
	case s.queue <- it:
		recordsEnqueued.Inc()
		queueDepth.Set(float64(len(s.queue)))
	default:
		recordsDropped.Inc()
		s.logger.Warnw("Sink queue full, dropping record", "queueSize", s.cfg.QueueSize)
	}
}

// Close stops accepting records, drains what is queued and disconnects.
// Draining is bounded: after the close timeout remaining records are
// abandoned, since the JSONL file already has them.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return
	}
	s.disabled = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.CloseTimeout):
		s.logger.Warn("Sink drain timed out, abandoning queued records")
	}

	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.client.Disconnect(ctx); err != nil {
			s.logger.Warnw("External store disconnect failed", "error", err)
		}
	}
	s.logger.Info("Sink stopped")
}

// drain is the single consumer: it accumulates a batch and flushes on
// size or on the ticker, whichever comes first.
func (s *Sink) drain() {
	defer s.wg.Done()

	batch := make([]item, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.writeBatch(batch); err != nil {
			s.logger.Errorw("Batch write failed, discarding",
				"batchSize", len(batch),
				"error", err,
			)
			recordsDropped.Add(float64(len(batch)))
		} else {
			recordsWritten.Add(float64(len(batch)))
		}
		batchWriteDuration.Observe(time.Since(start).Seconds())
		batch = batch[:0]
	}

	for {
		select {
		case it, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, it)
			queueDepth.Set(float64(len(s.queue)))
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
