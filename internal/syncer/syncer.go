// Package syncer propagates committed primary-store writes to the secondary
// stores. It drains the durable outbox in the background: delivery is
// at-least-once with bounded exponential backoff, and entries that exhaust
// their attempts land in the dead-letter backlog instead of blocking the
// queue behind them.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// SecondaryStore receives propagated outbox entries. Apply must be
// idempotent: the syncer delivers at least once.
type SecondaryStore interface {
	// Name is the outbox target the store consumes.
	Name() string
	// Apply brings the store up to date with one outbox entry.
	Apply(ctx context.Context, entry store.OutboxEntry) error
}

// Config tunes the outbox drain loop.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval" default:"1s" validate:"gt=0"`
	BatchSize    int           `yaml:"batch_size" default:"50" validate:"gt=0"`
	// MaxAttempts is the delivery budget per outbox entry before it is
	// moved to the dead-letter backlog.
	MaxAttempts int           `yaml:"max_attempts" default:"8" validate:"gt=0"`
	BackoffMin  time.Duration `yaml:"backoff_min" default:"500ms" validate:"gt=0"`
	BackoffMax  time.Duration `yaml:"backoff_max" default:"5m" validate:"gt=0"`
}

// Validate checks the syncer configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid syncer configuration", err)
	}
	if c.BackoffMin > c.BackoffMax {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "backoff min %s exceeds max %s", c.BackoffMin, c.BackoffMax)
	}
	return nil
}

// Syncer owns one drain worker per secondary store.
type Syncer struct {
	config      Config
	store       *store.Store
	secondaries map[string]SecondaryStore
	logger      *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu        sync.Mutex
	lastDrain map[string]time.Time
}

// Pinger is implemented by secondary stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewSyncer creates a syncer for the given secondary stores.
func NewSyncer(config Config, primary *store.Store, secondaries []SecondaryStore, log *logger.Logger) (*Syncer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, errors.New(errors.ErrCodeMissingParameter, "primary store is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	byName := make(map[string]SecondaryStore, len(secondaries))
	for _, secondary := range secondaries {
		byName[secondary.Name()] = secondary
	}

	return &Syncer{
		config:      config,
		store:       primary,
		secondaries: byName,
		logger:      log,
		lastDrain:   make(map[string]time.Time, len(secondaries)),
	}, nil
}

// Start launches one background drain worker per secondary store. Stop (or
// cancelling the parent context) shuts them down.
func (s *Syncer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, secondary := range s.secondaries {
		s.wg.Add(1)
		go s.drainLoop(ctx, secondary)
	}
}

// Stop shuts the workers down and waits for them to finish.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Syncer) drainLoop(ctx context.Context, secondary SecondaryStore) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.DrainOnce(ctx, secondary.Name()); err != nil {
				s.logger.Error("outbox drain failed",
					zap.String("target", secondary.Name()),
					zap.Error(err),
				)
			}
		}
	}
}

// DrainOnce claims and delivers one batch of due outbox entries for a
// target. It returns the number of entries delivered.
func (s *Syncer) DrainOnce(ctx context.Context, target string) (int, error) {
	secondary, ok := s.secondaries[target]
	if !ok {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "no secondary store named %q", target)
	}

	entries, err := s.store.PendingOutbox(ctx, target, s.config.BatchSize, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return delivered, nil
		}

		if applyErr := secondary.Apply(ctx, entry); applyErr != nil {
			if err := s.handleFailure(ctx, entry, applyErr); err != nil {
				return delivered, err
			}
			continue
		}

		if err := s.store.MarkDelivered(ctx, entry.ID); err != nil {
			return delivered, err
		}
		delivered++
	}

	s.mu.Lock()
	s.lastDrain[target] = time.Now().UTC()
	s.mu.Unlock()

	return delivered, nil
}

func (s *Syncer) handleFailure(ctx context.Context, entry store.OutboxEntry, applyErr error) error {
	attempts := entry.Attempts + 1
	if attempts >= s.config.MaxAttempts {
		s.logger.Error("outbox entry exhausted retries, moving to dead letters",
			zap.String("target", entry.Target),
			zap.String("id", entry.SecondaryID()),
			zap.Int("attempts", attempts),
			zap.Error(applyErr),
		)
		return s.store.MoveToDeadLetter(ctx, entry, applyErr.Error())
	}

	delay := s.retryDelay(entry.Attempts)
	s.logger.Warn("outbox delivery failed, scheduling retry",
		zap.String("target", entry.Target),
		zap.String("id", entry.SecondaryID()),
		zap.Int("attempts", attempts),
		zap.Duration("retry_in", delay),
		zap.Error(applyErr),
	)
	return s.store.MarkFailed(ctx, entry.ID, applyErr.Error(), time.Now().UTC().Add(delay))
}

// retryDelay returns the bounded exponential backoff for a retry.
func (s *Syncer) retryDelay(priorAttempts int) time.Duration {
	b := &backoff.Backoff{
		Min:    s.config.BackoffMin,
		Max:    s.config.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
	return b.ForAttempt(float64(priorAttempts))
}

// TargetStatus is the health of one secondary store's propagation.
type TargetStatus struct {
	// Reachable is true when the store answered a ping, and also when it
	// cannot be pinged at all (the outbox state is then the only signal).
	Reachable bool      `json:"reachable"`
	Pending   int       `json:"pending"`
	LastDrain time.Time `json:"last_drain,omitzero"`
}

// Status is a point-in-time view of propagation health.
type Status struct {
	Targets     map[string]TargetStatus `json:"targets"`
	DeadLetters int                     `json:"dead_letters"`
	Healthy     bool                    `json:"healthy"`
}

// Health reports reachability and outbox depth per target plus the
// dead-letter backlog. An unreachable store or a non-empty dead-letter
// backlog marks the syncer unhealthy: writes exist that will not reach a
// secondary store without intervention.
func (s *Syncer) Health(ctx context.Context) (Status, error) {
	pending, err := s.store.OutboxCounts(ctx)
	if err != nil {
		return Status{}, err
	}
	dead, err := s.store.DeadLetterCount(ctx)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	drained := make(map[string]time.Time, len(s.lastDrain))
	for target, at := range s.lastDrain {
		drained[target] = at
	}
	s.mu.Unlock()

	healthy := dead == 0
	targets := make(map[string]TargetStatus, len(s.secondaries))
	for name, secondary := range s.secondaries {
		reachable := true
		if pinger, ok := secondary.(Pinger); ok {
			reachable = pinger.Ping(ctx) == nil
		}
		if !reachable {
			healthy = false
		}
		targets[name] = TargetStatus{
			Reachable: reachable,
			Pending:   pending[name],
			LastDrain: drained[name],
		}
	}

	return Status{
		Targets:     targets,
		DeadLetters: dead,
		Healthy:     healthy,
	}, nil
}

// RequeueDeadLetters moves every dead letter back into the outbox. Operators
// call this after restoring a broken secondary store.
func (s *Syncer) RequeueDeadLetters(ctx context.Context) (int, error) {
	dead, err := s.store.DeadLetters(ctx)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, entry := range dead {
		if err := s.store.RequeueDeadLetter(ctx, entry.ID); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}
