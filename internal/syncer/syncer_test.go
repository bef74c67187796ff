package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// fakeSecondary records applied entries and fails a scripted number of times
// before succeeding.
type fakeSecondary struct {
	name string

	mu       sync.Mutex
	failures int
	applied  []store.OutboxEntry
}

func (f *fakeSecondary) Name() string { return f.name }

func (f *fakeSecondary) Apply(ctx context.Context, entry store.OutboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return errors.New(errors.ErrCodeSecondaryStoreFailed, "secondary unavailable")
	}
	f.applied = append(f.applied, entry)
	return nil
}

func (f *fakeSecondary) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

type SyncerTestSuite struct {
	suite.Suite
	store     *store.Store
	semantic  *fakeSecondary
	graph     *fakeSecondary
	syncer    *Syncer
	ctx       context.Context
	timestamp time.Time
}

func TestSyncerSuite(t *testing.T) {
	suite.Run(t, new(SyncerTestSuite))
}

func (suite *SyncerTestSuite) SetupTest() {
	primary, err := store.NewStore(":memory:", []string{"semantic", "graph"}, nil)
	suite.Require().NoError(err)
	suite.Require().NoError(primary.Initialize())

	suite.store = primary
	suite.semantic = &fakeSecondary{name: "semantic"}
	suite.graph = &fakeSecondary{name: "graph"}
	suite.ctx = context.Background()
	suite.timestamp = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	syncer, err := NewSyncer(Config{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  2,
		BackoffMin:   time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	}, primary, []SecondaryStore{suite.semantic, suite.graph}, nil)
	suite.Require().NoError(err)
	suite.syncer = syncer
}

func (suite *SyncerTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *SyncerTestSuite) record() {
	quote := types.Quote{Symbol: "EURUSD", Timestamp: suite.timestamp, Price: 1.105, Volume: 120}
	suite.Require().NoError(suite.store.Record(suite.ctx, quote))
}

func (suite *SyncerTestSuite) TestDrainDeliversToTarget() {
	suite.record()

	delivered, err := suite.syncer.DrainOnce(suite.ctx, "semantic")
	suite.NoError(err)
	suite.Equal(1, delivered)
	suite.Equal(1, suite.semantic.appliedCount())
	suite.Equal(0, suite.graph.appliedCount())

	// Delivered entries leave the queue.
	delivered, err = suite.syncer.DrainOnce(suite.ctx, "semantic")
	suite.NoError(err)
	suite.Equal(0, delivered)
}

func (suite *SyncerTestSuite) TestFailureSchedulesRetry() {
	suite.record()
	suite.semantic.failures = 1

	delivered, err := suite.syncer.DrainOnce(suite.ctx, "semantic")
	suite.NoError(err)
	suite.Equal(0, delivered)

	// The retry is delivered once its backoff window passes.
	suite.Eventually(func() bool {
		delivered, err := suite.syncer.DrainOnce(suite.ctx, "semantic")
		return err == nil && delivered == 1
	}, time.Second, 5*time.Millisecond)

	suite.Equal(1, suite.semantic.appliedCount())
}

func (suite *SyncerTestSuite) TestExhaustedEntriesMoveToDeadLetters() {
	suite.record()
	suite.semantic.failures = 10

	// MaxAttempts is 2: two failed drains park the entry in dead letters.
	for i := 0; i < 2; i++ {
		suite.Eventually(func() bool {
			entries, err := suite.store.PendingOutbox(suite.ctx, "semantic", 10, time.Now().UTC())
			return err == nil && len(entries) == 1
		}, time.Second, 5*time.Millisecond)

		_, err := suite.syncer.DrainOnce(suite.ctx, "semantic")
		suite.NoError(err)
	}

	status, err := suite.syncer.Health(suite.ctx)
	suite.NoError(err)
	suite.Equal(1, status.DeadLetters)
	suite.False(status.Healthy)
	suite.Equal(0, status.Targets["semantic"].Pending)

	// The graph target is unaffected by the semantic failure.
	suite.Equal(1, status.Targets["graph"].Pending)
}

func (suite *SyncerTestSuite) TestRequeueDeadLetters() {
	suite.record()
	suite.semantic.failures = 10

	for i := 0; i < 2; i++ {
		suite.Eventually(func() bool {
			entries, err := suite.store.PendingOutbox(suite.ctx, "semantic", 10, time.Now().UTC())
			return err == nil && len(entries) == 1
		}, time.Second, 5*time.Millisecond)

		_, err := suite.syncer.DrainOnce(suite.ctx, "semantic")
		suite.NoError(err)
	}

	requeued, err := suite.syncer.RequeueDeadLetters(suite.ctx)
	suite.NoError(err)
	suite.Equal(1, requeued)

	// The secondary recovered; the requeued entry now delivers.
	suite.semantic.failures = 0
	suite.Eventually(func() bool {
		delivered, err := suite.syncer.DrainOnce(suite.ctx, "semantic")
		return err == nil && delivered == 1
	}, time.Second, 5*time.Millisecond)

	status, err := suite.syncer.Health(suite.ctx)
	suite.NoError(err)
	suite.True(status.Healthy)
}

func (suite *SyncerTestSuite) TestBackgroundWorkersDrain() {
	suite.record()

	suite.syncer.Start(suite.ctx)
	defer suite.syncer.Stop()

	suite.Eventually(func() bool {
		return suite.semantic.appliedCount() == 1 && suite.graph.appliedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// pingableSecondary is a fakeSecondary whose reachability can be scripted.
type pingableSecondary struct {
	fakeSecondary
	pingErr error
}

func (p *pingableSecondary) Ping(ctx context.Context) error { return p.pingErr }

func (suite *SyncerTestSuite) TestHealthReportsTargets() {
	suite.record()

	_, err := suite.syncer.DrainOnce(suite.ctx, "semantic")
	suite.NoError(err)

	status, err := suite.syncer.Health(suite.ctx)
	suite.NoError(err)
	suite.True(status.Healthy)
	// Fakes without a Ping method count as reachable.
	suite.True(status.Targets["semantic"].Reachable)
	suite.False(status.Targets["semantic"].LastDrain.IsZero())
	// The graph target has not drained yet and still owes one entry.
	suite.True(status.Targets["graph"].LastDrain.IsZero())
	suite.Equal(1, status.Targets["graph"].Pending)
}

func (suite *SyncerTestSuite) TestHealthUnreachableTarget() {
	down := &pingableSecondary{
		fakeSecondary: fakeSecondary{name: "semantic"},
		pingErr:       errors.New(errors.ErrCodeSecondaryStoreFailed, "connection refused"),
	}
	syncer, err := NewSyncer(Config{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  2,
		BackoffMin:   time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	}, suite.store, []SecondaryStore{down}, nil)
	suite.Require().NoError(err)

	status, err := syncer.Health(suite.ctx)
	suite.NoError(err)
	suite.False(status.Healthy)
	suite.False(status.Targets["semantic"].Reachable)
}

func (suite *SyncerTestSuite) TestUnknownTarget() {
	_, err := suite.syncer.DrainOnce(suite.ctx, "missing")
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *SyncerTestSuite) TestConfigValidation() {
	_, err := NewSyncer(Config{}, suite.store, nil, nil)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))

	_, err = NewSyncer(Config{
		PollInterval: time.Second,
		BatchSize:    10,
		MaxAttempts:  3,
		BackoffMin:   time.Minute,
		BackoffMax:   time.Second,
	}, suite.store, nil, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}
