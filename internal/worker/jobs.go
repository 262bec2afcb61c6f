package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wedogs/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type UncorroboratedLister interface {
	ListUncorroborated(ctx context.Context, minAge time.Duration, limit int) ([]models.Transaction, error)
	GetByHash(ctx context.Context, hash string) (*models.Transaction, error)
}

type Resyncer interface {
	Resync(ctx context.Context, tx models.Transaction) (string, error)
}

type StaleDonorLister interface {
	ListStale(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type ProgressionRefresher interface {
	Refresh(ctx context.Context, donorID uuid.UUID) (*models.Snapshot, error)
}

type FundableLister interface {
	ListFundable(ctx context.Context) ([]models.Campaign, error)
}

type BalanceRefresher interface {
	Refresh(ctx context.Context, c *models.Campaign) *models.Balances
}

// Job is one unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context)
}

// Schedule runs each job on its own ticker and goroutine until ctx is done,
// so a slow run of one job never delays the others. Runs of the same job do
// not overlap.
func Schedule(ctx context.Context, log *zap.Logger, jobs map[Job]time.Duration) *sync.WaitGroup {
	var wg sync.WaitGroup
	for job, every := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					started := time.Now()
					job.Run(ctx)
					log.Debug("job finished", zap.String("job", job.Name()), zap.Duration("took", time.Since(started)))
				}
			}
		}()
	}
	return &wg
}

// ResyncJob retries corroboration for donations the rail had not shown
// before their deadline. A batch stops starting new donations once Budget
// has passed; in-flight ones see the cancelled context.
type ResyncJob struct {
	Txs         UncorroboratedLister
	Donations   Resyncer
	MinAge      time.Duration
	BatchSize   int
	Concurrency int
	Budget      time.Duration
	Log         *zap.Logger
}

func (j *ResyncJob) Name() string { return "resync" }

func (j *ResyncJob) Run(ctx context.Context) {
	if j.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Budget)
		defer cancel()
	}

	txs, err := j.Txs.ListUncorroborated(ctx, j.MinAge, j.BatchSize)
	if err != nil {
		j.Log.Error("failed to list uncorroborated donations", zap.Error(err))
		return
	}

	var corroborated, checked atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.Concurrency, 1))
	for _, tx := range txs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			checked.Add(1)
			if _, err := j.Donations.Resync(gctx, tx); err != nil {
				j.Log.Error("resync failed", zap.String("tx_hash", tx.TxHash), zap.Error(err))
				return nil
			}
			current, err := j.Txs.GetByHash(gctx, tx.TxHash)
			if err == nil && current.IsCorroborated() {
				corroborated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(txs) > 0 {
		j.Log.Info("resync finished",
			zap.Int("listed", len(txs)),
			zap.Int64("checked", checked.Load()),
			zap.Int64("corroborated", corroborated.Load()),
			zap.Bool("budget_exhausted", ctx.Err() != nil),
		)
	}
}

const staleDonorBatch = 200

// ProgressionJob rewrites the cached progression columns of donors whose
// cache is older than their newest donation.
type ProgressionJob struct {
	Donors      StaleDonorLister
	Progression ProgressionRefresher
	Log         *zap.Logger
}

func (j *ProgressionJob) Name() string { return "progression_refresh" }

func (j *ProgressionJob) Run(ctx context.Context) {
	ids, err := j.Donors.ListStale(ctx, staleDonorBatch)
	if err != nil {
		j.Log.Error("failed to list stale donors", zap.Error(err))
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := j.Progression.Refresh(ctx, id); err != nil {
			j.Log.Error("progression refresh failed", zap.String("donor_id", id.String()), zap.Error(err))
		}
	}
}

// BalanceWarmJob keeps the balance cache of fundable campaigns warm.
type BalanceWarmJob struct {
	Campaigns FundableLister
	Balances  BalanceRefresher
	Log       *zap.Logger
}

func (j *BalanceWarmJob) Name() string { return "balance_warm" }

func (j *BalanceWarmJob) Run(ctx context.Context) {
	campaigns, err := j.Campaigns.ListFundable(ctx)
	if err != nil {
		j.Log.Error("failed to list campaigns", zap.Error(err))
		return
	}

	partial := 0
	for i := range campaigns {
		if ctx.Err() != nil {
			return
		}
		if b := j.Balances.Refresh(ctx, &campaigns[i]); b.Partial {
			partial++
		}
	}
	j.Log.Debug("balances warmed", zap.Int("campaigns", len(campaigns)), zap.Int("partial", partial))
}
