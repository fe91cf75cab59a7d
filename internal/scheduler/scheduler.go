package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/clock"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"github.com/smallbiznis/folio/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobExpirePending     = "expire_pending"
	lockKeyExpirePending = "folio:scheduler:lock:expire_pending"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	PurchaseRepo purchasedomain.Repository
	Locker       *ratelimit.Locker   `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
	Config       Config              `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	purchaseRepo purchasedomain.Repository
	locker       *ratelimit.Locker
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.PurchaseRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		purchaseRepo: p.PurchaseRepo,
		locker:       p.Locker,
		obsMetrics:   p.ObsMetrics,
	}, nil
}

// RunOnce runs every job a single time. A job whose lock is held by another
// instance is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.ExpirePending(ctx)
	return err
}

// ExpirePending runs the expiry job once under the job lock and reports how
// many purchases moved to failed.
func (s *Scheduler) ExpirePending(ctx context.Context) (int, error) {
	return s.runJob(ctx, jobExpirePending, lockKeyExpirePending, s.ExpirePendingJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name, lockKey string, fn func(ctx context.Context) (int, error)) (int, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	run := s.newJobRun(name)
	log := s.logger(ctx).With(zap.String("job", name), zap.String("run_id", run.runID))

	var processed int
	job := func(ctx context.Context) error {
		s.logJobStart(ctx, run)
		n, err := fn(ctx)
		processed = n
		run.AddProcessed(n)
		if err != nil {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
		return err
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, lockKey, s.cfg.LockTTL, job)
		if errors.Is(err, ratelimit.ErrLockHeld) {
			log.Debug("job skipped, lock held elsewhere")
			return 0, nil
		}
	} else {
		err = job(ctx)
	}
	if err == nil {
		return processed, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("job timed out", zap.Duration("timeout", s.cfg.JobTimeout), zap.Error(err))
		return processed, nil
	}
	log.Error("job failed", zap.Error(err))
	return processed, err
}

// ExpirePendingJob moves pending purchases older than the pending TTL that
// never got a gateway session to failed, through the same conditional
// transition the webhook processor uses.
func (s *Scheduler) ExpirePendingJob(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.cfg.PendingTTL)
	expired := 0

	for {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		batch, err := s.purchaseRepo.ListStalePending(ctx, s.db, cutoff, s.cfg.BatchSize)
		if err != nil {
			return expired, err
		}
		if len(batch) == 0 {
			break
		}

		applied := 0
		for _, p := range batch {
			next, ok := purchasedomain.Next(p.Status, purchasedomain.EventPendingTimeout)
			if !ok {
				continue
			}
			changed, err := s.purchaseRepo.Transition(ctx, s.db, purchasedomain.TransitionParams{
				ID:   p.ID,
				From: p.Status,
				To:   next,
				At:   now,
			})
			if err != nil {
				return expired, err
			}
			if changed {
				applied++
				s.log.Info("pending purchase expired",
					zap.String("purchase_id", p.ID.String()),
					zap.Time("created_at", p.CreatedAt),
				)
			}
		}
		expired += applied

		if len(batch) < s.cfg.BatchSize || applied == 0 {
			break
		}
	}

	s.obsMetrics.RecordExpiredPending(expired)
	return expired, nil
}
