package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"greendrake/referral/internal/events"
	"greendrake/referral/internal/metrics"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
	"greendrake/referral/internal/storage"
	"greendrake/referral/internal/utils"
)

// SweepStore is the part of the pre-market store the sweep needs.
type SweepStore interface {
	FindExpirable(ctx context.Context, now time.Time) ([]models.PreMarketRequest, error)
	FindRetirable(ctx context.Context, cutoff time.Time) ([]models.PreMarketRequest, error)
	Expire(ctx context.Context, id utils.SixID, now time.Time) error
	Retire(ctx context.Context, id utils.SixID, now time.Time) error
}

// Locker takes a lease shared between processes, e.g. *cache.Lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// SweepResult summarises one sweep run.
type SweepResult struct {
	Expired    int       `json:"expiredCount"`
	Deleted    int       `json:"deletedCount"`
	Failed     int       `json:"failedCount"`
	Unchanged  int       `json:"unchangedCount"`
	Skipped    bool      `json:"skipped"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type SweeperOptions struct {
	// Archive receives a snapshot of each request before it is retired. Nil
	// disables archiving.
	Archive storage.IArchive
	// Lock, when set, must be acquired before a run starts.
	Lock Locker
	// RetireAfter returns how long after its window closed a request is
	// retired. Zero or negative disables retiring.
	RetireAfter func(ctx context.Context) time.Duration
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// ExpirationSweeper deactivates pre-market requests whose moving window or
// visibility deadline has passed and retires long-expired ones.
//
// The running flag only excludes overlapping runs inside one process. Several
// processes sweeping the same database need Lock as well.
type ExpirationSweeper struct {
	store   SweepStore
	emitter events.Emitter
	opts    SweeperOptions
	running atomic.Bool
}

func NewExpirationSweeper(store SweepStore, emitter events.Emitter, opts SweeperOptions) *ExpirationSweeper {
	if emitter == nil {
		emitter = events.Discard{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ExpirationSweeper{store: store, emitter: emitter, opts: opts}
}

// Running reports whether a sweep is in flight in this process.
func (s *ExpirationSweeper) Running() bool {
	return s.running.Load()
}

// Run performs one sweep. A run that finds another run in flight returns
// immediately with Skipped set. An error means the candidate query failed and
// nothing was processed.
func (s *ExpirationSweeper) Run(ctx context.Context) (SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		log.Println("WARN: expiration sweep already running, skipping this run")
		s.opts.Metrics.SweepRun("skipped")
		return SweepResult{Skipped: true}, nil
	}
	defer s.running.Store(false)

	if s.opts.Lock != nil {
		release, ok, err := s.opts.Lock.Acquire(ctx)
		if err != nil {
			log.Printf("ERROR expiration sweep could not take lock: %v", err)
			s.opts.Metrics.SweepRun("error")
			return SweepResult{}, err
		}
		if !ok {
			log.Println("WARN: expiration sweep lock held by another instance, skipping this run")
			s.opts.Metrics.SweepRun("skipped")
			return SweepResult{Skipped: true}, nil
		}
		defer release()
	}

	now := s.opts.Now()
	result := SweepResult{StartedAt: now}
	start := time.Now()

	var retirable []models.PreMarketRequest
	if s.opts.RetireAfter != nil {
		if after := s.opts.RetireAfter(ctx); after > 0 {
			var err error
			retirable, err = s.store.FindRetirable(ctx, now.Add(-after))
			if err != nil {
				log.Printf("ERROR expiration sweep: failed to query retirable requests: %v", err)
				s.opts.Metrics.SweepRun("error")
				return result, fmt.Errorf("query retirable requests: %w", err)
			}
		}
	}
	expirable, err := s.store.FindExpirable(ctx, now)
	if err != nil {
		log.Printf("ERROR expiration sweep: failed to query expirable requests: %v", err)
		s.opts.Metrics.SweepRun("error")
		return result, fmt.Errorf("query expirable requests: %w", err)
	}

	retired := make(map[utils.SixID]struct{}, len(retirable))
	for i := range retirable {
		if ctx.Err() != nil {
			break
		}
		retired[retirable[i].ID] = struct{}{}
		s.apply(ctx, &result, &retirable[i], now, true)
	}
	for i := range expirable {
		if ctx.Err() != nil {
			break
		}
		if _, done := retired[expirable[i].ID]; done {
			continue
		}
		s.apply(ctx, &result, &expirable[i], now, false)
	}

	result.FinishedAt = s.opts.Now()
	s.opts.Metrics.ObserveSweep(time.Since(start))
	s.opts.Metrics.SweepItem("expired", result.Expired)
	s.opts.Metrics.SweepItem("deleted", result.Deleted)
	s.opts.Metrics.SweepItem("failed", result.Failed)
	s.opts.Metrics.SweepItem("unchanged", result.Unchanged)
	if result.Failed > 0 {
		s.opts.Metrics.SweepRun("partial")
	} else {
		s.opts.Metrics.SweepRun("ok")
	}

	log.Printf("Expiration sweep done: expired=%d deleted=%d failed=%d unchanged=%d (%s)",
		result.Expired, result.Deleted, result.Failed, result.Unchanged, time.Since(start).Round(time.Millisecond))
	return result, ctx.Err()
}

// apply transitions one request and records the outcome. A failure, panics
// included, is counted and logged and never stops the batch.
func (s *ExpirationSweeper) apply(ctx context.Context, result *SweepResult, req *models.PreMarketRequest, now time.Time, retire bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR expiration sweep: panic on pre-market request %s: %v", req.ID, r)
			result.Failed++
		}
	}()

	var err error
	if retire {
		err = s.retire(ctx, req, now)
	} else {
		err = s.store.Expire(ctx, req.ID, now)
	}

	switch {
	case err == nil:
	case errors.Is(err, services.ErrConditionNotMet), errors.Is(err, services.ErrNotFound):
		result.Unchanged++
		return
	default:
		log.Printf("ERROR expiration sweep: pre-market request %s: %v", req.ID, err)
		result.Failed++
		return
	}

	eventType := events.PreMarketRequestExpired
	if retire {
		result.Deleted++
		eventType = events.PreMarketRequestRetired
	} else {
		result.Expired++
	}
	if err := s.emitter.Emit(ctx, events.ForPreMarket(eventType, req)); err != nil {
		log.Printf("WARN: failed to emit %s for pre-market request %s: %v", eventType, req.ID, err)
	}
}

func (s *ExpirationSweeper) retire(ctx context.Context, req *models.PreMarketRequest, now time.Time) error {
	if s.opts.Archive != nil {
		key := fmt.Sprintf("pre-market/%s/%s.json", now.Format("2006/01/02"), req.ID)
		if err := s.opts.Archive.PutJSON(ctx, key, req); err != nil {
			return fmt.Errorf("archive before retire: %w", err)
		}
	}
	return s.store.Retire(ctx, req.ID, now)
}

// Start runs the sweep every interval until ctx is cancelled. With
// immediate set the first run happens right away.
func (s *ExpirationSweeper) Start(ctx context.Context, interval time.Duration, immediate bool) {
	fmt.Printf("Expiration sweep scheduled every %s\n", interval)
	runOnce := func() {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("ERROR expiration sweep run failed, retrying next tick: %v", err)
		}
	}
	if immediate {
		go runOnce()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("Expiration sweep scheduler stopped.")
			return
		case <-ticker.C:
			go runOnce()
		}
	}
}
