package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/bank-core/internal/transfer"
)

// Engine executes the transfer a due entry describes.
type Engine interface {
	Execute(ctx context.Context, req transfer.Request) (*transfer.Result, error)
}

// Scheduler polls for due scheduled transactions and executes them.
// Claiming happens through the store's PROCESSING marker, so running
// several instances against one database is safe.
type Scheduler struct {
	store    Store
	engine   Engine
	log      zerolog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

// New creates a scheduler polling every interval, claiming up to batch
// entries per tick.
func New(store Store, engine Engine, log zerolog.Logger, interval time.Duration, batch int) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &Scheduler{
		store:    store,
		engine:   engine,
		log:      log,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().
		Dur("interval", s.interval).
		Int("batch", s.batch).
		Msg("scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduler pass failed")
		}
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and executes one batch of due entries.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now().UTC()
	claimed, err := s.store.ClaimDue(ctx, now, s.batch)
	if err != nil {
		return fmt.Errorf("failed to claim due entries: %w", err)
	}
	for _, st := range claimed {
		s.execute(ctx, st)
	}
	return nil
}

// execute runs one claimed entry. The idempotency key is derived from
// the entry and its occurrence, so a crash between the transfer commit
// and the status update cannot double-apply the money.
func (s *Scheduler) execute(ctx context.Context, st *ScheduledTransaction) {
	executedAt := s.now().UTC()
	src := st.SourceAccountID
	dst := st.DestinationAccountID

	_, err := s.engine.Execute(ctx, transfer.Request{
		IdempotencyKey:       occurrenceKey(st),
		SourceAccountID:      &src,
		DestinationAccountID: &dst,
		Amount:               st.Amount,
		Description:          st.Description,
	})
	if err != nil {
		s.log.Error().
			Err(err).
			Int64("schedule_id", st.ID).
			Msg("scheduled transfer failed")
		if ferr := s.store.Fail(ctx, st.ID, executedAt); ferr != nil {
			s.log.Error().Err(ferr).Int64("schedule_id", st.ID).Msg("failed to mark entry failed")
		}
		return
	}

	if st.Recurring {
		next := NextOccurrence(st.ScheduledAt, st.Period)
		if aerr := s.store.Advance(ctx, st.ID, next, executedAt); aerr != nil {
			s.log.Error().Err(aerr).Int64("schedule_id", st.ID).Msg("failed to advance entry")
			return
		}
		s.log.Info().
			Int64("schedule_id", st.ID).
			Time("next_at", next).
			Msg("recurring transfer executed")
		return
	}

	if cerr := s.store.Complete(ctx, st.ID, executedAt); cerr != nil {
		s.log.Error().Err(cerr).Int64("schedule_id", st.ID).Msg("failed to mark entry completed")
		return
	}
	s.log.Info().Int64("schedule_id", st.ID).Msg("scheduled transfer executed")
}

// occurrenceKey identifies one occurrence of one entry. Recurring
// entries get a fresh key each occurrence because Advance moves
// scheduled_at forward.
func occurrenceKey(st *ScheduledTransaction) string {
	return fmt.Sprintf("sched-%d-%d", st.ID, st.ScheduledAt.UTC().Unix())
}
