package settlement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ksred/derivatives-api/internal/events"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Scheduler periodically settles due auto-settle instructions and flags
// instructions stuck in PROCESSING.
type Scheduler struct {
	db           *Database
	engine       *Engine
	events       events.Publisher
	interval     time.Duration
	overdueAfter time.Duration

	running atomic.Bool
	flagged sync.Map // instruction IDs already reported overdue
}

// NewScheduler creates a settlement scheduler.
func NewScheduler(gormDB *gorm.DB, engine *Engine, publisher events.Publisher, interval, overdueAfter time.Duration) *Scheduler {
	return &Scheduler{
		db:           NewDatabase(gormDB),
		engine:       engine,
		events:       publisher,
		interval:     interval,
		overdueAfter: overdueAfter,
	}
}

// Start runs the scheduler loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("service", "settlement_scheduler").Logger()
	logger.Info().
		Dur("interval", s.interval).
		Dur("overdue_after", s.overdueAfter).
		Msg("starting settlement scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("settlement scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce executes a single scheduler pass. Overlapping passes are skipped.
func (s *Scheduler) RunOnce() {
	if !s.running.CompareAndSwap(false, true) {
		log.Debug().Str("service", "settlement_scheduler").Msg("previous pass still running, skipping")
		return
	}
	defer s.running.Store(false)

	s.settleDueInstructions()
	s.flagOverdueInstructions()
}

// settleDueInstructions executes every PENDING auto-settle instruction whose
// settlement date has arrived. One failing instruction does not stop the
// pass.
func (s *Scheduler) settleDueInstructions() {
	logger := log.With().Str("service", "settlement_scheduler").Logger()

	due, err := s.db.GetDueAutoSettleInstructions(time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch due instructions")
		return
	}
	if len(due) == 0 {
		return
	}

	logger.Info().Int("count", len(due)).Msg("settling due instructions")

	for _, instruction := range due {
		if _, err := s.engine.Execute(instruction.InstructionID); err != nil {
			logger.Error().
				Err(err).
				Str("instruction_id", instruction.InstructionID).
				Msg("scheduled settlement failed")
		}
	}
}

// flagOverdueInstructions reports instructions stuck in PROCESSING beyond
// the overdue window. Each instruction is reported once.
func (s *Scheduler) flagOverdueInstructions() {
	logger := log.With().Str("service", "settlement_scheduler").Logger()

	cutoff := time.Now().Add(-s.overdueAfter)
	overdue, err := s.db.GetOverdueProcessingInstructions(cutoff)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch overdue instructions")
		return
	}

	for _, instruction := range overdue {
		if _, seen := s.flagged.LoadOrStore(instruction.InstructionID, struct{}{}); seen {
			continue
		}

		logger.Warn().
			Str("instruction_id", instruction.InstructionID).
			Str("client_id", instruction.ClientID).
			Time("last_updated", instruction.UpdatedAt).
			Msg("settlement instruction overdue")

		s.events.Publish(events.Event{
			Type:       events.TypeSettlementOverdue,
			ClientID:   instruction.ClientID,
			ResourceID: instruction.InstructionID,
			Region:     instruction.Region,
			Payload: map[string]interface{}{
				"status":       instruction.Status,
				"last_updated": instruction.UpdatedAt,
			},
		})
	}
}
