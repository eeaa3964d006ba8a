package settlement

import (
	"testing"
	"time"

	"github.com/ksred/derivatives-api/internal/events"
	"github.com/ksred/derivatives-api/internal/regions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestScheduler(t *testing.T, db *gorm.DB, engine *Engine, publisher *capturePublisher) *Scheduler {
	t.Helper()
	return NewScheduler(db, engine, publisher, time.Minute, 24*time.Hour)
}

func TestRunOnceSettlesDueInstructions(t *testing.T) {
	db := setupTestDB(t)
	service, engine, publisher := newTestService(t, db)
	scheduler := newTestScheduler(t, db, engine, publisher)
	contract := createTestContract(t, db, "client-1", "US")

	// Large enough to skip inline auto-settlement at creation
	req := cashRequest(contract.ContractID, "US", 2000000)
	req.AutoSettle = true
	created, err := service.CreateInstruction("client-1", req)
	require.NoError(t, err)
	require.Equal(t, StatusPending, created.Instruction.Status)

	// Pull the settlement date back so the instruction is due
	require.NoError(t, db.Model(&Instruction{}).
		Where("instruction_id = ?", created.Instruction.InstructionID).
		UpdateColumn("settlement_date", truncateToDay(time.Now())).Error)

	scheduler.RunOnce()

	settled, err := engine.db.GetInstruction(created.Instruction.InstructionID)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, settled.Status)
	assert.Len(t, publisher.byType(events.TypeSettlementCompleted), 1)
}

func TestRunOnceIgnoresManualInstructions(t *testing.T) {
	db := setupTestDB(t)
	service, engine, publisher := newTestService(t, db)
	scheduler := newTestScheduler(t, db, engine, publisher)
	contract := createTestContract(t, db, "client-1", "US")

	created, err := service.CreateInstruction("client-1", cashRequest(contract.ContractID, "US", 50000))
	require.NoError(t, err)

	require.NoError(t, db.Model(&Instruction{}).
		Where("instruction_id = ?", created.Instruction.InstructionID).
		UpdateColumn("settlement_date", truncateToDay(time.Now())).Error)

	scheduler.RunOnce()

	instruction, err := engine.db.GetInstruction(created.Instruction.InstructionID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, instruction.Status)
}

func TestRunOnceFlagsOverdueProcessingOnce(t *testing.T) {
	db := setupTestDB(t)
	service, engine, publisher := newTestService(t, db)
	scheduler := newTestScheduler(t, db, engine, publisher)
	contract := createTestContract(t, db, "client-1", "US")

	created, err := service.CreateInstruction("client-1", cashRequest(contract.ContractID, "US", 300000))
	require.NoError(t, err)

	// Simulate an instruction stuck mid-workflow for two days
	require.NoError(t, db.Model(&Instruction{}).
		Where("instruction_id = ?", created.Instruction.InstructionID).
		UpdateColumns(map[string]interface{}{
			"status":     StatusProcessing,
			"updated_at": time.Now().Add(-48 * time.Hour),
		}).Error)

	scheduler.RunOnce()
	scheduler.RunOnce()

	overdue := publisher.byType(events.TypeSettlementOverdue)
	require.Len(t, overdue, 1)
	assert.Equal(t, created.Instruction.InstructionID, overdue[0].ResourceID)
}

func TestRunOnceRecentProcessingNotFlagged(t *testing.T) {
	db := setupTestDB(t)
	service, engine, publisher := newTestService(t, db)
	scheduler := newTestScheduler(t, db, engine, publisher)
	contract := createTestContract(t, db, "client-1", "US")

	created, err := service.CreateInstruction("client-1", cashRequest(contract.ContractID, "US", 300000))
	require.NoError(t, err)

	require.NoError(t, db.Model(&Instruction{}).
		Where("instruction_id = ?", created.Instruction.InstructionID).
		UpdateColumns(map[string]interface{}{
			"status":     StatusProcessing,
			"updated_at": time.Now().Add(-time.Hour),
		}).Error)

	scheduler.RunOnce()

	assert.Empty(t, publisher.byType(events.TypeSettlementOverdue))
}

func TestSchedulerRespectsRegionRules(t *testing.T) {
	// The scheduler executes via the engine, so regional netting rules
	// still apply to auto-settled NET_CASH instructions.
	provider := regions.NewStaticProvider()
	rules := provider.SettlementRules("US")
	assert.True(t, rules.NettingEnabled)
	assert.Contains(t, buildStepNames(TypeNetCash, rules), StepNetting)

	apac := provider.SettlementRules("APAC")
	assert.False(t, apac.NettingEnabled)
	assert.NotContains(t, buildStepNames(TypeNetCash, apac), StepNetting)
}
