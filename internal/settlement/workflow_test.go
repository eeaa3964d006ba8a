package settlement

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/derivatives-api/internal/events"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// seedInstruction inserts an instruction with its workflow directly, skipping
// the service-level validation so edge cases can reach the engine.
func seedInstruction(t *testing.T, db *gorm.DB, engine *Engine, instruction *Instruction) {
	t.Helper()

	if instruction.InstructionID == "" {
		instruction.InstructionID = "SI_" + uuid.New().String()
	}
	if instruction.Status == "" {
		instruction.Status = StatusPending
	}
	if instruction.OriginalAmount == 0 {
		instruction.OriginalAmount = instruction.Amount
	}

	workflow := &Workflow{
		WorkflowID:    "WF_" + uuid.New().String(),
		InstructionID: instruction.InstructionID,
		Status:        WorkflowPending,
	}

	rules := engine.regions.SettlementRules(instruction.Region)
	names := buildStepNames(instruction.SettlementType, rules)
	steps := make([]WorkflowStep, len(names))
	for i, name := range names {
		steps[i] = WorkflowStep{
			WorkflowID: workflow.WorkflowID,
			StepNumber: i + 1,
			Name:       name,
			Status:     StepPending,
		}
	}

	require.NoError(t, engine.db.CreateInstructionWithWorkflow(instruction, workflow, steps))
}

func TestExecuteCashWorkflow(t *testing.T) {
	db := setupTestDB(t)
	service, engine, publisher := newTestService(t, db)
	contract := createTestContract(t, db, "client-1", "US")

	created, err := service.CreateInstruction("client-1", cashRequest(contract.ContractID, "US", 250000))
	require.NoError(t, err)

	settled, err := engine.Execute(created.Instruction.InstructionID)
	require.NoError(t, err)

	assert.Equal(t, StatusSettled, settled.Status)
	assert.True(t, strings.HasPrefix(settled.SettlementReference, "SET_"))

	workflow, err := engine.db.GetWorkflowByInstructionID(settled.InstructionID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, workflow.Status)

	steps, err := engine.db.GetWorkflowSteps(workflow.WorkflowID)
	require.NoError(t, err)
	for _, step := range steps {
		assert.Equal(t, StepCompleted, step.Status, step.Name)
		require.NotNil(t, step.StartedAt, step.Name)
		require.NotNil(t, step.CompletedAt, step.Name)
		assert.False(t, step.CompletedAt.Before(*step.StartedAt), step.Name)
	}

	record, err := engine.db.GetHistoryByInstructionID(settled.InstructionID)
	require.NoError(t, err)
	assert.Equal(t, settled.SettlementReference, record.SettlementReference)

	assert.Len(t, publisher.byType(events.TypeWorkflowStepCompleted), len(steps))
	assert.Len(t, publisher.byType(events.TypeSettlementCompleted), 1)
	assert.Empty(t, publisher.byType(events.TypeSettlementFailed))
}

func TestExecuteRejectsNonPendingInstruction(t *testing.T) {
	db := setupTestDB(t)
	service, engine, _ := newTestService(t, db)
	contract := createTestContract(t, db, "client-1", "US")

	created, err := service.CreateInstruction("client-1", cashRequest(contract.ContractID, "US", 250000))
	require.NoError(t, err)

	_, err = engine.Execute(created.Instruction.InstructionID)
	require.NoError(t, err)

	_, err = engine.Execute(created.Instruction.InstructionID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
}

func TestExecutePhysicalWorkflow(t *testing.T) {
	db := setupTestDB(t)
	service, engine, _ := newTestService(t, db)
	contract := createTestContract(t, db, "client-1", "US")

	req := cashRequest(contract.ContractID, "US", 250000)
	req.SettlementType = TypePhysical
	req.DeliveryInstructions = "Tank farm 3, Cushing OK"

	created, err := service.CreateInstruction("client-1", req)
	require.NoError(t, err)

	settled, err := engine.Execute(created.Instruction.InstructionID)
	require.NoError(t, err)

	assert.Equal(t, StatusSettled, settled.Status)
	assert.True(t, strings.HasPrefix(settled.DeliveryReference, "DLV-"))
}

func TestWorkflowStepFailureHaltsExecution(t *testing.T) {
	db := setupTestDB(t)
	_, engine, publisher := newTestService(t, db)

	// Physical settlement with no delivery instructions fails at scheduling
	instruction := &Instruction{
		ContractID:     "CON_" + uuid.New().String(),
		ClientID:       "client-1",
		SettlementType: TypePhysical,
		Side:           "BUY",
		Amount:         100000,
		Currency:       "USD",
		SettlementDate: time.Now().AddDate(0, 0, 2),
		Region:         "US",
	}
	seedInstruction(t, db, engine, instruction)

	_, err := engine.Execute(instruction.InstructionID)
	require.Error(t, err)

	var stepErr *apperrors.WorkflowStepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepDeliveryScheduling, stepErr.Step)

	failed, err := engine.db.GetInstruction(instruction.InstructionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)

	workflow, err := engine.db.GetWorkflowByInstructionID(instruction.InstructionID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, workflow.Status)

	steps, err := engine.db.GetWorkflowSteps(workflow.WorkflowID)
	require.NoError(t, err)
	for _, step := range steps {
		switch step.Name {
		case StepValidation, StepAuthorization:
			// Completed steps keep their status; there is no rollback
			assert.Equal(t, StepCompleted, step.Status, step.Name)
		case StepDeliveryScheduling:
			assert.Equal(t, StepFailed, step.Status)
			assert.NotEmpty(t, step.ErrorMessage)
		default:
			assert.Equal(t, StepPending, step.Status, step.Name)
		}
	}

	assert.Len(t, publisher.byType(events.TypeSettlementFailed), 1)
	assert.Empty(t, publisher.byType(events.TypeSettlementCompleted))
}

func TestNettingStepOffsetsPendingInstructions(t *testing.T) {
	db := setupTestDB(t)
	service, engine, _ := newTestService(t, db)
	contract := createTestContract(t, db, "client-1", "US")

	buy := cashRequest(contract.ContractID, "US", 100000)
	buy.SettlementType = TypeNetCash
	buy.Side = "BUY"
	created, err := service.CreateInstruction("client-1", buy)
	require.NoError(t, err)

	sell := cashRequest(contract.ContractID, "US", 150000)
	sell.SettlementType = TypeNetCash
	sell.Side = "SELL"
	_, err = service.CreateInstruction("client-1", sell)
	require.NoError(t, err)

	settled, err := engine.Execute(created.Instruction.InstructionID)
	require.NoError(t, err)

	// 100k bought against 150k sold nets to 50k
	assert.InDelta(t, 50000.0, settled.Amount, 0.01)
	assert.InDelta(t, 100000.0, settled.OriginalAmount, 0.01)
}

func TestNettingSkipsOtherRegionsAndTypes(t *testing.T) {
	db := setupTestDB(t)
	service, engine, _ := newTestService(t, db)
	usContract := createTestContract(t, db, "client-1", "US")
	euContract := createTestContract(t, db, "client-1", "EU")

	netted := cashRequest(usContract.ContractID, "US", 80000)
	netted.SettlementType = TypeNetCash
	netted.Side = "BUY"
	created, err := service.CreateInstruction("client-1", netted)
	require.NoError(t, err)

	// Plain cash in the same region and NET_CASH in another region must
	// not participate
	_, err = service.CreateInstruction("client-1", cashRequest(usContract.ContractID, "US", 30000))
	require.NoError(t, err)

	euReq := cashRequest(euContract.ContractID, "EU", 20000)
	euReq.SettlementType = TypeNetCash
	euReq.Side = "SELL"
	_, err = service.CreateInstruction("client-1", euReq)
	require.NoError(t, err)

	settled, err := engine.Execute(created.Instruction.InstructionID)
	require.NoError(t, err)

	assert.InDelta(t, 80000.0, settled.Amount, 0.01)
}

func TestValidationStepRejectsPastDate(t *testing.T) {
	db := setupTestDB(t)
	_, engine, _ := newTestService(t, db)

	instruction := &Instruction{
		ContractID:     "CON_" + uuid.New().String(),
		ClientID:       "client-1",
		SettlementType: TypeCash,
		Side:           "SELL",
		Amount:         10000,
		Currency:       "USD",
		SettlementDate: time.Now().AddDate(0, 0, -5),
		Region:         "US",
	}
	seedInstruction(t, db, engine, instruction)

	_, err := engine.Execute(instruction.InstructionID)
	require.Error(t, err)

	var stepErr *apperrors.WorkflowStepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepValidation, stepErr.Step)
}

func TestNextBusinessDay(t *testing.T) {
	saturday := time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)
	sunday := saturday.AddDate(0, 0, 1)
	monday := saturday.AddDate(0, 0, 2)

	assert.Equal(t, monday, NextBusinessDay(saturday))
	assert.Equal(t, monday, NextBusinessDay(sunday))
	assert.Equal(t, monday, NextBusinessDay(monday))
}

func TestGatewayRoutesCheapestRail(t *testing.T) {
	gateway := NewGateway()

	t.Run("small amount takes the domestic wire", func(t *testing.T) {
		result, err := gateway.ProcessPayment(&Instruction{
			InstructionID: "SI_test",
			Amount:        100000,
			Currency:      "USD",
		})
		require.NoError(t, err)
		assert.Equal(t, "RAIL1", result.RailID)
		assert.InDelta(t, 50.0, result.FeeAmount, 0.01)
		assert.True(t, strings.HasPrefix(result.PaymentReference, "PAY-"))
	})

	t.Run("amount above the largest rail is rejected", func(t *testing.T) {
		_, err := gateway.ProcessPayment(&Instruction{
			InstructionID: "SI_test",
			Amount:        150000000,
			Currency:      "USD",
		})
		assert.Error(t, err)
	})
}
