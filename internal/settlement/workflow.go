package settlement

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/derivatives-api/internal/events"
	"github.com/ksred/derivatives-api/internal/regions"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	maxSettlementAmount = 100000000.0 // global per-instruction cap
	highValueThreshold  = 10000000.0  // amounts above this take the slow approval path

	highValueApprovalDelay = 100 * time.Millisecond
)

// Engine executes a settlement workflow as a strictly sequential state
// machine: a step only starts after the previous one completes, and the
// first failure aborts the remainder. Completed steps are not rolled back
// on failure; that is a documented limitation, not an oversight.
type Engine struct {
	db      *Database
	regions regions.Provider
	events  events.Publisher
	gateway *Gateway
}

// NewEngine creates a settlement workflow engine.
func NewEngine(gormDB *gorm.DB, regionProvider regions.Provider, publisher events.Publisher) *Engine {
	return &Engine{
		db:      NewDatabase(gormDB),
		regions: regionProvider,
		events:  publisher,
		gateway: NewGateway(),
	}
}

// buildStepNames returns the ordered step sequence for a settlement type.
// Netting only appears for NET_CASH in regions with netting enabled.
func buildStepNames(settlementType string, rules regions.SettlementRuleSet) []string {
	steps := []string{StepValidation, StepAuthorization}

	if settlementType == TypeNetCash && rules.NettingEnabled {
		steps = append(steps, StepNetting)
	}

	if settlementType == TypePhysical {
		steps = append(steps, StepDeliveryScheduling, StepQualityInspection, StepDeliveryConfirmation)
	} else {
		steps = append(steps, StepPaymentProcessing)
	}

	return append(steps, StepSettlementCompletion)
}

// Execute drives an instruction's workflow from PENDING to SETTLED (or
// FAILED). Executing an instruction in any other state is rejected without
// mutation.
func (e *Engine) Execute(instructionID string) (*Instruction, error) {
	logger := log.With().
		Str("instruction_id", instructionID).
		Str("service", "settlement_workflow").
		Logger()

	instruction, err := e.db.GetInstruction(instructionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch instruction")
		return nil, fmt.Errorf("failed to fetch instruction: %w", err)
	}

	if instruction.Status != StatusPending {
		logger.Warn().Str("status", instruction.Status).Msg("instruction not executable")
		return nil, fmt.Errorf("%w: cannot execute instruction in status %s",
			apperrors.ErrInvalidStateTransition, instruction.Status)
	}

	workflow, err := e.db.GetWorkflowByInstructionID(instructionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch workflow")
		return nil, fmt.Errorf("failed to fetch workflow: %w", err)
	}

	steps, err := e.db.GetWorkflowSteps(workflow.WorkflowID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch workflow steps")
		return nil, fmt.Errorf("failed to fetch workflow steps: %w", err)
	}

	instruction.Status = StatusProcessing
	if err := e.db.UpdateInstruction(instruction); err != nil {
		return nil, err
	}
	workflow.Status = WorkflowInProgress
	if err := e.db.UpdateWorkflow(workflow); err != nil {
		return nil, err
	}

	logger.Info().
		Str("workflow_id", workflow.WorkflowID).
		Int("steps", len(steps)).
		Msg("starting workflow execution")

	for i := range steps {
		step := &steps[i]

		now := time.Now()
		step.Status = StepProcessing
		step.StartedAt = &now
		if err := e.db.UpdateWorkflowStep(step); err != nil {
			return nil, err
		}

		if stepErr := e.runStep(instruction, step); stepErr != nil {
			e.failWorkflow(instruction, workflow, step, stepErr)
			return instruction, apperrors.NewWorkflowStep(step.Name, stepErr.Error())
		}

		completed := time.Now()
		step.Status = StepCompleted
		step.CompletedAt = &completed
		if err := e.db.UpdateWorkflowStep(step); err != nil {
			return nil, err
		}

		workflow.CurrentStep = step.StepNumber
		if err := e.db.UpdateWorkflow(workflow); err != nil {
			return nil, err
		}

		e.events.Publish(events.Event{
			Type:       events.TypeWorkflowStepCompleted,
			ClientID:   instruction.ClientID,
			ResourceID: instruction.InstructionID,
			Region:     instruction.Region,
			Payload: map[string]interface{}{
				"workflow_id": workflow.WorkflowID,
				"step_number": step.StepNumber,
				"step_name":   step.Name,
			},
		})

		logger.Debug().
			Int("step_number", step.StepNumber).
			Str("step_name", step.Name).
			Msg("workflow step completed")
	}

	instruction.Status = StatusSettled
	if err := e.db.UpdateInstruction(instruction); err != nil {
		return nil, err
	}
	workflow.Status = WorkflowCompleted
	if err := e.db.UpdateWorkflow(workflow); err != nil {
		return nil, err
	}

	e.events.Publish(events.Event{
		Type:       events.TypeSettlementCompleted,
		ClientID:   instruction.ClientID,
		ResourceID: instruction.InstructionID,
		Region:     instruction.Region,
		Payload: map[string]interface{}{
			"settlement_reference": instruction.SettlementReference,
			"amount":               instruction.Amount,
			"currency":             instruction.Currency,
		},
	})

	logger.Info().
		Str("settlement_reference", instruction.SettlementReference).
		Float64("amount", instruction.Amount).
		Msg("settlement completed")

	return instruction, nil
}

// failWorkflow records a step failure and propagates it to the workflow and
// instruction. Prior completed steps keep their status.
func (e *Engine) failWorkflow(instruction *Instruction, workflow *Workflow, step *WorkflowStep, stepErr error) {
	logger := log.With().
		Str("instruction_id", instruction.InstructionID).
		Str("step_name", step.Name).
		Str("service", "settlement_workflow").
		Logger()

	logger.Error().Err(stepErr).Msg("workflow step failed")

	step.Status = StepFailed
	step.ErrorMessage = stepErr.Error()
	if err := e.db.UpdateWorkflowStep(step); err != nil {
		logger.Error().Err(err).Msg("failed to record step failure")
	}

	workflow.Status = WorkflowFailed
	if err := e.db.UpdateWorkflow(workflow); err != nil {
		logger.Error().Err(err).Msg("failed to record workflow failure")
	}

	instruction.Status = StatusFailed
	if err := e.db.UpdateInstruction(instruction); err != nil {
		logger.Error().Err(err).Msg("failed to record instruction failure")
	}

	e.events.Publish(events.Event{
		Type:       events.TypeSettlementFailed,
		ClientID:   instruction.ClientID,
		ResourceID: instruction.InstructionID,
		Region:     instruction.Region,
		Payload: map[string]interface{}{
			"step_name": step.Name,
			"error":     stepErr.Error(),
		},
	})
}

// runStep dispatches one workflow step.
func (e *Engine) runStep(instruction *Instruction, step *WorkflowStep) error {
	switch step.Name {
	case StepValidation:
		return e.validateInstruction(instruction)
	case StepAuthorization:
		return e.authorizeInstruction(instruction)
	case StepNetting:
		return e.netInstruction(instruction)
	case StepPaymentProcessing:
		return e.processPayment(instruction)
	case StepDeliveryScheduling:
		return e.scheduleDelivery(instruction)
	case StepQualityInspection:
		return e.gateway.InspectDelivery(instruction)
	case StepDeliveryConfirmation:
		return e.gateway.ConfirmDelivery(instruction)
	case StepSettlementCompletion:
		return e.completeSettlement(instruction)
	default:
		return fmt.Errorf("unknown workflow step %s", step.Name)
	}
}

// validateInstruction re-validates the instruction at execution time and
// applies the regional cutoff roll.
func (e *Engine) validateInstruction(instruction *Instruction) error {
	today := truncateToDay(time.Now())
	settlementDay := truncateToDay(instruction.SettlementDate)

	if settlementDay.Before(today) {
		return fmt.Errorf("settlement date %s is in the past", settlementDay.Format("2006-01-02"))
	}

	if instruction.Amount <= 0 {
		return fmt.Errorf("settlement amount must be positive")
	}
	if instruction.Amount > maxSettlementAmount {
		return fmt.Errorf("settlement amount %.2f exceeds maximum %.2f", instruction.Amount, maxSettlementAmount)
	}

	// Past the regional cutoff, same-day settlement rolls to the next
	// business day.
	rules := e.regions.SettlementRules(instruction.Region)
	now := time.Now()
	if settlementDay.Equal(today) && now.Hour() >= rules.CutoffHour {
		rolled := NextBusinessDay(settlementDay.AddDate(0, 0, 1))
		instruction.SettlementDate = rolled

		log.Info().
			Str("instruction_id", instruction.InstructionID).
			Time("settlement_date", rolled).
			Int("cutoff_hour", rules.CutoffHour).
			Msg("settlement date rolled past cutoff")

		return e.db.UpdateInstruction(instruction)
	}

	return nil
}

// authorizeInstruction gates the workflow on approval. High-value
// settlements take an additional approval pass.
func (e *Engine) authorizeInstruction(instruction *Instruction) error {
	if instruction.Amount > highValueThreshold {
		log.Info().
			Str("instruction_id", instruction.InstructionID).
			Float64("amount", instruction.Amount).
			Msg("high-value settlement, additional approval required")
		time.Sleep(highValueApprovalDelay)
	}

	return nil
}

// netInstruction offsets the instruction against the client's other pending
// NET_CASH instructions in the region. The working amount becomes the
// absolute net; the original amount is retained for audit.
func (e *Engine) netInstruction(instruction *Instruction) error {
	peers, err := e.db.GetPendingNetCashInstructions(instruction.ClientID, instruction.Region, instruction.InstructionID)
	if err != nil {
		return fmt.Errorf("failed to fetch instructions for netting: %w", err)
	}

	netAmount := signedAmount(instruction.Side, instruction.OriginalAmount)
	for _, peer := range peers {
		netAmount += signedAmount(peer.Side, peer.Amount)
	}

	instruction.Amount = math.Abs(netAmount)

	log.Info().
		Str("instruction_id", instruction.InstructionID).
		Int("netted_instructions", len(peers)+1).
		Float64("original_amount", instruction.OriginalAmount).
		Float64("net_amount", netAmount).
		Float64("working_amount", instruction.Amount).
		Msg("netting applied")

	return e.db.UpdateInstruction(instruction)
}

func (e *Engine) processPayment(instruction *Instruction) error {
	if _, err := e.gateway.ProcessPayment(instruction); err != nil {
		return err
	}
	return nil
}

func (e *Engine) scheduleDelivery(instruction *Instruction) error {
	reference, err := e.gateway.ScheduleDelivery(instruction)
	if err != nil {
		return err
	}
	instruction.DeliveryReference = reference
	return e.db.UpdateInstruction(instruction)
}

// completeSettlement assigns the settlement reference and archives the
// instruction into settlement history.
func (e *Engine) completeSettlement(instruction *Instruction) error {
	instruction.SettlementReference = "SET_" + uuid.New().String()

	record := &History{
		InstructionID:       instruction.InstructionID,
		ContractID:          instruction.ContractID,
		ClientID:            instruction.ClientID,
		SettlementType:      instruction.SettlementType,
		Amount:              instruction.Amount,
		OriginalAmount:      instruction.OriginalAmount,
		Currency:            instruction.Currency,
		Region:              instruction.Region,
		SettlementReference: instruction.SettlementReference,
		SettledAt:           time.Now(),
	}

	if err := e.db.CreateHistory(record); err != nil {
		return fmt.Errorf("failed to archive settlement: %w", err)
	}

	return e.db.UpdateInstruction(instruction)
}

func signedAmount(side string, amount float64) float64 {
	if side == "BUY" {
		return -amount
	}
	return amount
}

// NextBusinessDay rolls a date forward past Saturdays and Sundays.
func NextBusinessDay(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
