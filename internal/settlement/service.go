package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/derivatives-api/internal/events"
	"github.com/ksred/derivatives-api/internal/regions"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var supportedCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
	"JPY": true,
	"SGD": true,
}

// Service manages settlement instructions: validation, date resolution and
// lifecycle transitions. Workflow execution is delegated to the Engine.
type Service struct {
	db      *Database
	engine  *Engine
	regions regions.Provider
	events  events.Publisher
}

// NewService creates a settlement service backed by the given workflow engine.
func NewService(gormDB *gorm.DB, engine *Engine, regionProvider regions.Provider, publisher events.Publisher) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		engine:  engine,
		regions: regionProvider,
		events:  publisher,
	}
}

// CreateInstruction validates the request, resolves the settlement date and
// persists the instruction with its workflow plan. Instructions at or below
// the regional auto-settlement threshold with auto_settle set are executed
// immediately.
func (s *Service) CreateInstruction(clientID string, req *CreateInstructionRequest) (*InstructionResponse, error) {
	logger := log.With().
		Str("client_id", clientID).
		Str("contract_id", req.ContractID).
		Str("service", "settlement").
		Logger()

	if clientID == "" {
		return nil, apperrors.NewValidation("client_id", "client ID is required")
	}

	contract, err := s.db.GetContractByID(req.ContractID)
	if err != nil {
		logger.Warn().Err(err).Msg("contract lookup failed")
		return nil, err
	}
	if contract.ClientID != clientID {
		return nil, apperrors.NewValidation("contract_id", "contract does not belong to client")
	}

	rules := s.regions.SettlementRules(req.Region)

	switch req.SettlementType {
	case TypePhysical, TypeCash, TypeNetCash:
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedSettlementType, req.SettlementType)
	}
	if !rules.SupportsMethod(req.SettlementType) {
		return nil, fmt.Errorf("%w: %s is not permitted in region %s",
			apperrors.ErrUnsupportedSettlementType, req.SettlementType, req.Region)
	}

	if req.Amount <= 0 {
		return nil, apperrors.NewValidation("amount", "settlement amount must be positive")
	}
	if req.Amount > maxSettlementAmount {
		return nil, apperrors.NewValidation("amount",
			fmt.Sprintf("settlement amount exceeds maximum of %.0f", maxSettlementAmount))
	}
	if !supportedCurrencies[req.Currency] {
		return nil, apperrors.NewValidation("currency", "unsupported settlement currency")
	}

	side := req.Side
	if side == "" {
		side = contract.Side
	}
	if side != "BUY" && side != "SELL" {
		return nil, apperrors.NewValidation("side", "side must be BUY or SELL")
	}

	if req.SettlementType == TypePhysical && req.DeliveryInstructions == "" {
		return nil, apperrors.NewValidation("delivery_instructions",
			"delivery instructions are required for physical settlement")
	}

	settlementDate, err := s.resolveSettlementDate(req.SettlementDate, rules)
	if err != nil {
		return nil, err
	}

	instruction := &Instruction{
		InstructionID:        "SI_" + uuid.New().String(),
		ContractID:           req.ContractID,
		ClientID:             clientID,
		SettlementType:       req.SettlementType,
		Side:                 side,
		Amount:               req.Amount,
		OriginalAmount:       req.Amount,
		Currency:             req.Currency,
		SettlementDate:       settlementDate,
		Status:               StatusPending,
		Region:               req.Region,
		DeliveryInstructions: req.DeliveryInstructions,
		AutoSettle:           req.AutoSettle,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}

	workflow := &Workflow{
		WorkflowID:    "WF_" + uuid.New().String(),
		InstructionID: instruction.InstructionID,
		Status:        WorkflowPending,
		CurrentStep:   0,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	stepNames := buildStepNames(instruction.SettlementType, rules)
	steps := make([]WorkflowStep, len(stepNames))
	for i, name := range stepNames {
		steps[i] = WorkflowStep{
			WorkflowID: workflow.WorkflowID,
			StepNumber: i + 1,
			Name:       name,
			Status:     StepPending,
		}
	}

	if err := s.db.CreateInstructionWithWorkflow(instruction, workflow, steps); err != nil {
		logger.Error().Err(err).Msg("failed to create settlement instruction")
		return nil, err
	}

	s.events.Publish(events.Event{
		Type:       events.TypeSettlementInstructionCreated,
		ClientID:   clientID,
		ResourceID: instruction.InstructionID,
		Region:     instruction.Region,
		Payload: map[string]interface{}{
			"settlement_type": instruction.SettlementType,
			"amount":          instruction.Amount,
			"currency":        instruction.Currency,
			"settlement_date": instruction.SettlementDate,
		},
	})

	logger.Info().
		Str("instruction_id", instruction.InstructionID).
		Str("settlement_type", instruction.SettlementType).
		Float64("amount", instruction.Amount).
		Time("settlement_date", instruction.SettlementDate).
		Msg("settlement instruction created")

	// Small instructions flagged for auto-settlement skip the scheduler
	// and execute in-line.
	if instruction.AutoSettle && instruction.Amount <= rules.AutoSettlementThreshold {
		executed, execErr := s.engine.Execute(instruction.InstructionID)
		if execErr != nil {
			logger.Warn().Err(execErr).Msg("inline auto-settlement failed")
			if executed != nil {
				instruction = executed
			}
		} else {
			instruction = executed
		}
	}

	return s.buildResponse(instruction)
}

// resolveSettlementDate applies the regional standard period when no explicit
// date was given, and rolls any resulting weekend forward.
func (s *Service) resolveSettlementDate(requested *time.Time, rules regions.SettlementRuleSet) (time.Time, error) {
	if requested != nil {
		date := truncateToDay(*requested)
		if date.Before(truncateToDay(time.Now())) {
			return time.Time{}, apperrors.NewValidation("settlement_date", "settlement date cannot be in the past")
		}
		return NextBusinessDay(date), nil
	}

	date := truncateToDay(time.Now()).AddDate(0, 0, rules.SettlementPeriodDays)
	return NextBusinessDay(date), nil
}

// GetInstruction returns an instruction with its workflow and steps.
func (s *Service) GetInstruction(instructionID string) (*InstructionResponse, error) {
	instruction, err := s.db.GetInstruction(instructionID)
	if err != nil {
		return nil, err
	}
	return s.buildResponse(instruction)
}

// GetClientInstructions returns all of a client's instructions, newest first.
func (s *Service) GetClientInstructions(clientID string) ([]Instruction, error) {
	return s.db.GetClientInstructions(clientID)
}

// GetClientHistory returns the client's settled history, newest first.
func (s *Service) GetClientHistory(clientID string) ([]History, error) {
	return s.db.GetClientHistory(clientID)
}

// ExecuteInstruction runs the instruction's workflow to completion.
func (s *Service) ExecuteInstruction(instructionID string) (*InstructionResponse, error) {
	instruction, err := s.engine.Execute(instructionID)
	if err != nil {
		if instruction == nil {
			return nil, err
		}
		// Step failures leave a FAILED instruction worth returning.
		resp, buildErr := s.buildResponse(instruction)
		if buildErr != nil {
			return nil, err
		}
		return resp, err
	}
	return s.buildResponse(instruction)
}

// CancelSettlement cancels a PENDING instruction. Instructions that have
// started processing cannot be cancelled.
func (s *Service) CancelSettlement(instructionID, clientID string) (*Instruction, error) {
	logger := log.With().
		Str("instruction_id", instructionID).
		Str("service", "settlement").
		Logger()

	instruction, err := s.db.GetInstruction(instructionID)
	if err != nil {
		return nil, err
	}
	if clientID != "" && instruction.ClientID != clientID {
		return nil, gorm.ErrRecordNotFound
	}

	if instruction.Status != StatusPending {
		logger.Warn().Str("status", instruction.Status).Msg("cancellation rejected")
		return nil, fmt.Errorf("%w: cannot cancel instruction in status %s",
			apperrors.ErrInvalidStateTransition, instruction.Status)
	}

	instruction.Status = StatusCancelled
	if err := s.db.UpdateInstruction(instruction); err != nil {
		return nil, err
	}

	s.events.Publish(events.Event{
		Type:       events.TypeSettlementCancelled,
		ClientID:   instruction.ClientID,
		ResourceID: instruction.InstructionID,
		Region:     instruction.Region,
		Payload: map[string]interface{}{
			"amount":   instruction.Amount,
			"currency": instruction.Currency,
		},
	})

	logger.Info().Msg("settlement instruction cancelled")

	return instruction, nil
}

func (s *Service) buildResponse(instruction *Instruction) (*InstructionResponse, error) {
	resp := &InstructionResponse{Instruction: instruction}

	workflow, err := s.db.GetWorkflowByInstructionID(instruction.InstructionID)
	if err != nil {
		return nil, err
	}
	resp.Workflow = workflow

	steps, err := s.db.GetWorkflowSteps(workflow.WorkflowID)
	if err != nil {
		return nil, err
	}
	resp.Steps = steps

	return resp, nil
}
