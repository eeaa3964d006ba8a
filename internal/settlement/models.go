package settlement

import (
	"time"

	"gorm.io/gorm"
)

// Settlement types
const (
	TypePhysical = "PHYSICAL"
	TypeCash     = "CASH"
	TypeNetCash  = "NET_CASH"
)

// Instruction statuses
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSettled    = "SETTLED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Workflow statuses
const (
	WorkflowPending    = "PENDING"
	WorkflowInProgress = "IN_PROGRESS"
	WorkflowCompleted  = "COMPLETED"
	WorkflowFailed     = "FAILED"
)

// Workflow step statuses
const (
	StepPending    = "PENDING"
	StepProcessing = "PROCESSING"
	StepCompleted  = "COMPLETED"
	StepFailed     = "FAILED"
)

// Workflow step names
const (
	StepValidation           = "validation"
	StepAuthorization        = "authorization"
	StepNetting              = "netting"
	StepPaymentProcessing    = "payment_processing"
	StepDeliveryScheduling   = "delivery_scheduling"
	StepQualityInspection    = "quality_inspection"
	StepDeliveryConfirmation = "delivery_confirmation"
	StepSettlementCompletion = "settlement_completion"
)

// Instruction directs how and when a contract's obligation is discharged.
// Amount is the working amount: the netting step may replace it, with the
// original retained for audit.
type Instruction struct {
	gorm.Model           `json:"-"`
	InstructionID        string    `gorm:"uniqueIndex" json:"instruction_id"`
	ContractID           string    `json:"contract_id"`
	ClientID             string    `json:"client_id"`
	SettlementType       string    `json:"settlement_type"` // PHYSICAL, CASH, NET_CASH
	Side                 string    `json:"side"`            // BUY or SELL
	Amount               float64   `json:"amount"`
	OriginalAmount       float64   `json:"original_amount"`
	Currency             string    `json:"currency"`
	SettlementDate       time.Time `json:"settlement_date"`
	Status               string    `json:"status"` // PENDING, PROCESSING, SETTLED, FAILED, CANCELLED
	Region               string    `json:"region"`
	DeliveryInstructions string    `json:"delivery_instructions,omitempty"`
	DeliveryReference    string    `json:"delivery_reference,omitempty"`
	AutoSettle           bool      `json:"auto_settle"`
	SettlementReference  string    `json:"settlement_reference,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Workflow is the 1:1 execution plan for an instruction. Steps are fixed at
// creation; only their statuses change afterwards.
type Workflow struct {
	gorm.Model    `json:"-"`
	WorkflowID    string    `gorm:"uniqueIndex" json:"workflow_id"`
	InstructionID string    `gorm:"index" json:"instruction_id"`
	Status        string    `json:"status"` // PENDING, IN_PROGRESS, COMPLETED, FAILED
	CurrentStep   int       `json:"current_step"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WorkflowStep is one ordered step of a settlement workflow.
type WorkflowStep struct {
	gorm.Model   `json:"-"`
	WorkflowID   string     `gorm:"index" json:"workflow_id"`
	StepNumber   int        `json:"step_number"`
	Name         string     `json:"name"`
	Status       string     `json:"status"` // PENDING, PROCESSING, COMPLETED, FAILED
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// History is the archive record written when an instruction settles.
type History struct {
	gorm.Model          `json:"-"`
	InstructionID       string    `gorm:"uniqueIndex" json:"instruction_id"`
	ContractID          string    `json:"contract_id"`
	ClientID            string    `json:"client_id"`
	SettlementType      string    `json:"settlement_type"`
	Amount              float64   `json:"amount"`
	OriginalAmount      float64   `json:"original_amount"`
	Currency            string    `json:"currency"`
	Region              string    `json:"region"`
	SettlementReference string    `json:"settlement_reference"`
	SettledAt           time.Time `json:"settled_at"`
}

// CreateInstructionRequest is the inbound payload for creating a settlement
// instruction. SettlementDate is optional; when omitted the regional
// standard period applies.
type CreateInstructionRequest struct {
	ContractID           string     `json:"contract_id" binding:"required"`
	SettlementType       string     `json:"settlement_type" binding:"required"`
	Side                 string     `json:"side"`
	Amount               float64    `json:"amount" binding:"required"`
	Currency             string     `json:"currency" binding:"required"`
	SettlementDate       *time.Time `json:"settlement_date,omitempty"`
	Region               string     `json:"region" binding:"required"`
	DeliveryInstructions string     `json:"delivery_instructions,omitempty"`
	AutoSettle           bool       `json:"auto_settle"`
}

// InstructionResponse is the API view of an instruction and its workflow.
type InstructionResponse struct {
	Instruction *Instruction   `json:"instruction"`
	Workflow    *Workflow      `json:"workflow,omitempty"`
	Steps       []WorkflowStep `json:"steps,omitempty"`
}
