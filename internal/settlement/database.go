package settlement

import (
	"errors"
	"time"

	"github.com/ksred/derivatives-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateInstructionWithWorkflow persists an instruction together with its
// workflow and steps in a single transaction. Workflow shape is immutable
// after this point.
func (d *Database) CreateInstructionWithWorkflow(instruction *Instruction, workflow *Workflow, steps []WorkflowStep) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(instruction).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Create(workflow).Error; err != nil {
		tx.Rollback()
		return err
	}

	for i := range steps {
		if err := tx.Create(&steps[i]).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (d *Database) GetInstruction(instructionID string) (*Instruction, error) {
	var instruction Instruction
	if err := d.db.Where("instruction_id = ?", instructionID).First(&instruction).Error; err != nil {
		return nil, err
	}
	return &instruction, nil
}

func (d *Database) UpdateInstruction(instruction *Instruction) error {
	instruction.UpdatedAt = time.Now()
	return d.db.Save(instruction).Error
}

func (d *Database) GetClientInstructions(clientID string) ([]Instruction, error) {
	var instructions []Instruction
	if err := d.db.Where("client_id = ?", clientID).Order("created_at DESC").Find(&instructions).Error; err != nil {
		return nil, err
	}
	return instructions, nil
}

// GetPendingNetCashInstructions returns the client's PENDING NET_CASH
// instructions in a region, excluding the one currently executing.
func (d *Database) GetPendingNetCashInstructions(clientID, region, excludeID string) ([]Instruction, error) {
	var instructions []Instruction
	if err := d.db.Where(
		"client_id = ? AND region = ? AND settlement_type = ? AND status = ? AND instruction_id <> ?",
		clientID, region, TypeNetCash, StatusPending, excludeID,
	).Find(&instructions).Error; err != nil {
		return nil, err
	}
	return instructions, nil
}

// GetDueAutoSettleInstructions returns PENDING auto-settle instructions
// whose settlement date has arrived.
func (d *Database) GetDueAutoSettleInstructions(now time.Time) ([]Instruction, error) {
	var instructions []Instruction
	if err := d.db.Where(
		"status = ? AND auto_settle = ? AND settlement_date <= ?",
		StatusPending, true, now,
	).Find(&instructions).Error; err != nil {
		return nil, err
	}
	return instructions, nil
}

// GetOverdueProcessingInstructions returns PROCESSING instructions that
// have not been touched since the cutoff.
func (d *Database) GetOverdueProcessingInstructions(cutoff time.Time) ([]Instruction, error) {
	var instructions []Instruction
	if err := d.db.Where(
		"status = ? AND updated_at < ?",
		StatusProcessing, cutoff,
	).Find(&instructions).Error; err != nil {
		return nil, err
	}
	return instructions, nil
}

func (d *Database) GetWorkflowByInstructionID(instructionID string) (*Workflow, error) {
	var workflow Workflow
	if err := d.db.Where("instruction_id = ?", instructionID).First(&workflow).Error; err != nil {
		return nil, err
	}
	return &workflow, nil
}

func (d *Database) UpdateWorkflow(workflow *Workflow) error {
	workflow.UpdatedAt = time.Now()
	return d.db.Save(workflow).Error
}

func (d *Database) GetWorkflowSteps(workflowID string) ([]WorkflowStep, error) {
	var steps []WorkflowStep
	if err := d.db.Where("workflow_id = ?", workflowID).Order("step_number ASC").Find(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (d *Database) UpdateWorkflowStep(step *WorkflowStep) error {
	return d.db.Save(step).Error
}

func (d *Database) CreateHistory(record *History) error {
	return d.db.Create(record).Error
}

func (d *Database) GetHistoryByInstructionID(instructionID string) (*History, error) {
	var record History
	if err := d.db.Where("instruction_id = ?", instructionID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (d *Database) GetClientHistory(clientID string) ([]History, error) {
	var records []History
	if err := d.db.Where("client_id = ?", clientID).Order("settled_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetContractByID looks up the underlying contract for an instruction.
func (d *Database) GetContractByID(contractID string) (*types.Contract, error) {
	var contract types.Contract
	if err := d.db.Where("contract_id = ?", contractID).First(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

// InstructionExists reports whether any instruction references the contract.
func (d *Database) InstructionExists(contractID string) (bool, error) {
	var instruction Instruction
	err := d.db.Where("contract_id = ?", contractID).First(&instruction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
