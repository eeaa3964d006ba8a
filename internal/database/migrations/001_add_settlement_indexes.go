package migrations

import (
	"github.com/ksred/derivatives-api/internal/settlement"
	"gorm.io/gorm"
)

// AddSettlementIndexes creates the settlement tables and the indexes the
// scheduler and netting step query on.
func AddSettlementIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&settlement.Instruction{},
		&settlement.Workflow{},
		&settlement.WorkflowStep{},
		&settlement.History{},
	); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Scheduler sweep: due auto-settle instructions
		`CREATE INDEX IF NOT EXISTS idx_instructions_auto_settle
		 ON instructions(status, auto_settle, settlement_date)`,

		// Scheduler sweep: stuck PROCESSING instructions
		`CREATE INDEX IF NOT EXISTS idx_instructions_status_updated
		 ON instructions(status, updated_at)`,

		// Netting step: client's pending NET_CASH peers in a region
		`CREATE INDEX IF NOT EXISTS idx_instructions_netting
		 ON instructions(client_id, region, settlement_type, status)`,

		// Client instruction listing
		`CREATE INDEX IF NOT EXISTS idx_instructions_client
		 ON instructions(client_id, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
