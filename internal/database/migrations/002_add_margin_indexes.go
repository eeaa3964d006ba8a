package migrations

import (
	"github.com/ksred/derivatives-api/internal/margin"
	"gorm.io/gorm"
)

// AddMarginIndexes creates the margin tables and the indexes the enforcement
// sweep queries on.
func AddMarginIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&margin.MarginRequirement{},
		&margin.PortfolioMargin{},
		&margin.UserCollateral{},
		&margin.MarginCall{},
	); err != nil {
		return err
	}

	indexes := []string{
		// Sweep: pending margin calls per client and region
		`CREATE INDEX IF NOT EXISTS idx_margin_calls_pending
		 ON margin_calls(client_id, region, status)`,

		// Requirement lookups by client
		`CREATE INDEX IF NOT EXISTS idx_margin_requirements_client
		 ON margin_requirements(client_id, region)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
