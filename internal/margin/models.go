package margin

import (
	"time"

	"gorm.io/gorm"
)

// Margin requirement calculation methods
const (
	MethodStandard  = "STANDARD"
	MethodPortfolio = "PORTFOLIO"
	MethodSimple    = "SIMPLE"
)

// Margin call statuses
const (
	CallPending = "PENDING"
	CallMet     = "MET"
	CallWaived  = "WAIVED"
	CallExpired = "EXPIRED"
)

// Margin check outcomes
const (
	StatusAdequate   = "ADEQUATE"
	StatusMarginCall = "MARGIN_CALL"
)

// MarginRequirement stores the computed margin for a single contract. The
// contract itself is owned upstream and referenced by ID.
type MarginRequirement struct {
	gorm.Model        `json:"-"`
	RequirementID     string    `gorm:"uniqueIndex" json:"requirement_id"`
	ContractID        string    `gorm:"uniqueIndex" json:"contract_id"`
	ClientID          string    `json:"client_id"`
	InitialMargin     float64   `json:"initial_margin"`
	MaintenanceMargin float64   `json:"maintenance_margin"`
	VariationMargin   float64   `json:"variation_margin"`
	Currency          string    `json:"currency"`
	CalculationMethod string    `json:"calculation_method"` // STANDARD or PORTFOLIO
	Region            string    `json:"region"`
	CalculatedAt      time.Time `json:"calculated_at"`
}

// PortfolioMargin stores the latest aggregate margin for a client's
// positions within one region.
type PortfolioMargin struct {
	gorm.Model            `json:"-"`
	ClientID              string    `gorm:"index:idx_portfolio_client_region,unique" json:"client_id"`
	Region                string    `gorm:"index:idx_portfolio_client_region,unique" json:"region"`
	InitialMargin         float64   `json:"initial_margin"`
	MaintenanceMargin     float64   `json:"maintenance_margin"`
	DiversificationFactor float64   `json:"diversification_factor"`
	CalculationMethod     string    `json:"calculation_method"` // SIMPLE or PORTFOLIO
	CommodityGroups       int       `json:"commodity_groups"`
	CalculatedAt          time.Time `json:"calculated_at"`
}

// UserCollateral tracks a client's collateral balances per region. Mutated
// only through explicit deposit/withdrawal calls.
type UserCollateral struct {
	gorm.Model       `json:"-"`
	ClientID         string    `gorm:"index:idx_collateral_client_region,unique" json:"client_id"`
	Region           string    `gorm:"index:idx_collateral_client_region,unique" json:"region"`
	CashBalance      float64   `json:"cash_balance"`
	SecuritiesValue  float64   `json:"securities_value"`
	CommoditiesValue float64   `json:"commodities_value"`
	Currency         string    `json:"currency"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// MarginCall is a demand for additional collateral, created when a client's
// maintenance margin exceeds available collateral.
type MarginCall struct {
	gorm.Model     `json:"-"`
	MarginCallID   string    `gorm:"uniqueIndex" json:"margin_call_id"`
	ClientID       string    `json:"client_id"`
	RequiredAmount float64   `json:"required_amount"`
	Currency       string    `json:"currency"`
	DueDate        time.Time `json:"due_date"`
	Status         string    `json:"status"` // PENDING, MET, WAIVED, EXPIRED
	Region         string    `json:"region"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MarginStatus is the outcome of a margin requirements check.
type MarginStatus struct {
	ClientID        string    `json:"client_id"`
	Region          string    `json:"region"`
	Status          string    `json:"status"` // ADEQUATE or MARGIN_CALL
	RequiredMargin  float64   `json:"required_margin"`
	AvailableMargin float64   `json:"available_margin"`
	ExcessMargin    float64   `json:"excess_margin,omitempty"`
	Deficit         float64   `json:"deficit,omitempty"`
	MarginCallID    string    `json:"margin_call_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// CollateralUpdateRequest adjusts one balance of a client's collateral.
type CollateralUpdateRequest struct {
	Region    string  `json:"region" binding:"required"`
	AssetType string  `json:"asset_type" binding:"required"` // CASH, SECURITIES, COMMODITIES
	Amount    float64 `json:"amount" binding:"required"`
	Direction string  `json:"direction" binding:"required"` // DEPOSIT or WITHDRAW
	Currency  string  `json:"currency"`
}
