package margin

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

// UpsertRequirement creates or replaces the margin requirement for a
// contract. Recalculations keep the original requirement ID and the running
// variation margin.
func (d *Database) UpsertRequirement(requirement *MarginRequirement) error {
	var existing MarginRequirement
	err := d.db.Where("contract_id = ?", requirement.ContractID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(requirement).Error
	}
	if err != nil {
		return err
	}

	existing.InitialMargin = requirement.InitialMargin
	existing.MaintenanceMargin = requirement.MaintenanceMargin
	existing.Currency = requirement.Currency
	existing.CalculationMethod = requirement.CalculationMethod
	existing.Region = requirement.Region
	existing.CalculatedAt = requirement.CalculatedAt

	if err := d.db.Save(&existing).Error; err != nil {
		return err
	}
	*requirement = existing
	return nil
}

func (d *Database) GetRequirementByContractID(contractID string) (*MarginRequirement, error) {
	var requirement MarginRequirement
	if err := d.db.Where("contract_id = ?", contractID).First(&requirement).Error; err != nil {
		return nil, err
	}
	return &requirement, nil
}

func (d *Database) UpdateRequirement(requirement *MarginRequirement) error {
	return d.db.Save(requirement).Error
}

func (d *Database) UpsertPortfolioMargin(portfolio *PortfolioMargin) error {
	var existing PortfolioMargin
	err := d.db.Where("client_id = ? AND region = ?", portfolio.ClientID, portfolio.Region).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(portfolio).Error
	}
	if err != nil {
		return err
	}

	existing.InitialMargin = portfolio.InitialMargin
	existing.MaintenanceMargin = portfolio.MaintenanceMargin
	existing.DiversificationFactor = portfolio.DiversificationFactor
	existing.CalculationMethod = portfolio.CalculationMethod
	existing.CommodityGroups = portfolio.CommodityGroups
	existing.CalculatedAt = portfolio.CalculatedAt

	if err := d.db.Save(&existing).Error; err != nil {
		return err
	}
	*portfolio = existing
	return nil
}

func (d *Database) GetPortfolioMargin(clientID, region string) (*PortfolioMargin, error) {
	var portfolio PortfolioMargin
	if err := d.db.Where("client_id = ? AND region = ?", clientID, region).First(&portfolio).Error; err != nil {
		return nil, err
	}
	return &portfolio, nil
}

// GetCollateral returns the client's collateral record for a region, or a
// zero-balance record if none exists yet.
func (d *Database) GetCollateral(clientID, region string) (*UserCollateral, error) {
	var collateral UserCollateral
	err := d.db.Where("client_id = ? AND region = ?", clientID, region).First(&collateral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &UserCollateral{
			ClientID: clientID,
			Region:   region,
			Currency: "USD",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &collateral, nil
}

func (d *Database) SaveCollateral(collateral *UserCollateral) error {
	collateral.UpdatedAt = time.Now()
	return d.db.Save(collateral).Error
}

func (d *Database) CreateMarginCall(call *MarginCall) error {
	return d.db.Create(call).Error
}

func (d *Database) GetMarginCall(marginCallID string) (*MarginCall, error) {
	var call MarginCall
	if err := d.db.Where("margin_call_id = ?", marginCallID).First(&call).Error; err != nil {
		return nil, err
	}
	return &call, nil
}

func (d *Database) UpdateMarginCall(call *MarginCall) error {
	return d.db.Save(call).Error
}

func (d *Database) GetPendingMarginCall(clientID, region string) (*MarginCall, error) {
	var call MarginCall
	err := d.db.Where("client_id = ? AND region = ? AND status = ?", clientID, region, CallPending).
		First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (d *Database) GetClientMarginCalls(clientID string) ([]MarginCall, error) {
	var calls []MarginCall
	if err := d.db.Where("client_id = ?", clientID).Order("created_at DESC").Find(&calls).Error; err != nil {
		return nil, err
	}
	return calls, nil
}

// GetContractByID fetches a single contract reference.
func (d *Database) GetContractByID(contractID string) (*types.Contract, error) {
	var contract types.Contract
	if err := d.db.Where("contract_id = ?", contractID).First(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

// GetClientContractsByRegion fetches the contract records the portfolio
// calculation walks. Contracts are owned by the contracts service; this is a
// read-only reference query.
func (d *Database) GetClientContractsByRegion(clientID, region string) ([]types.Contract, error) {
	var contracts []types.Contract
	if err := d.db.Where("client_id = ? AND region = ?", clientID, region).Find(&contracts).Error; err != nil {
		return nil, err
	}
	return contracts, nil
}

// GetActiveClients returns distinct client/region pairs holding contracts,
// driving the periodic enforcement sweep.
func (d *Database) GetActiveClients() ([]ClientRegion, error) {
	var pairs []ClientRegion
	if err := d.db.Model(&types.Contract{}).
		Distinct("client_id", "region").
		Find(&pairs).Error; err != nil {
		return nil, err
	}
	return pairs, nil
}

// ClientRegion identifies a client's positions within one region.
type ClientRegion struct {
	ClientID string `json:"client_id"`
	Region   string `json:"region"`
}
