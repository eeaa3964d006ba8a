package contracts

import (
	"github.com/ksred/derivatives-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateContract(contract *types.Contract) error {
	return d.db.Create(contract).Error
}

func (d *Database) GetContract(contractID string) (*types.Contract, error) {
	var contract types.Contract
	if err := d.db.Where("contract_id = ?", contractID).First(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (d *Database) GetClientContracts(clientID string) ([]types.Contract, error) {
	var contracts []types.Contract
	if err := d.db.Where("client_id = ?", clientID).Order("created_at DESC").Find(&contracts).Error; err != nil {
		return nil, err
	}
	return contracts, nil
}

func (d *Database) GetClientContractsByRegion(clientID, region string) ([]types.Contract, error) {
	var contracts []types.Contract
	if err := d.db.Where("client_id = ? AND region = ?", clientID, region).Find(&contracts).Error; err != nil {
		return nil, err
	}
	return contracts, nil
}
