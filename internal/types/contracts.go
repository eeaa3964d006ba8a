package types

import (
	"time"

	"gorm.io/gorm"
)

// Contract types
const (
	ContractFuture         = "FUTURE"
	ContractOption         = "OPTION"
	ContractSwap           = "SWAP"
	ContractStructuredNote = "STRUCTURED_NOTE"
)

// Contract sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Contract represents a traded derivatives contract. Origination and pricing
// happen upstream; this record carries the fields the margin and settlement
// engines need.
type Contract struct {
	gorm.Model         `json:"-"`
	ContractID         string    `gorm:"uniqueIndex" json:"contract_id"`
	ClientID           string    `json:"client_id"`
	ContractType       string    `json:"contract_type"` // FUTURE, OPTION, SWAP, STRUCTURED_NOTE
	Commodity          string    `json:"commodity"`
	Side               string    `json:"side"` // BUY or SELL
	NotionalAmount     float64   `json:"notional_amount"`
	Currency           string    `json:"currency"`
	Volatility         float64   `json:"volatility"` // annualized
	Premium            float64   `json:"premium"`    // options only
	ShortPosition      bool      `json:"short_position"`
	PrincipalProtected float64   `json:"principal_protected"` // structured notes, percentage 0-100
	MaturityDate       time.Time `json:"maturity_date"`
	Region             string    `json:"region"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SignedNotional returns the notional with BUY positive and SELL negative,
// used when computing netting benefit across a commodity group.
func (c *Contract) SignedNotional() float64 {
	if c.Side == SideSell {
		return -c.NotionalAmount
	}
	return c.NotionalAmount
}
