package margin

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/derivatives-api/internal/regions"
	"github.com/ksred/derivatives-api/internal/types"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	tradingDaysPerYear = 252.0

	// Portfolio margining parameters
	initialMarginBuffer      = 1.2  // buffer applied to portfolio initial margin
	minDiversificationSquare = 0.25 // bounds the diversification factor to [0.5, 1.0]
	maxNettingBenefit        = 0.5  // perfectly offsetting positions halve group risk
)

// riskScenarios are the SPAN-like price moves sampled when margining a
// future, in standard deviations of one-day volatility.
var riskScenarios = []float64{-3, -2, -1, 0, 1, 2, 3}

// Calculator computes initial/maintenance margin per contract and aggregate
// margin across a client's portfolio.
type Calculator struct {
	db           *Database
	regions      regions.Provider
	correlations CorrelationProvider
}

// NewCalculator creates a margin calculator backed by the given database,
// region rules provider and correlation data provider.
func NewCalculator(gormDB *gorm.DB, regionProvider regions.Provider, correlations CorrelationProvider) *Calculator {
	return &Calculator{
		db:           NewDatabase(gormDB),
		regions:      regionProvider,
		correlations: correlations,
	}
}

// CalculateInitialMargin computes and persists the margin requirement for a
// single contract, dispatching on contract type.
func (c *Calculator) CalculateInitialMargin(contract *types.Contract) (*MarginRequirement, error) {
	logger := log.With().
		Str("contract_id", contract.ContractID).
		Str("contract_type", contract.ContractType).
		Str("service", "margin_calculator").
		Logger()

	rules := c.regions.MarginRules(contract.Region)

	var initial, maintenance float64
	var err error

	switch contract.ContractType {
	case types.ContractFuture:
		initial, maintenance = c.futureMargin(contract, rules)
	case types.ContractOption:
		initial, maintenance = c.optionMargin(contract, rules)
	case types.ContractSwap:
		initial, maintenance = c.swapMargin(contract)
	case types.ContractStructuredNote:
		initial, maintenance = c.structuredNoteMargin(contract, rules)
	default:
		logger.Error().Msg("unsupported contract type")
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedContractType, contract.ContractType)
	}

	requirement := &MarginRequirement{
		RequirementID:     "MR_" + uuid.New().String(),
		ContractID:        contract.ContractID,
		ClientID:          contract.ClientID,
		InitialMargin:     initial,
		MaintenanceMargin: maintenance,
		Currency:          contract.Currency,
		CalculationMethod: MethodStandard,
		Region:            contract.Region,
		CalculatedAt:      time.Now(),
	}

	if err = c.db.UpsertRequirement(requirement); err != nil {
		logger.Error().Err(err).Msg("failed to persist margin requirement")
		return nil, fmt.Errorf("failed to persist margin requirement: %w", err)
	}

	logger.Info().
		Float64("initial_margin", requirement.InitialMargin).
		Float64("maintenance_margin", requirement.MaintenanceMargin).
		Str("region", requirement.Region).
		Msg("margin requirement calculated")

	return requirement, nil
}

// futureMargin prices a future with a seven-point risk array over one-day
// volatility moves. The margin rate floors at the regional default and
// scales up with volatility.
func (c *Calculator) futureMargin(contract *types.Contract, rules regions.MarginRuleSet) (float64, float64) {
	dailyVol := contract.Volatility * math.Sqrt(1.0/tradingDaysPerYear)

	commodityRisk := 0.0
	for _, scenario := range riskScenarios {
		deviation := math.Abs(contract.NotionalAmount * scenario * dailyVol)
		if deviation > commodityRisk {
			commodityRisk = deviation
		}
	}

	initialRate := math.Max(rules.DefaultInitialRate, 2.0*contract.Volatility)
	maintenanceRate := math.Max(rules.DefaultMaintenanceRate, 1.5*contract.Volatility)

	log.Debug().
		Str("contract_id", contract.ContractID).
		Float64("daily_volatility", dailyVol).
		Float64("commodity_risk", commodityRisk).
		Float64("initial_rate", initialRate).
		Float64("maintenance_rate", maintenanceRate).
		Msg("future risk array evaluated")

	return contract.NotionalAmount * initialRate, contract.NotionalAmount * maintenanceRate
}

// optionMargin margins a short option as premium plus half the equivalent
// future's margin. A long option's maximum loss is the premium paid.
func (c *Calculator) optionMargin(contract *types.Contract, rules regions.MarginRuleSet) (float64, float64) {
	if !contract.ShortPosition {
		return contract.Premium, contract.Premium
	}

	futureInitial, futureMaintenance := c.futureMargin(contract, rules)
	initial := contract.Premium + 0.5*futureInitial
	maintenance := contract.Premium + 0.5*futureMaintenance
	return initial, maintenance
}

// swapMargin scales notional by a duration risk factor growing with the
// square root of time to maturity.
func (c *Calculator) swapMargin(contract *types.Contract) (float64, float64) {
	years := time.Until(contract.MaturityDate).Hours() / 24.0 / 365.0
	if years < 0 {
		years = 0
	}
	durationRisk := math.Sqrt(years) * 0.01

	initial := contract.NotionalAmount * durationRisk * 2.0
	maintenance := contract.NotionalAmount * durationRisk * 1.5
	return initial, maintenance
}

// structuredNoteMargin scales the regional rate by the unprotected share of
// principal.
func (c *Calculator) structuredNoteMargin(contract *types.Contract, rules regions.MarginRuleSet) (float64, float64) {
	riskLevel := (100.0 - contract.PrincipalProtected) / 100.0
	initialRate := rules.DefaultInitialRate * (1.0 + riskLevel)

	initial := contract.NotionalAmount * initialRate
	maintenance := initial * 0.75
	return initial, maintenance
}

// CalculatePortfolioMargin computes the aggregate margin across all of a
// client's contracts within one region. When the region disables portfolio
// margining the stored per-contract margins are simply summed; otherwise
// netting and diversification benefits apply.
func (c *Calculator) CalculatePortfolioMargin(clientID, region string) (*PortfolioMargin, error) {
	logger := log.With().
		Str("client_id", clientID).
		Str("region", region).
		Str("service", "margin_calculator").
		Logger()

	contracts, err := c.db.GetClientContractsByRegion(clientID, region)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch client contracts")
		return nil, fmt.Errorf("failed to fetch client contracts: %w", err)
	}

	requirements := make(map[string]*MarginRequirement, len(contracts))
	for i := range contracts {
		contract := &contracts[i]
		requirement, err := c.db.GetRequirementByContractID(contract.ContractID)
		if err != nil {
			// Not yet margined; calculate on demand.
			requirement, err = c.CalculateInitialMargin(contract)
			if err != nil {
				return nil, err
			}
		}
		requirements[contract.ContractID] = requirement
	}

	rules := c.regions.MarginRules(region)

	portfolio := &PortfolioMargin{
		ClientID:              clientID,
		Region:                region,
		DiversificationFactor: 1.0,
		CalculatedAt:          time.Now(),
	}

	if !rules.PortfolioMarginingEnabled {
		for _, requirement := range requirements {
			portfolio.InitialMargin += requirement.InitialMargin
			portfolio.MaintenanceMargin += requirement.MaintenanceMargin
		}
		portfolio.CalculationMethod = MethodSimple
		portfolio.CommodityGroups = len(groupByCommodity(contracts))
	} else {
		c.applyPortfolioMethod(portfolio, contracts, requirements)
	}

	if err := c.db.UpsertPortfolioMargin(portfolio); err != nil {
		logger.Error().Err(err).Msg("failed to persist portfolio margin")
		return nil, fmt.Errorf("failed to persist portfolio margin: %w", err)
	}

	logger.Info().
		Float64("initial_margin", portfolio.InitialMargin).
		Float64("maintenance_margin", portfolio.MaintenanceMargin).
		Float64("diversification_factor", portfolio.DiversificationFactor).
		Str("method", portfolio.CalculationMethod).
		Int("commodity_groups", portfolio.CommodityGroups).
		Msg("portfolio margin calculated")

	return portfolio, nil
}

// applyPortfolioMethod nets each commodity group and applies a
// correlation-weighted diversification factor across groups.
func (c *Calculator) applyPortfolioMethod(
	portfolio *PortfolioMargin,
	contracts []types.Contract,
	requirements map[string]*MarginRequirement,
) {
	groups := groupByCommodity(contracts)

	commodities := make([]string, 0, len(groups))
	groupRisks := make(map[string]float64, len(groups))
	totalRisk := 0.0

	for commodity, group := range groups {
		sumMargins := 0.0
		netNotional := 0.0
		grossNotional := 0.0

		for _, contract := range group {
			if requirement, ok := requirements[contract.ContractID]; ok {
				sumMargins += requirement.InitialMargin
			}
			netNotional += contract.SignedNotional()
			grossNotional += math.Abs(contract.NotionalAmount)
		}

		nettingFactor := 1.0
		if grossNotional > 0 {
			nettingFactor = math.Abs(netNotional) / grossNotional
		}

		groupRisk := sumMargins * (maxNettingBenefit + maxNettingBenefit*nettingFactor)
		groupRisks[commodity] = groupRisk
		totalRisk += groupRisk
		commodities = append(commodities, commodity)

		log.Debug().
			Str("commodity", commodity).
			Float64("netting_factor", nettingFactor).
			Float64("group_risk", groupRisk).
			Int("contracts", len(group)).
			Msg("commodity group netted")
	}

	factor := c.diversificationFactor(commodities, groupRisks, totalRisk)

	portfolio.InitialMargin = totalRisk * factor * initialMarginBuffer
	portfolio.MaintenanceMargin = totalRisk * factor
	portfolio.DiversificationFactor = factor
	portfolio.CalculationMethod = MethodPortfolio
	portfolio.CommodityGroups = len(groups)
}

// diversificationFactor weights the pairwise correlation matrix by each
// group's share of total risk. Single-commodity portfolios get exactly 1.0;
// the factor is floored so the benefit never exceeds 75%.
func (c *Calculator) diversificationFactor(commodities []string, groupRisks map[string]float64, totalRisk float64) float64 {
	if len(commodities) <= 1 || totalRisk <= 0 {
		return 1.0
	}

	weighted := 0.0
	for _, a := range commodities {
		wa := groupRisks[a] / totalRisk
		for _, b := range commodities {
			wb := groupRisks[b] / totalRisk
			weighted += wa * wb * c.correlations.Correlation(a, b)
		}
	}

	return math.Sqrt(math.Max(minDiversificationSquare, weighted))
}

// UpdateVariationMargin adjusts the running variation margin on a contract's
// stored requirement.
func (c *Calculator) UpdateVariationMargin(contractID string, amount float64) (*MarginRequirement, error) {
	requirement, err := c.db.GetRequirementByContractID(contractID)
	if err != nil {
		return nil, err
	}

	requirement.VariationMargin += amount
	requirement.CalculatedAt = time.Now()

	if err := c.db.UpdateRequirement(requirement); err != nil {
		return nil, fmt.Errorf("failed to update variation margin: %w", err)
	}

	return requirement, nil
}

// CalculateForContractID looks up the contract and computes its margin
// requirement.
func (c *Calculator) CalculateForContractID(contractID string) (*MarginRequirement, error) {
	contract, err := c.db.GetContractByID(contractID)
	if err != nil {
		return nil, err
	}
	return c.CalculateInitialMargin(contract)
}

// GetRequirement retrieves the stored margin requirement for a contract.
func (c *Calculator) GetRequirement(contractID string) (*MarginRequirement, error) {
	return c.db.GetRequirementByContractID(contractID)
}

// GetPortfolioMargin retrieves the latest stored portfolio margin.
func (c *Calculator) GetPortfolioMargin(clientID, region string) (*PortfolioMargin, error) {
	return c.db.GetPortfolioMargin(clientID, region)
}

func groupByCommodity(contracts []types.Contract) map[string][]types.Contract {
	groups := make(map[string][]types.Contract)
	for _, contract := range contracts {
		groups[contract.Commodity] = append(groups[contract.Commodity], contract)
	}
	return groups
}
