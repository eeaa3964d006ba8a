package regions

import "time"

// MarginRuleSet holds the per-region margin parameters consumed by the
// margin calculator and enforcement monitor.
type MarginRuleSet struct {
	Region                    string        `json:"region"`
	DefaultInitialRate        float64       `json:"default_initial_rate"`
	DefaultMaintenanceRate    float64       `json:"default_maintenance_rate"`
	GracePeriod               time.Duration `json:"grace_period"`
	PortfolioMarginingEnabled bool          `json:"portfolio_margining_enabled"`
}

// SettlementRuleSet holds the per-region settlement parameters consumed by
// the instruction manager, workflow engine and scheduler.
type SettlementRuleSet struct {
	Region                  string   `json:"region"`
	SettlementPeriodDays    int      `json:"settlement_period_days"`
	CutoffHour              int      `json:"cutoff_hour"` // local hour after which settlement rolls a business day
	SupportedMethods        []string `json:"supported_methods"`
	NettingEnabled          bool     `json:"netting_enabled"`
	AutoSettlementThreshold float64  `json:"auto_settlement_threshold"`
}

// SupportsMethod reports whether the given settlement type is permitted in
// this region.
func (r SettlementRuleSet) SupportsMethod(method string) bool {
	for _, m := range r.SupportedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Provider supplies regional regulatory configuration. Regions without an
// explicit override fall back to global defaults.
type Provider interface {
	MarginRules(region string) MarginRuleSet
	SettlementRules(region string) SettlementRuleSet
}

// Documented global defaults, applied when a region has no override.
var (
	defaultMarginRules = MarginRuleSet{
		Region:                    "GLOBAL",
		DefaultInitialRate:        0.10,
		DefaultMaintenanceRate:    0.075,
		GracePeriod:               48 * time.Hour,
		PortfolioMarginingEnabled: true,
	}

	defaultSettlementRules = SettlementRuleSet{
		Region:                  "GLOBAL",
		SettlementPeriodDays:    2, // T+2
		CutoffHour:              16,
		SupportedMethods:        []string{"PHYSICAL", "CASH", "NET_CASH"},
		NettingEnabled:          true,
		AutoSettlementThreshold: 1000000.0,
	}
)

// StaticProvider serves rule sets from an in-memory table. Production would
// back this with the regulatory configuration store; the engines only depend
// on the Provider interface.
type StaticProvider struct {
	marginRules     map[string]MarginRuleSet
	settlementRules map[string]SettlementRuleSet
}

// NewStaticProvider creates a provider loaded with the built-in regional
// overrides.
func NewStaticProvider() *StaticProvider {
	p := &StaticProvider{
		marginRules:     make(map[string]MarginRuleSet),
		settlementRules: make(map[string]SettlementRuleSet),
	}

	p.marginRules["US"] = MarginRuleSet{
		Region:                    "US",
		DefaultInitialRate:        0.10,
		DefaultMaintenanceRate:    0.075,
		GracePeriod:               48 * time.Hour,
		PortfolioMarginingEnabled: true,
	}
	p.marginRules["EU"] = MarginRuleSet{
		Region:                    "EU",
		DefaultInitialRate:        0.12,
		DefaultMaintenanceRate:    0.09,
		GracePeriod:               72 * time.Hour,
		PortfolioMarginingEnabled: true,
	}
	p.marginRules["APAC"] = MarginRuleSet{
		Region:                    "APAC",
		DefaultInitialRate:        0.15,
		DefaultMaintenanceRate:    0.1125,
		GracePeriod:               24 * time.Hour,
		PortfolioMarginingEnabled: false,
	}

	p.settlementRules["US"] = SettlementRuleSet{
		Region:                  "US",
		SettlementPeriodDays:    2,
		CutoffHour:              16,
		SupportedMethods:        []string{"PHYSICAL", "CASH", "NET_CASH"},
		NettingEnabled:          true,
		AutoSettlementThreshold: 1000000.0,
	}
	p.settlementRules["EU"] = SettlementRuleSet{
		Region:                  "EU",
		SettlementPeriodDays:    2,
		CutoffHour:              15,
		SupportedMethods:        []string{"CASH", "NET_CASH"},
		NettingEnabled:          true,
		AutoSettlementThreshold: 500000.0,
	}
	p.settlementRules["APAC"] = SettlementRuleSet{
		Region:                  "APAC",
		SettlementPeriodDays:    3,
		CutoffHour:              14,
		SupportedMethods:        []string{"PHYSICAL", "CASH"},
		NettingEnabled:          false,
		AutoSettlementThreshold: 250000.0,
	}

	return p
}

// MarginRules returns the margin rule set for the region, falling back to
// global defaults when no override exists.
func (p *StaticProvider) MarginRules(region string) MarginRuleSet {
	if rules, ok := p.marginRules[region]; ok {
		return rules
	}
	rules := defaultMarginRules
	rules.Region = region
	return rules
}

// SettlementRules returns the settlement rule set for the region, falling
// back to global defaults when no override exists.
func (p *StaticProvider) SettlementRules(region string) SettlementRuleSet {
	if rules, ok := p.settlementRules[region]; ok {
		return rules
	}
	rules := defaultSettlementRules
	rules.Region = region
	return rules
}
