package regions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarginRulesOverrides(t *testing.T) {
	provider := NewStaticProvider()

	us := provider.MarginRules("US")
	assert.Equal(t, 0.10, us.DefaultInitialRate)
	assert.Equal(t, 48*time.Hour, us.GracePeriod)
	assert.True(t, us.PortfolioMarginingEnabled)

	apac := provider.MarginRules("APAC")
	assert.Equal(t, 0.15, apac.DefaultInitialRate)
	assert.False(t, apac.PortfolioMarginingEnabled)
}

func TestMarginRulesFallbackToGlobalDefaults(t *testing.T) {
	provider := NewStaticProvider()

	rules := provider.MarginRules("LATAM")
	assert.Equal(t, "LATAM", rules.Region)
	assert.Equal(t, 0.10, rules.DefaultInitialRate)
	assert.Equal(t, 0.075, rules.DefaultMaintenanceRate)
	assert.Equal(t, 48*time.Hour, rules.GracePeriod)
	assert.True(t, rules.PortfolioMarginingEnabled)
}

func TestSettlementRulesOverrides(t *testing.T) {
	provider := NewStaticProvider()

	eu := provider.SettlementRules("EU")
	assert.Equal(t, 2, eu.SettlementPeriodDays)
	assert.Equal(t, 15, eu.CutoffHour)
	assert.False(t, eu.SupportsMethod("PHYSICAL"))
	assert.True(t, eu.SupportsMethod("NET_CASH"))

	apac := provider.SettlementRules("APAC")
	assert.Equal(t, 3, apac.SettlementPeriodDays)
	assert.False(t, apac.NettingEnabled)
	assert.False(t, apac.SupportsMethod("NET_CASH"))
}

func TestSettlementRulesFallbackToGlobalDefaults(t *testing.T) {
	provider := NewStaticProvider()

	rules := provider.SettlementRules("LATAM")
	assert.Equal(t, "LATAM", rules.Region)
	assert.Equal(t, 2, rules.SettlementPeriodDays)
	assert.Equal(t, 16, rules.CutoffHour)
	assert.True(t, rules.NettingEnabled)
	assert.Equal(t, 1000000.0, rules.AutoSettlementThreshold)
	assert.True(t, rules.SupportsMethod("PHYSICAL"))
}
