package margin

import (
	"sync"
	"testing"
	"time"

	"github.com/ksred/derivatives-api/internal/events"
	"github.com/ksred/derivatives-api/internal/regions"
	"github.com/ksred/derivatives-api/internal/types"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []events.Event
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func newTestMonitor(t *testing.T, db *gorm.DB) (*Monitor, *capturePublisher) {
	t.Helper()

	publisher := &capturePublisher{}
	calc := newTestCalculator(t, db)
	monitor := NewMonitor(db, calc, regions.NewStaticProvider(), publisher, time.Minute)
	return monitor, publisher
}

func depositCollateral(t *testing.T, monitor *Monitor, clientID, region, assetType string, amount float64) {
	t.Helper()

	_, err := monitor.UpdateCollateral(clientID, CollateralUpdateRequest{
		Region:    region,
		AssetType: assetType,
		Amount:    amount,
		Direction: "DEPOSIT",
		Currency:  "USD",
	})
	require.NoError(t, err)
}

func TestCheckMarginRequirementsAdequate(t *testing.T) {
	db := setupTestDB(t)
	monitor, publisher := newTestMonitor(t, db)

	// Single future: portfolio maintenance is 700k (no netting benefit)
	contract := newContract("client-1", types.ContractFuture, "crude_oil", "BUY", 1000000)
	saveContract(t, db, contract)

	depositCollateral(t, monitor, "client-1", "US", "CASH", 500000)
	depositCollateral(t, monitor, "client-1", "US", "SECURITIES", 300000)

	status, err := monitor.CheckMarginRequirements("client-1", "US")
	require.NoError(t, err)

	assert.Equal(t, StatusAdequate, status.Status)
	// Securities count at an 80% haircut: 500000 + 240000
	assert.InDelta(t, 740000.0, status.AvailableMargin, 1.0)
	assert.InDelta(t, 700000.0, status.RequiredMargin, 1.0)
	assert.InDelta(t, 40000.0, status.ExcessMargin, 1.0)
	assert.Empty(t, status.MarginCallID)
	assert.Empty(t, publisher.byType(events.TypeMarginCall))
}

func TestCheckMarginRequirementsDeficitIssuesCall(t *testing.T) {
	db := setupTestDB(t)
	monitor, publisher := newTestMonitor(t, db)

	contract := newContract("client-1", types.ContractFuture, "crude_oil", "BUY", 1000000)
	saveContract(t, db, contract)

	depositCollateral(t, monitor, "client-1", "US", "CASH", 400000)
	depositCollateral(t, monitor, "client-1", "US", "SECURITIES", 100000)

	status, err := monitor.CheckMarginRequirements("client-1", "US")
	require.NoError(t, err)

	assert.Equal(t, StatusMarginCall, status.Status)
	assert.InDelta(t, 480000.0, status.AvailableMargin, 1.0)
	assert.InDelta(t, 220000.0, status.Deficit, 1.0)
	require.NotEmpty(t, status.MarginCallID)

	call, err := monitor.GetMarginCall(status.MarginCallID)
	require.NoError(t, err)
	assert.Equal(t, CallPending, call.Status)
	assert.InDelta(t, 220000.0, call.RequiredAmount, 1.0)

	// US grace period is 48 hours
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), call.DueDate, time.Minute)

	require.Len(t, publisher.byType(events.TypeMarginCall), 1)
}

func TestCheckMarginRequirementsReusesPendingCall(t *testing.T) {
	db := setupTestDB(t)
	monitor, publisher := newTestMonitor(t, db)

	contract := newContract("client-1", types.ContractFuture, "crude_oil", "BUY", 1000000)
	saveContract(t, db, contract)

	first, err := monitor.CheckMarginRequirements("client-1", "US")
	require.NoError(t, err)
	require.NotEmpty(t, first.MarginCallID)

	second, err := monitor.CheckMarginRequirements("client-1", "US")
	require.NoError(t, err)

	assert.Equal(t, first.MarginCallID, second.MarginCallID)
	// Only the original issuance publishes an event
	assert.Len(t, publisher.byType(events.TypeMarginCall), 1)

	calls, err := monitor.GetClientMarginCalls("client-1")
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestResolveMarginCall(t *testing.T) {
	db := setupTestDB(t)
	monitor, publisher := newTestMonitor(t, db)

	contract := newContract("client-1", types.ContractFuture, "crude_oil", "BUY", 1000000)
	saveContract(t, db, contract)

	status, err := monitor.CheckMarginRequirements("client-1", "US")
	require.NoError(t, err)
	require.NotEmpty(t, status.MarginCallID)

	t.Run("pending call resolves to MET", func(t *testing.T) {
		call, err := monitor.ResolveMarginCall(status.MarginCallID, "met")
		require.NoError(t, err)
		assert.Equal(t, CallMet, call.Status)
		assert.Len(t, publisher.byType(events.TypeMarginCallResolved), 1)
	})

	t.Run("resolved call cannot transition again", func(t *testing.T) {
		_, err := monitor.ResolveMarginCall(status.MarginCallID, "WAIVED")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	})

	t.Run("invalid resolution is rejected", func(t *testing.T) {
		_, err := monitor.ResolveMarginCall(status.MarginCallID, "CLOSED")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestUpdateCollateral(t *testing.T) {
	db := setupTestDB(t)
	monitor, _ := newTestMonitor(t, db)

	t.Run("deposit creates the balance", func(t *testing.T) {
		collateral, err := monitor.UpdateCollateral("client-2", CollateralUpdateRequest{
			Region:    "EU",
			AssetType: "CASH",
			Amount:    250000,
			Direction: "DEPOSIT",
			Currency:  "EUR",
		})
		require.NoError(t, err)
		assert.InDelta(t, 250000.0, collateral.CashBalance, 0.01)
		assert.Equal(t, "EUR", collateral.Currency)
	})

	t.Run("withdrawal reduces the balance", func(t *testing.T) {
		collateral, err := monitor.UpdateCollateral("client-2", CollateralUpdateRequest{
			Region:    "EU",
			AssetType: "CASH",
			Amount:    100000,
			Direction: "WITHDRAW",
		})
		require.NoError(t, err)
		assert.InDelta(t, 150000.0, collateral.CashBalance, 0.01)
	})

	t.Run("overdrawn withdrawal is rejected", func(t *testing.T) {
		_, err := monitor.UpdateCollateral("client-2", CollateralUpdateRequest{
			Region:    "EU",
			AssetType: "CASH",
			Amount:    1000000,
			Direction: "WITHDRAW",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("unknown asset type is rejected", func(t *testing.T) {
		_, err := monitor.UpdateCollateral("client-2", CollateralUpdateRequest{
			Region:    "EU",
			AssetType: "CRYPTO",
			Amount:    1000,
			Direction: "DEPOSIT",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("non-positive amount is rejected", func(t *testing.T) {
		_, err := monitor.UpdateCollateral("client-2", CollateralUpdateRequest{
			Region:    "EU",
			AssetType: "CASH",
			Amount:    -5,
			Direction: "DEPOSIT",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestGetCollateralDefaultsToZeroBalances(t *testing.T) {
	db := setupTestDB(t)
	monitor, _ := newTestMonitor(t, db)

	collateral, err := monitor.GetCollateral("client-unknown", "US")
	require.NoError(t, err)

	assert.Zero(t, collateral.CashBalance)
	assert.Zero(t, collateral.SecuritiesValue)
	assert.Equal(t, "USD", collateral.Currency)
}

func TestSweepChecksEveryActiveClient(t *testing.T) {
	db := setupTestDB(t)
	monitor, publisher := newTestMonitor(t, db)

	// Two undercollateralized clients in different regions
	saveContract(t, db, newContract("client-a", types.ContractFuture, "crude_oil", "BUY", 1000000))
	apac := newContract("client-b", types.ContractFuture, "gold", "BUY", 500000)
	apac.Region = "APAC"
	saveContract(t, db, apac)

	monitor.Sweep()

	callsA, err := monitor.GetClientMarginCalls("client-a")
	require.NoError(t, err)
	assert.Len(t, callsA, 1)

	callsB, err := monitor.GetClientMarginCalls("client-b")
	require.NoError(t, err)
	assert.Len(t, callsB, 1)

	assert.Len(t, publisher.byType(events.TypeMarginCall), 2)
}
