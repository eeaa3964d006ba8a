package margin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/derivatives-api/internal/events"
	"github.com/ksred/derivatives-api/internal/regions"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const securitiesHaircut = 0.8

// Monitor enforces margin requirements: it compares required margin to
// available collateral, issues and resolves margin calls, and runs a
// periodic background sweep across all clients with open positions.
type Monitor struct {
	db            *Database
	calc          *Calculator
	regions       regions.Provider
	events        events.Publisher
	sweepInterval time.Duration

	sweeping    atomic.Bool
	clientLocks sync.Map // clientID|region -> *sync.Mutex
}

// NewMonitor creates a margin enforcement monitor.
func NewMonitor(
	gormDB *gorm.DB,
	calc *Calculator,
	regionProvider regions.Provider,
	publisher events.Publisher,
	sweepInterval time.Duration,
) *Monitor {
	return &Monitor{
		db:            NewDatabase(gormDB),
		calc:          calc,
		regions:       regionProvider,
		events:        publisher,
		sweepInterval: sweepInterval,
	}
}

// lockClient serializes margin checks and collateral updates for one
// client/region, preventing a balance update racing a concurrent check.
func (m *Monitor) lockClient(clientID, region string) *sync.Mutex {
	key := clientID + "|" + region
	lock, _ := m.clientLocks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// CheckMarginRequirements recomputes the client's portfolio margin and
// compares it to available collateral (cash plus securities at a haircut;
// commodities are not margin eligible). A deficit triggers a margin call.
func (m *Monitor) CheckMarginRequirements(clientID, region string) (*MarginStatus, error) {
	lock := m.lockClient(clientID, region)
	lock.Lock()
	defer lock.Unlock()

	logger := log.With().
		Str("client_id", clientID).
		Str("region", region).
		Str("service", "margin_monitor").
		Logger()

	portfolio, err := m.calc.CalculatePortfolioMargin(clientID, region)
	if err != nil {
		logger.Error().Err(err).Msg("failed to calculate portfolio margin")
		return nil, fmt.Errorf("failed to calculate portfolio margin: %w", err)
	}

	collateral, err := m.db.GetCollateral(clientID, region)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch collateral")
		return nil, fmt.Errorf("failed to fetch collateral: %w", err)
	}

	available := collateral.CashBalance + collateral.SecuritiesValue*securitiesHaircut

	status := &MarginStatus{
		ClientID:        clientID,
		Region:          region,
		RequiredMargin:  portfolio.MaintenanceMargin,
		AvailableMargin: available,
		Timestamp:       time.Now(),
	}

	if portfolio.MaintenanceMargin > available {
		status.Status = StatusMarginCall
		status.Deficit = portfolio.MaintenanceMargin - available

		call, err := m.issueMarginCall(clientID, region, status.Deficit, collateral.Currency)
		if err != nil {
			// Margin call issuance failures are non-fatal to the check itself.
			logger.Error().Err(err).Msg("failed to issue margin call")
		} else if call != nil {
			status.MarginCallID = call.MarginCallID
		}

		logger.Warn().
			Float64("required_margin", status.RequiredMargin).
			Float64("available_margin", status.AvailableMargin).
			Float64("deficit", status.Deficit).
			Msg("margin deficit detected")

		return status, nil
	}

	status.Status = StatusAdequate
	status.ExcessMargin = available - portfolio.MaintenanceMargin

	logger.Info().
		Float64("required_margin", status.RequiredMargin).
		Float64("available_margin", status.AvailableMargin).
		Float64("excess_margin", status.ExcessMargin).
		Msg("margin requirements satisfied")

	return status, nil
}

// issueMarginCall creates a margin call for the deficit with a due date set
// by the regional grace period. An already-pending call for the same
// client/region is reused rather than duplicated by every sweep.
func (m *Monitor) issueMarginCall(clientID, region string, deficit float64, currency string) (*MarginCall, error) {
	existing, err := m.db.GetPendingMarginCall(clientID, region)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.RequiredAmount = deficit
		existing.UpdatedAt = time.Now()
		if err := m.db.UpdateMarginCall(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	rules := m.regions.MarginRules(region)
	if currency == "" {
		currency = "USD"
	}

	call := &MarginCall{
		MarginCallID:   "MC_" + uuid.New().String(),
		ClientID:       clientID,
		RequiredAmount: deficit,
		Currency:       currency,
		DueDate:        time.Now().Add(rules.GracePeriod),
		Status:         CallPending,
		Region:         region,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	if err := m.db.CreateMarginCall(call); err != nil {
		return nil, err
	}

	m.events.Publish(events.Event{
		Type:       events.TypeMarginCall,
		ClientID:   clientID,
		ResourceID: call.MarginCallID,
		Region:     region,
		Payload: map[string]interface{}{
			"required_amount": call.RequiredAmount,
			"currency":        call.Currency,
			"due_date":        call.DueDate,
		},
	})

	log.Info().
		Str("margin_call_id", call.MarginCallID).
		Str("client_id", clientID).
		Float64("required_amount", call.RequiredAmount).
		Time("due_date", call.DueDate).
		Msg("margin call issued")

	return call, nil
}

// ResolveMarginCall moves a pending margin call to MET, WAIVED or EXPIRED.
func (m *Monitor) ResolveMarginCall(marginCallID, resolution string) (*MarginCall, error) {
	resolution = strings.ToUpper(resolution)
	if resolution != CallMet && resolution != CallWaived && resolution != CallExpired {
		return nil, apperrors.NewValidation("resolution", "resolution must be MET, WAIVED or EXPIRED")
	}

	call, err := m.db.GetMarginCall(marginCallID)
	if err != nil {
		return nil, err
	}

	if call.Status != CallPending {
		return nil, fmt.Errorf("%w: margin call %s is %s", apperrors.ErrInvalidStateTransition, marginCallID, call.Status)
	}

	call.Status = resolution
	call.UpdatedAt = time.Now()

	if err := m.db.UpdateMarginCall(call); err != nil {
		return nil, err
	}

	m.events.Publish(events.Event{
		Type:       events.TypeMarginCallResolved,
		ClientID:   call.ClientID,
		ResourceID: call.MarginCallID,
		Region:     call.Region,
		Payload: map[string]interface{}{
			"resolution": resolution,
		},
	})

	log.Info().
		Str("margin_call_id", call.MarginCallID).
		Str("resolution", resolution).
		Msg("margin call resolved")

	return call, nil
}

// GetMarginCall retrieves a margin call by ID.
func (m *Monitor) GetMarginCall(marginCallID string) (*MarginCall, error) {
	return m.db.GetMarginCall(marginCallID)
}

// GetClientMarginCalls retrieves all margin calls for a client.
func (m *Monitor) GetClientMarginCalls(clientID string) ([]MarginCall, error) {
	return m.db.GetClientMarginCalls(clientID)
}

// UpdateCollateral applies a deposit or withdrawal to one of the client's
// collateral balances, holding the same lock as the margin check.
func (m *Monitor) UpdateCollateral(clientID string, req CollateralUpdateRequest) (*UserCollateral, error) {
	if req.Amount <= 0 {
		return nil, apperrors.NewValidation("amount", "amount must be positive")
	}

	lock := m.lockClient(clientID, req.Region)
	lock.Lock()
	defer lock.Unlock()

	collateral, err := m.db.GetCollateral(clientID, req.Region)
	if err != nil {
		return nil, err
	}
	if req.Currency != "" {
		collateral.Currency = req.Currency
	}

	delta := req.Amount
	switch strings.ToUpper(req.Direction) {
	case "DEPOSIT":
	case "WITHDRAW":
		delta = -delta
	default:
		return nil, apperrors.NewValidation("direction", "direction must be DEPOSIT or WITHDRAW")
	}

	switch strings.ToUpper(req.AssetType) {
	case "CASH":
		if collateral.CashBalance+delta < 0 {
			return nil, apperrors.NewValidation("amount", "insufficient cash balance")
		}
		collateral.CashBalance += delta
	case "SECURITIES":
		if collateral.SecuritiesValue+delta < 0 {
			return nil, apperrors.NewValidation("amount", "insufficient securities balance")
		}
		collateral.SecuritiesValue += delta
	case "COMMODITIES":
		if collateral.CommoditiesValue+delta < 0 {
			return nil, apperrors.NewValidation("amount", "insufficient commodities balance")
		}
		collateral.CommoditiesValue += delta
	default:
		return nil, apperrors.NewValidation("asset_type", "asset type must be CASH, SECURITIES or COMMODITIES")
	}

	if err := m.db.SaveCollateral(collateral); err != nil {
		return nil, err
	}

	log.Info().
		Str("client_id", clientID).
		Str("region", req.Region).
		Str("asset_type", strings.ToUpper(req.AssetType)).
		Float64("amount", delta).
		Msg("collateral updated")

	return collateral, nil
}

// GetCollateral returns the client's collateral balances for a region.
func (m *Monitor) GetCollateral(clientID, region string) (*UserCollateral, error) {
	return m.db.GetCollateral(clientID, region)
}

// Start runs the periodic enforcement sweep until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "margin_monitor").Logger()
	logger.Info().Dur("interval", m.sweepInterval).Msg("starting margin enforcement sweep")

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down margin enforcement sweep")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep re-checks margin for every client with open positions. At most one
// sweep runs at a time; a tick arriving mid-sweep is skipped.
func (m *Monitor) Sweep() {
	if !m.sweeping.CompareAndSwap(false, true) {
		log.Warn().Str("component", "margin_monitor").Msg("previous sweep still running, skipping")
		return
	}
	defer m.sweeping.Store(false)

	logger := log.With().Str("component", "margin_monitor").Logger()

	clients, err := m.db.GetActiveClients()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list clients for margin sweep")
		return
	}

	logger.Info().Int("client_count", len(clients)).Msg("running margin sweep")

	for _, client := range clients {
		if _, err := m.CheckMarginRequirements(client.ClientID, client.Region); err != nil {
			// One client failing must not abort the batch.
			logger.Error().
				Err(err).
				Str("client_id", client.ClientID).
				Str("region", client.Region).
				Msg("margin check failed during sweep")
		}
	}
}
