package settlement

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// PaymentRail represents a downstream payment network used by the
// payment_processing step. Latency is simulated; outcomes are deterministic
// so reruns of a workflow behave identically.
type PaymentRail struct {
	ID         string
	Name       string
	MinLatency int // in milliseconds
	MaxLatency int
	FeeRate    float64 // percentage of transaction value
	MaxAmount  float64 // per-transaction cap
}

var paymentRails = []*PaymentRail{
	{
		ID:         "RAIL1",
		Name:       "Domestic Wire",
		MinLatency: 5,
		MaxLatency: 30,
		FeeRate:    0.0005, // 0.05%
		MaxAmount:  50000000.0,
	},
	{
		ID:         "RAIL2",
		Name:       "Cross-Border Wire",
		MinLatency: 20,
		MaxLatency: 80,
		FeeRate:    0.001, // 0.1%
		MaxAmount:  100000000.0,
	},
	{
		ID:         "RAIL3",
		Name:       "RTGS",
		MinLatency: 2,
		MaxLatency: 10,
		FeeRate:    0.0008, // 0.08%
		MaxAmount:  25000000.0,
	},
}

// PaymentResult records the outcome of a processed payment.
type PaymentResult struct {
	PaymentReference string    `json:"payment_reference"`
	RailID           string    `json:"rail_id"`
	RailName         string    `json:"rail_name"`
	Amount           float64   `json:"amount"`
	FeeAmount        float64   `json:"fee_amount"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// Gateway fronts the payment rails and delivery agents the workflow steps
// talk to. Real integrations would live behind the same methods.
type Gateway struct{}

// NewGateway creates a settlement gateway.
func NewGateway() *Gateway {
	return &Gateway{}
}

// ProcessPayment routes the amount over the cheapest rail that can carry it.
func (g *Gateway) ProcessPayment(instruction *Instruction) (*PaymentResult, error) {
	logger := log.With().
		Str("instruction_id", instruction.InstructionID).
		Float64("amount", instruction.Amount).
		Str("currency", instruction.Currency).
		Logger()

	logger.Info().Msg("routing payment")

	var rail *PaymentRail
	for _, candidate := range paymentRails {
		if instruction.Amount > candidate.MaxAmount {
			continue
		}
		if rail == nil || candidate.FeeRate < rail.FeeRate {
			rail = candidate
		}
	}
	if rail == nil {
		logger.Error().Msg("no payment rail can carry amount")
		return nil, fmt.Errorf("no payment rail available for amount %.2f", instruction.Amount)
	}

	// Simulate network latency
	latency := rand.Intn(rail.MaxLatency-rail.MinLatency+1) + rail.MinLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)

	result := &PaymentResult{
		PaymentReference: fmt.Sprintf("PAY-%s-%d", rail.ID, time.Now().UnixNano()),
		RailID:           rail.ID,
		RailName:         rail.Name,
		Amount:           instruction.Amount,
		FeeAmount:        instruction.Amount * rail.FeeRate,
		ProcessedAt:      time.Now(),
	}

	logger.Info().
		Str("payment_reference", result.PaymentReference).
		Str("rail", rail.Name).
		Float64("fee_amount", result.FeeAmount).
		Int("latency_ms", latency).
		Msg("payment processed")

	return result, nil
}

// ScheduleDelivery books physical delivery with a warehouse agent and
// returns the delivery reference.
func (g *Gateway) ScheduleDelivery(instruction *Instruction) (string, error) {
	if instruction.DeliveryInstructions == "" {
		return "", fmt.Errorf("delivery instructions are required for physical settlement")
	}

	reference := fmt.Sprintf("DLV-%d", time.Now().UnixNano())

	log.Info().
		Str("instruction_id", instruction.InstructionID).
		Str("delivery_reference", reference).
		Time("delivery_date", instruction.SettlementDate).
		Msg("delivery scheduled")

	return reference, nil
}

// InspectDelivery runs the commodity quality inspection for a scheduled
// delivery.
func (g *Gateway) InspectDelivery(instruction *Instruction) error {
	if instruction.DeliveryReference == "" {
		return fmt.Errorf("no delivery scheduled for instruction %s", instruction.InstructionID)
	}

	log.Info().
		Str("instruction_id", instruction.InstructionID).
		Str("delivery_reference", instruction.DeliveryReference).
		Msg("quality inspection passed")

	return nil
}

// ConfirmDelivery records counterparty confirmation of receipt.
func (g *Gateway) ConfirmDelivery(instruction *Instruction) error {
	if instruction.DeliveryReference == "" {
		return fmt.Errorf("no delivery scheduled for instruction %s", instruction.InstructionID)
	}

	log.Info().
		Str("instruction_id", instruction.InstructionID).
		Str("delivery_reference", instruction.DeliveryReference).
		Msg("delivery confirmed")

	return nil
}
