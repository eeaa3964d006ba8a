package contracts

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/derivatives-api/internal/auth"
	"github.com/ksred/derivatives-api/internal/types"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"github.com/ksred/derivatives-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service registers and queries contracts. Origination and pricing live
// upstream; the margin and settlement engines only need the contract record.
type Service struct {
	db *Database
}

// NewService creates a new contract service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

var supportedContractTypes = map[string]bool{
	types.ContractFuture:         true,
	types.ContractOption:         true,
	types.ContractSwap:           true,
	types.ContractStructuredNote: true,
}

// RegisterContract validates and stores a contract reference.
func (s *Service) RegisterContract(contract *types.Contract) error {
	logger := log.With().
		Str("client_id", contract.ClientID).
		Str("service", "contracts").
		Logger()

	if contract.ClientID == "" {
		return apperrors.NewValidation("client_id", "client ID is required")
	}
	if !supportedContractTypes[contract.ContractType] {
		return apperrors.ErrUnsupportedContractType
	}
	if contract.NotionalAmount <= 0 {
		return apperrors.NewValidation("notional_amount", "notional amount must be positive")
	}
	if contract.Side != types.SideBuy && contract.Side != types.SideSell {
		return apperrors.NewValidation("side", "side must be BUY or SELL")
	}
	if contract.MaturityDate.Before(time.Now()) {
		return apperrors.NewValidation("maturity_date", "maturity date must be in the future")
	}

	contract.ContractID = "CON_" + uuid.New().String()
	contract.CreatedAt = time.Now()
	contract.UpdatedAt = time.Now()

	if err := s.db.CreateContract(contract); err != nil {
		logger.Error().Err(err).Msg("failed to create contract record")
		return err
	}

	logger.Info().
		Str("contract_id", contract.ContractID).
		Str("contract_type", contract.ContractType).
		Str("commodity", contract.Commodity).
		Float64("notional_amount", contract.NotionalAmount).
		Msg("contract registered")

	return nil
}

// GetContract retrieves a contract by its ID
func (s *Service) GetContract(contractID string) (*types.Contract, error) {
	return s.db.GetContract(contractID)
}

// GetClientContracts retrieves all contracts for a client
func (s *Service) GetClientContracts(clientID string) ([]types.Contract, error) {
	return s.db.GetClientContracts(clientID)
}

// GinHandlers contains HTTP handlers for contract endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for contract endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterContractHandler handles POST requests to register contracts
// Requires a valid JWT token; the contract is registered to the caller
func (h *GinHandlers) RegisterContractHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var contract types.Contract
		if err := c.ShouldBindJSON(&contract); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		if clientID := auth.GetClientID(claims); clientID != "" {
			contract.ClientID = clientID
		}

		err := h.service.RegisterContract(&contract)
		response.Handle(c, contract, err)
	}
}

// GetContractHandler handles GET requests to retrieve a contract
// URL parameter: contract_id
func (h *GinHandlers) GetContractHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contractID := c.Param("contract_id")

		contract, err := h.service.GetContract(contractID)
		response.Handle(c, contract, err)
	}
}

// GetClientContractsHandler handles GET requests for a client's contracts
func (h *GinHandlers) GetClientContractsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		contracts, err := h.service.GetClientContracts(clientID)
		response.Handle(c, contracts, err)
	}
}
