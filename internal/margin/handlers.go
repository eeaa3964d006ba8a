package margin

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/derivatives-api/pkg/response"
)

// GinHandlers contains HTTP handlers for margin endpoints
type GinHandlers struct {
	calc    *Calculator
	monitor *Monitor
}

// NewGinHandlers creates a new set of HTTP handlers for margin endpoints
func NewGinHandlers(calc *Calculator, monitor *Monitor) *GinHandlers {
	return &GinHandlers{
		calc:    calc,
		monitor: monitor,
	}
}

// CalculateMarginHandler handles POST requests to (re)calculate margin for a
// contract. Requires internal authentication.
// URL parameter: contract_id
func (h *GinHandlers) CalculateMarginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contractID := c.Param("contract_id")

		requirement, err := h.calc.CalculateForContractID(contractID)
		response.Handle(c, requirement, err)
	}
}

// GetRequirementHandler handles GET requests for a contract's stored margin
// requirement.
func (h *GinHandlers) GetRequirementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contractID := c.Param("contract_id")

		requirement, err := h.calc.GetRequirement(contractID)
		response.Handle(c, requirement, err)
	}
}

// CalculatePortfolioMarginHandler handles POST requests to compute the
// caller's aggregate margin for a region.
func (h *GinHandlers) CalculatePortfolioMarginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		region := c.Query("region")
		if region == "" {
			response.BadRequest(c, "region is required")
			return
		}

		portfolio, err := h.calc.CalculatePortfolioMargin(clientID, region)
		response.Handle(c, portfolio, err)
	}
}

// GetPortfolioMarginHandler handles GET requests for the caller's stored
// portfolio margin in a region.
func (h *GinHandlers) GetPortfolioMarginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		region := c.Query("region")
		if region == "" {
			response.BadRequest(c, "region is required")
			return
		}

		portfolio, err := h.calc.GetPortfolioMargin(clientID, region)
		response.Handle(c, portfolio, err)
	}
}

// CheckMarginHandler handles POST requests to run a margin requirements
// check for a client. Requires internal authentication.
func (h *GinHandlers) CheckMarginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			ClientID string `json:"client_id" binding:"required"`
			Region   string `json:"region" binding:"required"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		status, err := h.monitor.CheckMarginRequirements(request.ClientID, request.Region)
		response.Handle(c, status, err)
	}
}

// UpdateCollateralHandler handles POST requests to deposit or withdraw
// collateral.
func (h *GinHandlers) UpdateCollateralHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		var request CollateralUpdateRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		collateral, err := h.monitor.UpdateCollateral(clientID, request)
		response.Handle(c, collateral, err)
	}
}

// GetCollateralHandler handles GET requests for the caller's collateral
// balances in a region.
func (h *GinHandlers) GetCollateralHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		region := c.Query("region")
		if region == "" {
			response.BadRequest(c, "region is required")
			return
		}

		collateral, err := h.monitor.GetCollateral(clientID, region)
		response.Handle(c, collateral, err)
	}
}

// GetMarginCallsHandler handles GET requests for the caller's margin calls.
func (h *GinHandlers) GetMarginCallsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		calls, err := h.monitor.GetClientMarginCalls(clientID)
		response.Handle(c, calls, err)
	}
}

// ResolveMarginCallHandler handles POST requests to resolve a margin call.
// Requires internal authentication.
// URL parameter: margin_call_id
func (h *GinHandlers) ResolveMarginCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		marginCallID := c.Param("margin_call_id")
		var request struct {
			Resolution string `json:"resolution" binding:"required"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		call, err := h.monitor.ResolveMarginCall(marginCallID, request.Resolution)
		response.Handle(c, call, err)
	}
}

// UpdateVariationMarginHandler handles POST requests to adjust a contract's
// variation margin. Requires internal authentication.
// URL parameter: contract_id
func (h *GinHandlers) UpdateVariationMarginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contractID := c.Param("contract_id")
		var request struct {
			Amount float64 `json:"amount" binding:"required"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		requirement, err := h.calc.UpdateVariationMargin(contractID, request.Amount)
		response.Handle(c, requirement, err)
	}
}
