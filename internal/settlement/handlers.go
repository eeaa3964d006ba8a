package settlement

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/derivatives-api/pkg/response"
)

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for settlement endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateInstructionHandler handles POST requests to create a settlement
// instruction for the authenticated client
func (h *GinHandlers) CreateInstructionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		var req CreateInstructionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.CreateInstruction(clientID, &req)
		response.Handle(c, result, err)
	}
}

// GetInstructionHandler handles GET requests for an instruction with its
// workflow and steps
// URL parameter: instruction_id
func (h *GinHandlers) GetInstructionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instructionID := c.Param("instruction_id")

		result, err := h.service.GetInstruction(instructionID)
		response.Handle(c, result, err)
	}
}

// GetClientInstructionsHandler handles GET requests for the authenticated
// client's instructions
func (h *GinHandlers) GetClientInstructionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		instructions, err := h.service.GetClientInstructions(clientID)
		response.Handle(c, instructions, err)
	}
}

// GetClientHistoryHandler handles GET requests for the authenticated client's
// settlement history
func (h *GinHandlers) GetClientHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			response.BadRequest(c, "client ID is required")
			return
		}

		records, err := h.service.GetClientHistory(clientID)
		response.Handle(c, records, err)
	}
}

// CancelInstructionHandler handles POST requests to cancel a pending
// instruction
// URL parameter: instruction_id
func (h *GinHandlers) CancelInstructionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instructionID := c.Param("instruction_id")
		clientID := c.GetString("clientID")

		instruction, err := h.service.CancelSettlement(instructionID, clientID)
		response.Handle(c, instruction, err)
	}
}

// ExecuteInstructionHandler handles internal POST requests to run an
// instruction's workflow
// URL parameter: instruction_id
func (h *GinHandlers) ExecuteInstructionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instructionID := c.Param("instruction_id")

		result, err := h.service.ExecuteInstruction(instructionID)
		response.Handle(c, result, err)
	}
}
