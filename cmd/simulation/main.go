package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/derivatives-api/internal/auth"
	"github.com/ksred/derivatives-api/internal/contracts"
	"github.com/ksred/derivatives-api/internal/database"
	"github.com/ksred/derivatives-api/internal/events"
	"github.com/ksred/derivatives-api/internal/margin"
	"github.com/ksred/derivatives-api/internal/regions"
	"github.com/ksred/derivatives-api/internal/settlement"
	"github.com/ksred/derivatives-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	numContracts  = 12
	serverAddress = "http://localhost:8080"
)

var (
	commodities   = []string{"crude_oil", "natural_gas", "gold", "silver", "power", "wheat"}
	contractTypes = []string{types.ContractFuture, types.ContractOption, types.ContractSwap, types.ContractStructuredNote}
	sides         = []string{"BUY", "SELL"}
	simRegions    = []string{"US", "EU", "APAC"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// simulationClient handles HTTP communication with the margin and settlement API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// newSimulationClient creates a client and authenticates against the API
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// doJSON issues an authenticated request and decodes the response envelope
// into out (when out is non-nil).
func (sc *simulationClient) doJSON(method, path string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return json.Unmarshal(envelope.Data, out)
}

// registerContract submits a random derivative contract and returns its ID
func (sc *simulationClient) registerContract() (*types.Contract, error) {
	contract := &types.Contract{
		ContractType:   contractTypes[rand.Intn(len(contractTypes))],
		Commodity:      commodities[rand.Intn(len(commodities))],
		Side:           sides[rand.Intn(len(sides))],
		NotionalAmount: float64(rand.Intn(900)+100) * 1000,
		Currency:       "USD",
		Volatility:     0.15 + rand.Float64()*0.35,
		MaturityDate:   time.Now().AddDate(0, rand.Intn(12)+1, 0),
		Region:         simRegions[rand.Intn(len(simRegions))],
	}
	if contract.ContractType == types.ContractOption {
		contract.Premium = contract.NotionalAmount * 0.02
		contract.ShortPosition = rand.Intn(2) == 0
	}
	if contract.ContractType == types.ContractStructuredNote {
		contract.PrincipalProtected = float64(rand.Intn(101))
	}

	var created types.Contract
	if err := sc.doJSON("POST", "/api/v1/contracts", contract, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func main() {
	// Start server in background
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to come up
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create simulation client")
	}

	start := time.Now()
	registered := 0
	settled := 0
	failed := 0

	// Fund collateral in every region first so margin checks pass
	for _, region := range simRegions {
		deposit := map[string]interface{}{
			"region":     region,
			"asset_type": "CASH",
			"amount":     5000000.0,
			"direction":  "DEPOSIT",
			"currency":   "USD",
		}
		if err := simClient.doJSON("POST", "/api/v1/margin/collateral", deposit, nil); err != nil {
			log.Error().Err(err).Str("region", region).Msg("Failed to deposit collateral")
		}
	}

	// Register contracts and calculate their margins
	var contractList []*types.Contract
	for i := 0; i < numContracts; i++ {
		contract, err := simClient.registerContract()
		if err != nil {
			log.Error().Err(err).Msg("Failed to register contract")
			failed++
			continue
		}
		registered++
		contractList = append(contractList, contract)

		var requirement margin.MarginRequirement
		if err := simClient.doJSON("POST",
			fmt.Sprintf("/api/v1/internal/margin/calculate/%s", contract.ContractID),
			nil, &requirement); err != nil {
			log.Error().Err(err).Str("contract_id", contract.ContractID).Msg("Failed to calculate margin")
			continue
		}

		log.Info().
			Str("contract_id", contract.ContractID).
			Str("contract_type", contract.ContractType).
			Float64("initial_margin", requirement.InitialMargin).
			Float64("maintenance_margin", requirement.MaintenanceMargin).
			Msg("Margin calculated")
	}

	// Portfolio margin and enforcement check per region
	for _, region := range simRegions {
		var portfolio margin.PortfolioMargin
		if err := simClient.doJSON("POST",
			fmt.Sprintf("/api/v1/margin/portfolio?region=%s", region),
			nil, &portfolio); err != nil {
			log.Debug().Err(err).Str("region", region).Msg("No portfolio margin for region")
			continue
		}

		log.Info().
			Str("region", region).
			Float64("initial_margin", portfolio.InitialMargin).
			Float64("diversification_factor", portfolio.DiversificationFactor).
			Msg("Portfolio margin calculated")

		check := map[string]string{"client_id": auth.TestAPIKey, "region": region}
		var status margin.MarginStatus
		if err := simClient.doJSON("POST", "/api/v1/internal/margin/check", check, &status); err != nil {
			log.Error().Err(err).Str("region", region).Msg("Margin check failed")
			continue
		}

		log.Info().
			Str("region", region).
			Str("status", status.Status).
			Float64("available_margin", status.AvailableMargin).
			Msg("Margin check completed")
	}

	// Create and execute settlement instructions for a subset of contracts
	for _, contract := range contractList {
		if rand.Intn(2) == 0 {
			continue
		}

		request := map[string]interface{}{
			"contract_id":     contract.ContractID,
			"settlement_type": "CASH",
			"amount":          contract.NotionalAmount * 0.1,
			"currency":        "USD",
			"region":          contract.Region,
		}

		var created settlement.InstructionResponse
		if err := simClient.doJSON("POST", "/api/v1/settlements", request, &created); err != nil {
			log.Error().Err(err).Str("contract_id", contract.ContractID).Msg("Failed to create instruction")
			failed++
			continue
		}

		var executed settlement.InstructionResponse
		if err := simClient.doJSON("POST",
			fmt.Sprintf("/api/v1/internal/settlement/execute/%s", created.Instruction.InstructionID),
			nil, &executed); err != nil {
			log.Error().Err(err).
				Str("instruction_id", created.Instruction.InstructionID).
				Msg("Settlement failed")
			failed++
			continue
		}

		settled++
		log.Info().
			Str("instruction_id", executed.Instruction.InstructionID).
			Str("settlement_reference", executed.Instruction.SettlementReference).
			Float64("amount", executed.Instruction.Amount).
			Msg("Settlement completed")
	}

	// Print summary
	duration := time.Since(start)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("MARGIN AND SETTLEMENT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Contracts Registered: %d
Settlements Completed: %d
Failures:             %d
Duration:             %v
`, registered, settled, failed, duration.Round(time.Millisecond))
	fmt.Println(strings.Repeat("=", 80))

	log.Info().
		Int("contracts", registered).
		Int("settled", settled).
		Int("failed", failed).
		Dur("duration", duration).
		Msg("Simulation completed")
}

// startServer initializes and starts the API server without auth middleware
// so the simulation can drive internal endpoints directly
func startServer() error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	bus := events.NewBus(256)
	bus.Subscribe(events.LoggingHandler())

	regionProvider := regions.NewStaticProvider()

	authService := auth.NewService("derivatives-secret-key")
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	contractService := contracts.NewService(db)
	calculator := margin.NewCalculator(db, regionProvider, margin.NewStaticCorrelationProvider())
	monitor := margin.NewMonitor(db, calculator, regionProvider, bus, time.Minute)
	engine := settlement.NewEngine(db, regionProvider, bus)
	settlementService := settlement.NewService(db, engine, regionProvider, bus)

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	contractHandlers := contracts.NewGinHandlers(contractService)
	marginHandlers := margin.NewGinHandlers(calculator, monitor)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	setupRoutes(router, authHandlers, contractHandlers, marginHandlers, settlementHandlers)

	return router.Run(":8080")
}

// setupRoutes configures the endpoints the simulation exercises. The
// simulation injects the client ID directly instead of using JWT middleware.
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	contractHandlers *contracts.GinHandlers,
	marginHandlers *margin.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	// The JWT path is exercised by the server binary; here every request
	// acts as the test client
	router.Use(func(c *gin.Context) {
		c.Set("clientID", auth.TestAPIKey)
		c.Set("claims", jwt.MapClaims{"client_id": auth.TestAPIKey})
		c.Next()
	})

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		contractGroup := v1.Group("/contracts")
		{
			contractGroup.POST("", contractHandlers.RegisterContractHandler())
			contractGroup.GET("/:contract_id", contractHandlers.GetContractHandler())
		}

		marginGroup := v1.Group("/margin")
		{
			marginGroup.POST("/portfolio", marginHandlers.CalculatePortfolioMarginHandler())
			marginGroup.POST("/collateral", marginHandlers.UpdateCollateralHandler())
			marginGroup.GET("/collateral", marginHandlers.GetCollateralHandler())
			marginGroup.GET("/calls", marginHandlers.GetMarginCallsHandler())
		}

		settlementGroup := v1.Group("/settlements")
		{
			settlementGroup.POST("", settlementHandlers.CreateInstructionHandler())
			settlementGroup.GET("/:instruction_id", settlementHandlers.GetInstructionHandler())
		}

		internal := v1.Group("/internal")
		{
			internal.POST("/margin/calculate/:contract_id", marginHandlers.CalculateMarginHandler())
			internal.POST("/margin/check", marginHandlers.CheckMarginHandler())
			internal.POST("/settlement/execute/:instruction_id", settlementHandlers.ExecuteInstructionHandler())
		}
	}
}
