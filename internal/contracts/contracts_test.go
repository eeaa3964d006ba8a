package contracts

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ksred/derivatives-api/internal/types"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "contracts_test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Contract{}))

	return NewService(db)
}

func validContract() *types.Contract {
	return &types.Contract{
		ClientID:       "client-1",
		ContractType:   types.ContractFuture,
		Commodity:      "crude_oil",
		Side:           types.SideBuy,
		NotionalAmount: 500000,
		Currency:       "USD",
		Volatility:     0.30,
		MaturityDate:   time.Now().AddDate(0, 6, 0),
		Region:         "US",
	}
}

func TestRegisterContract(t *testing.T) {
	service := setupTestService(t)

	contract := validContract()
	require.NoError(t, service.RegisterContract(contract))

	assert.True(t, strings.HasPrefix(contract.ContractID, "CON_"))

	stored, err := service.GetContract(contract.ContractID)
	require.NoError(t, err)
	assert.Equal(t, contract.ClientID, stored.ClientID)
	assert.Equal(t, contract.NotionalAmount, stored.NotionalAmount)
}

func TestRegisterContractValidation(t *testing.T) {
	service := setupTestService(t)

	t.Run("missing client", func(t *testing.T) {
		contract := validContract()
		contract.ClientID = ""
		err := service.RegisterContract(contract)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("unsupported type", func(t *testing.T) {
		contract := validContract()
		contract.ContractType = "FORWARD"
		err := service.RegisterContract(contract)
		assert.ErrorIs(t, err, apperrors.ErrUnsupportedContractType)
	})

	t.Run("non-positive notional", func(t *testing.T) {
		contract := validContract()
		contract.NotionalAmount = 0
		err := service.RegisterContract(contract)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("invalid side", func(t *testing.T) {
		contract := validContract()
		contract.Side = "HOLD"
		err := service.RegisterContract(contract)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("matured contract", func(t *testing.T) {
		contract := validContract()
		contract.MaturityDate = time.Now().AddDate(0, 0, -1)
		err := service.RegisterContract(contract)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestGetClientContracts(t *testing.T) {
	service := setupTestService(t)

	first := validContract()
	require.NoError(t, service.RegisterContract(first))

	second := validContract()
	second.Commodity = "gold"
	require.NoError(t, service.RegisterContract(second))

	other := validContract()
	other.ClientID = "client-2"
	require.NoError(t, service.RegisterContract(other))

	contracts, err := service.GetClientContracts("client-1")
	require.NoError(t, err)
	assert.Len(t, contracts, 2)
}

func TestSignedNotional(t *testing.T) {
	long := validContract()
	assert.Equal(t, 500000.0, long.SignedNotional())

	short := validContract()
	short.Side = types.SideSell
	assert.Equal(t, -500000.0, short.SignedNotional())
}
