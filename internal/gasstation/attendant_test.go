package gasstation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/httpclient"
)

func newAttendant(t *testing.T, handler http.HandlerFunc) (*Attendant, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	exec := httpclient.New(zap.NewNop(), nil, srv.Client(), 0, "gas_station", nil)
	return New(exec, srv.URL, zap.NewNop()), srv.Close
}

func TestExpectedTransactionGasRate(t *testing.T) {
	attendant, closeFn := newAttendant(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"fast": 100, "average": 80, "safeLow": 50}`))
	})
	defer closeFn()

	rate, err := attendant.ExpectedTransactionGasRate(context.Background())
	require.NoError(t, err)

	// 100 tenths of gwei is 10 gwei, i.e. 1e10 wei.
	assert.True(t, decimal.New(1, 10).Equal(rate), "got %s", rate)
}

func TestExpectedTransactionGasRateServerError(t *testing.T) {
	attendant, closeFn := newAttendant(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeFn()

	_, err := attendant.ExpectedTransactionGasRate(context.Background())
	require.Error(t, err)
}

func TestExpectedTransactionGasRateZeroRate(t *testing.T) {
	attendant, closeFn := newAttendant(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"fast": 0}`))
	})
	defer closeFn()

	_, err := attendant.ExpectedTransactionGasRate(context.Background())
	require.Error(t, err)
}
