package clearing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayooor/ibcpulse/internal/registry"
)

const lcdTxBody = `{
	"tx": {
		"body": {
			"memo": "CLR-abc123",
			"messages": [
				{"@type": "/cosmos.gov.v1beta1.MsgVote", "voter": "cosmos1voter"},
				{
					"@type": "/cosmos.bank.v1beta1.MsgSend",
					"from_address": "cosmos1payer",
					"to_address": "cosmos1servicefeeaddress",
					"amount": [{"denom": "uatom", "amount": "1207500"}]
				}
			]
		}
	},
	"tx_response": {"code": 0, "txhash": "ABC123"}
}`

func lcdChecker(t *testing.T, handler http.HandlerFunc) *LCDPaymentChecker {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	reg := registry.New(logrus.New(), registry.Config{
		Endpoints: map[string]string{"cosmoshub-4": server.URL},
	})

	return NewLCDPaymentChecker(logrus.New(), LCDConfig{}, reg)
}

func TestLCDPaymentFetchesBankTransfer(t *testing.T) {
	var path string

	checker := lcdChecker(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path

		_, _ = w.Write([]byte(lcdTxBody))
	})

	payment, err := checker.Payment(context.Background(), "cosmoshub-4", "ABC123")
	require.NoError(t, err)

	assert.Equal(t, "/cosmos/tx/v1beta1/txs/ABC123", path)
	assert.Equal(t, "ABC123", payment.TxHash)
	assert.Equal(t, "cosmos1payer", payment.FromAddress)
	assert.Equal(t, "cosmos1servicefeeaddress", payment.ToAddress)
	assert.Equal(t, "1207500", payment.Amount)
	assert.Equal(t, "uatom", payment.Denom)
	assert.Equal(t, "CLR-abc123", payment.Memo)
}

func TestLCDPaymentUnknownChain(t *testing.T) {
	checker := lcdChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(lcdTxBody))
	})

	_, err := checker.Payment(context.Background(), "nowhere-1", "ABC123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no endpoint registered")
}

func TestLCDPaymentTxNotFound(t *testing.T) {
	checker := lcdChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := checker.Payment(context.Background(), "cosmoshub-4", "MISSING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLCDPaymentFailedTx(t *testing.T) {
	checker := lcdChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tx_response": {"code": 5}}`))
	})

	_, err := checker.Payment(context.Background(), "cosmoshub-4", "ABC123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 5")
}

func TestLCDPaymentNoBankTransfer(t *testing.T) {
	checker := lcdChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"tx": {"body": {"messages": [
				{"@type": "/cosmos.gov.v1beta1.MsgVote"}
			]}},
			"tx_response": {"code": 0}
		}`))
	})

	_, err := checker.Payment(context.Background(), "cosmoshub-4", "ABC123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bank transfer")
}
