package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayooor/ibcpulse/internal/clearing"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) (WSMessage, clearing.Status) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg WSMessage

	require.NoError(t, conn.ReadJSON(&msg))

	var status clearing.Status

	if msg.Type == "clearing_update" {
		payload, err := json.Marshal(msg.Payload)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(payload, &status))
	}

	return msg, status
}

func TestWSSubscribeStreamsClearingUpdates(t *testing.T) {
	env := newTestEnv(t)

	session, err := env.sessions.Issue("cosmos1wallet", "cosmoshub-4")
	require.NoError(t, err)

	var tokenResp clearing.TokenResponse

	status := env.post(t, "/api/clearing/request-token", session, clearing.Request{
		WalletAddress: "cosmos1wallet",
		ChainID:       "cosmoshub-4",
		Type:          clearing.RequestTypePacket,
		Targets: clearing.Targets{Packets: []clearing.PacketIdentifier{
			{Chain: "cosmoshub-4", Channel: "channel-141", Sequence: 7},
		}},
	}, &tokenResp)
	require.Equal(t, 200, status)

	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:  "subscribe",
		Token: tokenResp.Token.Token,
	}))

	// The current (pending) status arrives right after subscribing.
	msg, current := readUpdate(t, conn)
	require.Equal(t, "clearing_update", msg.Type)
	assert.Equal(t, clearing.StatusPending, current.Status)

	env.payments.payments["TX1"] = &clearing.Payment{
		TxHash:    "TX1",
		ToAddress: testPaymentAddress,
		Amount:    tokenResp.Token.TotalRequired,
		Denom:     tokenResp.Token.AcceptedDenom,
		Memo:      "CLR-" + tokenResp.Token.Token,
	}

	code := env.post(t, "/api/clearing/verify-payment", "", verifyPaymentRequest{
		Token:  tokenResp.Token.Token,
		TxHash: "TX1",
	}, nil)
	require.Equal(t, 200, code)

	// Transitions stream in order until terminal.
	seen := []string{}

	for {
		_, update := readUpdate(t, conn)
		seen = append(seen, update.Status)

		if update.Status == clearing.StatusCompleted ||
			update.Status == clearing.StatusFailed {
			break
		}
	}

	assert.Equal(
		t,
		[]string{clearing.StatusPaid, clearing.StatusExecuting, clearing.StatusCompleted},
		seen,
	)
}

func TestWSSubscribeUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", Token: "nope"}))

	msg, _ := readUpdate(t, conn)
	assert.Equal(t, "error", msg.Type)
}
