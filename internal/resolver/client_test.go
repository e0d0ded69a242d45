package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lcdServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc(
		"/ibc/core/channel/v1/channels/channel-0/ports/transfer",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{
				"channel": {
					"state": "STATE_OPEN",
					"counterparty": {"port_id": "transfer", "channel_id": "channel-141"},
					"connection_hops": ["connection-1"]
				}
			}`))
		},
	)

	mux.HandleFunc(
		"/ibc/core/connection/v1/connections/connection-1",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{
				"connection": {
					"client_id": "07-tendermint-1",
					"counterparty": {
						"client_id": "07-tendermint-259",
						"connection_id": "connection-257"
					}
				}
			}`))
		},
	)

	mux.HandleFunc(
		"/ibc/core/channel/v1/channels/channel-0/ports/transfer/client_state",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{
				"identified_client_state": {
					"client_id": "07-tendermint-1",
					"client_state": {"chain_id": "cosmoshub-4"}
				}
			}`))
		},
	)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestStateClientQueries(t *testing.T) {
	server := lcdServer(t)
	client := NewStateClient(logrus.New(), time.Second)
	ctx := context.Background()

	channel, err := client.ChannelState(ctx, server.URL, "channel-0", "transfer")
	require.NoError(t, err)
	assert.Equal(t, "channel-141", channel.CounterpartyChannelID)
	assert.Equal(t, "connection-1", channel.ConnectionID)

	connection, err := client.ConnectionState(ctx, server.URL, "connection-1")
	require.NoError(t, err)
	assert.Equal(t, "07-tendermint-1", connection.ClientID)
	assert.Equal(t, "07-tendermint-259", connection.CounterpartyClientID)
	assert.Equal(t, "connection-257", connection.CounterpartyConnectionID)

	clientState, err := client.ClientState(ctx, server.URL, "channel-0", "transfer")
	require.NoError(t, err)
	assert.Equal(t, "cosmoshub-4", clientState.ChainID)
}

func TestStateClientNotFound(t *testing.T) {
	server := lcdServer(t)
	client := NewStateClient(logrus.New(), time.Second)

	// Unknown channel: the LCD answers 404.
	_, err := client.ChannelState(context.Background(), server.URL, "channel-99", "transfer")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStateClientIncompleteBodyIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"channel": {"state": "STATE_CLOSED"}}`))
		},
	))
	t.Cleanup(server.Close)

	client := NewStateClient(logrus.New(), time.Second)

	_, err := client.ChannelState(context.Background(), server.URL, "channel-0", "transfer")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStateClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		},
	))
	t.Cleanup(server.Close)

	client := NewStateClient(logrus.New(), 50*time.Millisecond)

	_, err := client.ChannelState(context.Background(), server.URL, "channel-0", "transfer")
	require.ErrorIs(t, err, ErrTimeout)
}
