package metrics

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testExposition = `chainpulse_chains 2
chainpulse_txs{chain_id="osmosis-1"} 500
ibc_effected_packets{chain_id="osmosis-1",src_channel="channel-0",dst_channel="channel-141",signer="osmo1relayer"} 20
`

func startSource(t *testing.T, endpoint string) *Source {
	t.Helper()

	source := NewSource(logrus.New(), SourceConfig{
		Endpoint: endpoint,
		Interval: time.Hour,
		Timeout:  2 * time.Second,
	}, nil)

	require.NoError(t, source.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, source.Stop())
	})

	return source
}

func TestSourceFetchesAndAggregates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(testExposition))
		},
	))
	t.Cleanup(server.Close)

	source := startSource(t, server.URL)

	snapshot := source.Snapshot()
	assert.Equal(t, 2, snapshot.System.ChainCount)
	assert.Equal(t, float64(500), snapshot.System.TotalTransactions)
	require.Len(t, snapshot.Channels, 1)
	assert.Equal(t, float64(20), snapshot.Channels[0].PacketsRelayed)
}

func TestSourceDecodesGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			var buf bytes.Buffer

			zw := gzip.NewWriter(&buf)
			_, _ = zw.Write([]byte(testExposition))
			require.NoError(t, zw.Close())

			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(buf.Bytes())
		},
	))
	t.Cleanup(server.Close)

	source := startSource(t, server.URL)

	snapshot := source.Snapshot()
	assert.Equal(t, 2, snapshot.System.ChainCount)
}

func TestSourceKeepsLastSnapshotOnFailure(t *testing.T) {
	var failing atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			if failing.Load() {
				w.WriteHeader(http.StatusInternalServerError)

				return
			}

			_, _ = w.Write([]byte(testExposition))
		},
	))
	t.Cleanup(server.Close)

	source := startSource(t, server.URL)
	require.Equal(t, 2, source.Snapshot().System.ChainCount)

	failing.Store(true)

	// A failing refresh reports an error and leaves the snapshot alone.
	require.Error(t, source.refresh(context.Background()))
	assert.Equal(t, 2, source.Snapshot().System.ChainCount)
}

func TestSourceStartSurvivesDownFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	))
	t.Cleanup(server.Close)

	// The feed being down at startup is not fatal.
	source := startSource(t, server.URL)
	assert.Zero(t, source.Snapshot().System.ChainCount)
}
