package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expositionSamples(t *testing.T) []Sample {
	t.Helper()

	text := `# chainpulse system metrics
chainpulse_chains 2
chainpulse_txs{chain_id="osmosis-1"} 5000
chainpulse_txs{chain_id="cosmoshub-4"} 3000
chainpulse_packets{chain_id="osmosis-1"} 900
chainpulse_packets{chain_id="cosmoshub-4"} 400
chainpulse_reconnects{chain_id="osmosis-1"} 2
chainpulse_timeouts{chain_id="cosmoshub-4"} 1
chainpulse_errors{chain_id="osmosis-1"} 4
ibc_effected_packets{chain_id="osmosis-1",src_channel="channel-0",dst_channel="channel-141",src_port="transfer",dst_port="transfer",signer="osmo1relayer",memo="hermes 1.7.4"} 100
ibc_uneffected_packets{chain_id="osmosis-1",src_channel="channel-0",dst_channel="channel-141",src_port="transfer",dst_port="transfer",signer="osmo1relayer",memo="hermes 1.7.4"} 10
ibc_effected_packets{chain_id="cosmoshub-4",src_channel="channel-141",dst_channel="channel-0",src_port="transfer",dst_port="transfer",signer="cosmos1relayer"} 40
ibc_frontrun_total{chain_id="osmosis-1",signer="osmo1relayer"} 7
ibc_stuck_packets{src_chain="osmosis-1",dst_chain="cosmoshub-4",src_channel="channel-0",dst_channel="channel-141",stuck_minutes="120"} 4521
ibc_stuck_packets{src_chain="cosmoshub-4",dst_chain="osmosis-1",src_channel="channel-141",dst_channel="channel-0"} 0
`

	return DecodeAll(text)
}

func TestAggregateEndToEnd(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snapshot := AggregateAt(expositionSamples(t), now)

	assert.Equal(t, 2, snapshot.System.ChainCount)
	assert.Equal(t, float64(8000), snapshot.System.TotalTransactions)
	assert.Equal(t, float64(1300), snapshot.System.TotalPackets)
	assert.Equal(t, float64(2), snapshot.System.Reconnects["osmosis-1"])
	assert.Equal(t, float64(1), snapshot.System.Timeouts["cosmoshub-4"])
	assert.Equal(t, float64(4), snapshot.System.Errors["osmosis-1"])

	assert.Equal(t, float64(150), snapshot.Packets.TotalPackets)
	assert.Equal(t, float64(140), snapshot.Packets.EffectedPackets)
	assert.Equal(t, float64(10), snapshot.Packets.UneffectedPackets)
	assert.Equal(t, float64(7), snapshot.Packets.FrontrunCount)

	require.Len(t, snapshot.Channels, 2)

	// Busiest channel first.
	busiest := snapshot.Channels[0]
	assert.Equal(t, "osmosis-1", busiest.ChainID)
	assert.Equal(t, "channel-0", busiest.SrcChannel)
	assert.Equal(t, float64(110), busiest.PacketsRelayed)
	assert.Equal(t, float64(100), busiest.PacketsEffected)
	assert.InDelta(t, 90.909, busiest.SuccessRate, 0.001)
	assert.Equal(t, LabelUnknown, busiest.DstChain)
	assert.Equal(t, "transfer", busiest.SrcPort)

	require.Len(t, snapshot.Relayers, 2)

	top := snapshot.Relayers[0]
	assert.Equal(t, "osmo1relayer", top.Signer)
	assert.Equal(t, float64(110), top.TotalPackets)
	assert.Equal(t, float64(7), top.FrontrunCount)
	assert.Equal(t, "hermes", top.Software)
	assert.Equal(t, "1.7.4", top.Version)

	second := snapshot.Relayers[1]
	assert.Equal(t, "cosmos1relayer", second.Signer)
	assert.Equal(t, float64(100), second.SuccessRate)

	// The zero-valued gauge produces no stuck record.
	require.Len(t, snapshot.StuckPackets, 1)

	stuck := snapshot.StuckPackets[0]
	assert.Equal(t, uint64(4521), stuck.Sequence)
	assert.Equal(t, "osmosis-1", stuck.SrcChain)
	assert.Equal(t, now.Add(-120*time.Minute), stuck.StuckSince)

	assert.Equal(t, now, snapshot.GeneratedAt)
}

func TestAggregateIsIdempotent(t *testing.T) {
	samples := expositionSamples(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := AggregateAt(samples, now)
	second := AggregateAt(samples, now)

	assert.Equal(t, first, second)
}

func TestAggregateMissingLabelsUseUnknown(t *testing.T) {
	samples := DecodeAll(`ibc_effected_packets 25`)
	snapshot := AggregateAt(samples, time.Now().UTC())

	require.Len(t, snapshot.Channels, 1)
	assert.Equal(t, LabelUnknown, snapshot.Channels[0].ChainID)
	assert.Equal(t, LabelUnknown, snapshot.Channels[0].SrcChannel)

	require.Len(t, snapshot.Relayers, 1)
	assert.Equal(t, LabelUnknown, snapshot.Relayers[0].Signer)
}

func TestAggregateStuckDefaultsTo60Minutes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := DecodeAll(
		`ibc_stuck_packets{src_chain="osmosis-1",src_channel="channel-0"} 12`,
	)

	snapshot := AggregateAt(samples, now)
	require.Len(t, snapshot.StuckPackets, 1)
	assert.Equal(t, now.Add(-60*time.Minute), snapshot.StuckPackets[0].StuckSince)
	assert.Equal(t, LabelUnknown, snapshot.StuckPackets[0].DstChain)
}

func TestSuccessRateBounds(t *testing.T) {
	assert.Zero(t, successRate(0, 0))
	assert.Zero(t, successRate(10, 0))
	assert.Zero(t, successRate(-5, 10))
	assert.Equal(t, float64(50), successRate(5, 10))
	assert.Equal(t, float64(100), successRate(10, 10))

	// A counter glitch can never push the rate past 100.
	assert.Equal(t, float64(100), successRate(15, 10))
}

func TestParseMemo(t *testing.T) {
	tests := []struct {
		memo     string
		software string
		version  string
	}{
		{"hermes 1.7.4", "hermes", "1.7.4"},
		{"rly v2.4.2 (linux)", "rly", "2.4.2"},
		{"Hermes 1.8.0", "hermes", "1.8.0"},
		{"relayed-by-cryptocrew", "relayed-by-cryptocrew", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		software, version := parseMemo(tt.memo)
		assert.Equal(t, tt.software, software, tt.memo)
		assert.Equal(t, tt.version, version, tt.memo)
	}
}

func TestSnapshotMerge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := AggregateAt(DecodeAll(
		`ibc_effected_packets{chain_id="osmosis-1",src_channel="channel-0",dst_channel="channel-141",signer="osmo1relayer"} 90`,
	), now)
	b := AggregateAt(DecodeAll(
		`ibc_uneffected_packets{chain_id="osmosis-1",src_channel="channel-0",dst_channel="channel-141",signer="osmo1relayer"} 10`,
	), now)

	merged := a.Merge(b)

	assert.Equal(t, float64(100), merged.Packets.TotalPackets)

	require.Len(t, merged.Channels, 1)
	assert.Equal(t, float64(100), merged.Channels[0].PacketsRelayed)
	assert.Equal(t, float64(90), merged.Channels[0].PacketsEffected)
	assert.Equal(t, float64(90), merged.Channels[0].SuccessRate)

	require.Len(t, merged.Relayers, 1)
	assert.Equal(t, float64(100), merged.Relayers[0].TotalPackets)

	// Merge does not mutate its receiver.
	assert.Equal(t, float64(90), a.Packets.TotalPackets)
}
