package metrics

import "time"

// Metric names published by the chainpulse exposition endpoint.
const (
	MetricChains     = "chainpulse_chains"
	MetricTxs        = "chainpulse_txs"
	MetricPackets    = "chainpulse_packets"
	MetricReconnects = "chainpulse_reconnects"
	MetricTimeouts   = "chainpulse_timeouts"
	MetricErrors     = "chainpulse_errors"
	MetricEffected   = "ibc_effected_packets"
	MetricUneffected = "ibc_uneffected_packets"
	MetricFrontrun   = "ibc_frontrun_total"
	MetricStuck      = "ibc_stuck_packets"
)

// SystemAggregate holds monitor-wide counters. It is rebuilt from
// scratch on every pass, so re-ingesting the same payload is
// idempotent.
type SystemAggregate struct {
	ChainCount        int                `json:"chainCount"`
	TotalTransactions float64            `json:"totalTransactions"`
	TotalPackets      float64            `json:"totalPackets"`
	Reconnects        map[string]float64 `json:"reconnects"`
	Timeouts          map[string]float64 `json:"timeouts"`
	Errors            map[string]float64 `json:"errors"`
}

// PacketTotals is the system-wide packet rollup across all channels.
type PacketTotals struct {
	TotalPackets      float64 `json:"totalPackets"`
	EffectedPackets   float64 `json:"effectedPackets"`
	UneffectedPackets float64 `json:"uneffectedPackets"`
	FrontrunCount     float64 `json:"frontrunCount"`
}

// ChannelKey uniquely identifies a channel aggregate.
type ChannelKey struct {
	ChainID    string `json:"chainId"`
	SrcChannel string `json:"srcChannel"`
	DstChannel string `json:"dstChannel"`
}

// ChannelAggregate accumulates packet counters for one channel pair on
// one source chain. DstChain starts as the unknown sentinel and is
// filled in lazily by the channel resolver.
type ChannelAggregate struct {
	ChannelKey

	DstChain        string  `json:"dstChain"`
	SrcPort         string  `json:"srcPort"`
	DstPort         string  `json:"dstPort"`
	PacketsRelayed  float64 `json:"packetsRelayed"`
	PacketsEffected float64 `json:"packetsEffected"`
	SuccessRate     float64 `json:"successRate"`
}

// RelayerAggregate accumulates packet counters for one relayer signer
// address. Software and Version are parsed best-effort from the
// free-text memo label; both may be empty.
type RelayerAggregate struct {
	Signer          string  `json:"signer"`
	TotalPackets    float64 `json:"totalPackets"`
	EffectedPackets float64 `json:"effectedPackets"`
	FrontrunCount   float64 `json:"frontrunCount"`
	SuccessRate     float64 `json:"successRate"`
	Memo            string  `json:"memo,omitempty"`
	Software        string  `json:"software,omitempty"`
	Version         string  `json:"version,omitempty"`
}

// StuckPacketRecord is derived from a stuck-packet gauge whose value
// encodes a sequence number. It is recomputed every pass and is not a
// source-of-truth ledger entry.
type StuckPacketRecord struct {
	SrcChain   string    `json:"srcChain"`
	DstChain   string    `json:"dstChain"`
	SrcChannel string    `json:"srcChannel"`
	DstChannel string    `json:"dstChannel"`
	Sequence   uint64    `json:"sequence"`
	StuckSince time.Time `json:"stuckSince"`
}

// Snapshot is the full aggregate view produced by one ingestion pass.
type Snapshot struct {
	System       SystemAggregate     `json:"system"`
	Packets      PacketTotals        `json:"packets"`
	Channels     []ChannelAggregate  `json:"channels"`
	Relayers     []RelayerAggregate  `json:"relayers"`
	StuckPackets []StuckPacketRecord `json:"stuckPackets"`
	GeneratedAt  time.Time           `json:"generatedAt"`
}

// Merge folds another snapshot's counters into a copy of s. Rates are
// recomputed from the merged counters. Merging is the only way two
// passes combine; Aggregate itself never carries state across calls.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	out := s

	out.System.ChainCount += other.System.ChainCount
	out.System.TotalTransactions += other.System.TotalTransactions
	out.System.TotalPackets += other.System.TotalPackets
	out.System.Reconnects = mergeCounters(s.System.Reconnects, other.System.Reconnects)
	out.System.Timeouts = mergeCounters(s.System.Timeouts, other.System.Timeouts)
	out.System.Errors = mergeCounters(s.System.Errors, other.System.Errors)

	out.Packets.TotalPackets += other.Packets.TotalPackets
	out.Packets.EffectedPackets += other.Packets.EffectedPackets
	out.Packets.UneffectedPackets += other.Packets.UneffectedPackets
	out.Packets.FrontrunCount += other.Packets.FrontrunCount

	channels := make(map[ChannelKey]ChannelAggregate, len(s.Channels))
	for _, c := range s.Channels {
		channels[c.ChannelKey] = c
	}

	for _, c := range other.Channels {
		if existing, ok := channels[c.ChannelKey]; ok {
			existing.PacketsRelayed += c.PacketsRelayed
			existing.PacketsEffected += c.PacketsEffected
			channels[c.ChannelKey] = existing
		} else {
			channels[c.ChannelKey] = c
		}
	}

	relayers := make(map[string]RelayerAggregate, len(s.Relayers))
	for _, r := range s.Relayers {
		relayers[r.Signer] = r
	}

	for _, r := range other.Relayers {
		if existing, ok := relayers[r.Signer]; ok {
			existing.TotalPackets += r.TotalPackets
			existing.EffectedPackets += r.EffectedPackets
			existing.FrontrunCount += r.FrontrunCount
			relayers[r.Signer] = existing
		} else {
			relayers[r.Signer] = r
		}
	}

	out.Channels = finalizeChannels(channels)
	out.Relayers = finalizeRelayers(relayers)
	out.StuckPackets = append(append([]StuckPacketRecord{}, s.StuckPackets...), other.StuckPackets...)
	sortStuck(out.StuckPackets)

	return out
}

func mergeCounters(a, b map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(a)+len(b))
	for k, v := range a {
		out[k] += v
	}

	for k, v := range b {
		out[k] += v
	}

	return out
}

// successRate returns effected/total as a percentage, clamped to
// [0, 100] and defined as 0 when total is 0.
func successRate(effected, total float64) float64 {
	if total <= 0 {
		return 0
	}

	rate := effected / total * 100
	if rate < 0 {
		return 0
	}

	if rate > 100 {
		return 100
	}

	return rate
}
