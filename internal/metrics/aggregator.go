package metrics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// defaultStuckMinutes is assumed when a stuck-packet gauge carries no
// stuck_minutes label.
const defaultStuckMinutes = 60

// Aggregate folds decoded samples into a Snapshot. It is a pure
// function of its input: no state is carried between calls, so two
// passes over the same samples produce identical output and it is safe
// to call concurrently on independent inputs.
func Aggregate(samples []Sample) Snapshot {
	return AggregateAt(samples, time.Now().UTC())
}

// AggregateAt is Aggregate with an explicit pass time, used to derive
// stuck-since timestamps deterministically.
func AggregateAt(samples []Sample, now time.Time) Snapshot {
	acc := &accumulator{
		system: SystemAggregate{
			Reconnects: make(map[string]float64),
			Timeouts:   make(map[string]float64),
			Errors:     make(map[string]float64),
		},
		channels: make(map[ChannelKey]*ChannelAggregate),
		relayers: make(map[string]*RelayerAggregate),
		now:      now,
	}

	// Single pass; dispatch by metric name. Unknown names are ignored.
	for _, s := range samples {
		switch s.Name {
		case MetricChains:
			acc.system.ChainCount = int(s.Value)
		case MetricTxs:
			acc.system.TotalTransactions += s.Value
		case MetricPackets:
			acc.system.TotalPackets += s.Value
		case MetricReconnects:
			acc.system.Reconnects[s.Label("chain_id")] += s.Value
		case MetricTimeouts:
			acc.system.Timeouts[s.Label("chain_id")] += s.Value
		case MetricErrors:
			acc.system.Errors[s.Label("chain_id")] += s.Value
		case MetricEffected:
			acc.addPacketSample(s, true)
		case MetricUneffected:
			acc.addPacketSample(s, false)
		case MetricFrontrun:
			acc.addFrontrun(s)
		case MetricStuck:
			acc.addStuck(s)
		}
	}

	sortStuck(acc.stuck)

	// Rates are derived after the pass so that effected/uneffected
	// samples for the same key may arrive in either order without
	// producing transient ratios.
	return Snapshot{
		System:       acc.system,
		Packets:      acc.packets,
		Channels:     finalizeChannels(deref(acc.channels)),
		Relayers:     finalizeRelayers(derefRelayers(acc.relayers)),
		StuckPackets: acc.stuck,
		GeneratedAt:  now,
	}
}

type accumulator struct {
	system   SystemAggregate
	packets  PacketTotals
	channels map[ChannelKey]*ChannelAggregate
	relayers map[string]*RelayerAggregate
	stuck    []StuckPacketRecord
	now      time.Time
}

func (a *accumulator) addPacketSample(s Sample, effected bool) {
	if effected {
		a.packets.EffectedPackets += s.Value
	} else {
		a.packets.UneffectedPackets += s.Value
	}

	a.packets.TotalPackets += s.Value

	ch := a.channel(s)
	ch.PacketsRelayed += s.Value
	if effected {
		ch.PacketsEffected += s.Value
	}

	r := a.relayer(s)
	r.TotalPackets += s.Value
	if effected {
		r.EffectedPackets += s.Value
	}
}

func (a *accumulator) addFrontrun(s Sample) {
	a.packets.FrontrunCount += s.Value
	a.relayer(s).FrontrunCount += s.Value
}

// addStuck derives a stuck-packet record from a gauge sample whose
// value encodes the stuck sequence number. Gauges at or below zero
// mean nothing is stuck on that path.
func (a *accumulator) addStuck(s Sample) {
	if s.Value <= 0 {
		return
	}

	stuckMinutes := defaultStuckMinutes
	if v, err := strconv.Atoi(s.Labels["stuck_minutes"]); err == nil && v > 0 {
		stuckMinutes = v
	}

	a.stuck = append(a.stuck, StuckPacketRecord{
		SrcChain:   s.Label("src_chain"),
		DstChain:   s.Label("dst_chain"),
		SrcChannel: s.Label("src_channel"),
		DstChannel: s.Label("dst_channel"),
		Sequence:   uint64(s.Value),
		StuckSince: a.now.Add(-time.Duration(stuckMinutes) * time.Minute),
	})
}

func (a *accumulator) channel(s Sample) *ChannelAggregate {
	key := ChannelKey{
		ChainID:    s.Label("chain_id"),
		SrcChannel: s.Label("src_channel"),
		DstChannel: s.Label("dst_channel"),
	}

	ch, ok := a.channels[key]
	if !ok {
		ch = &ChannelAggregate{
			ChannelKey: key,
			DstChain:   LabelUnknown,
			SrcPort:    s.Label("src_port"),
			DstPort:    s.Label("dst_port"),
		}
		a.channels[key] = ch
	}

	return ch
}

func (a *accumulator) relayer(s Sample) *RelayerAggregate {
	signer := s.Label("signer")

	r, ok := a.relayers[signer]
	if !ok {
		r = &RelayerAggregate{Signer: signer}
		if memo := s.Labels["memo"]; memo != "" {
			r.Memo = memo
			r.Software, r.Version = parseMemo(memo)
		}

		a.relayers[signer] = r
	}

	return r
}

var versionRe = regexp.MustCompile(`^v?\d+(\.\d+)*`)

// parseMemo extracts relayer software and version from a free-text
// memo such as "hermes 1.7.4" or "rly v2.4.2 (linux)". Anything that
// does not look like "<word> <version>" yields empty results; the memo
// is purely informational.
func parseMemo(memo string) (software, version string) {
	fields := strings.Fields(memo)
	if len(fields) == 0 {
		return "", ""
	}

	software = strings.ToLower(fields[0])
	if len(fields) > 1 && versionRe.MatchString(fields[1]) {
		version = strings.TrimPrefix(fields[1], "v")
	}

	return software, version
}

func deref(m map[ChannelKey]*ChannelAggregate) map[ChannelKey]ChannelAggregate {
	out := make(map[ChannelKey]ChannelAggregate, len(m))
	for k, v := range m {
		out[k] = *v
	}

	return out
}

func derefRelayers(m map[string]*RelayerAggregate) map[string]RelayerAggregate {
	out := make(map[string]RelayerAggregate, len(m))
	for k, v := range m {
		out[k] = *v
	}

	return out
}

// finalizeChannels computes rates and returns channels in a stable
// order: busiest first, key as tie-break.
func finalizeChannels(m map[ChannelKey]ChannelAggregate) []ChannelAggregate {
	out := make([]ChannelAggregate, 0, len(m))
	for _, ch := range m {
		ch.SuccessRate = successRate(ch.PacketsEffected, ch.PacketsRelayed)
		out = append(out, ch)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PacketsRelayed != out[j].PacketsRelayed {
			return out[i].PacketsRelayed > out[j].PacketsRelayed
		}

		return channelKeyLess(out[i].ChannelKey, out[j].ChannelKey)
	})

	return out
}

// finalizeRelayers computes rates and returns relayers in a stable
// order: most effected packets first, signer as tie-break.
func finalizeRelayers(m map[string]RelayerAggregate) []RelayerAggregate {
	out := make([]RelayerAggregate, 0, len(m))
	for _, r := range m {
		r.SuccessRate = successRate(r.EffectedPackets, r.TotalPackets)
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectedPackets != out[j].EffectedPackets {
			return out[i].EffectedPackets > out[j].EffectedPackets
		}

		return out[i].Signer < out[j].Signer
	})

	return out
}

func channelKeyLess(a, b ChannelKey) bool {
	if a.ChainID != b.ChainID {
		return a.ChainID < b.ChainID
	}

	if a.SrcChannel != b.SrcChannel {
		return a.SrcChannel < b.SrcChannel
	}

	return a.DstChannel < b.DstChannel
}

func sortStuck(records []StuckPacketRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StuckSince.Equal(records[j].StuckSince) {
			return records[i].StuckSince.Before(records[j].StuckSince)
		}

		return records[i].Sequence < records[j].Sequence
	})
}
