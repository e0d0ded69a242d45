package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Sample
		ok   bool
	}{
		{
			name: "bare counter",
			line: "chainpulse_chains 3",
			want: Sample{Name: "chainpulse_chains", Labels: map[string]string{}, Value: 3},
			ok:   true,
		},
		{
			name: "labeled counter",
			line: `chainpulse_txs{chain_id="osmosis-1"} 12345`,
			want: Sample{
				Name:   "chainpulse_txs",
				Labels: map[string]string{"chain_id": "osmosis-1"},
				Value:  12345,
			},
			ok: true,
		},
		{
			name: "multiple labels with spaces in value",
			line: `ibc_effected_packets{chain_id="osmosis-1",src_channel="channel-0",signer="osmo1abc",memo="hermes 1.7.4"} 42`,
			want: Sample{
				Name: "ibc_effected_packets",
				Labels: map[string]string{
					"chain_id":    "osmosis-1",
					"src_channel": "channel-0",
					"signer":      "osmo1abc",
					"memo":        "hermes 1.7.4",
				},
				Value: 42,
			},
			ok: true,
		},
		{
			name: "scientific notation",
			line: "chainpulse_packets 1.5e3",
			want: Sample{Name: "chainpulse_packets", Labels: map[string]string{}, Value: 1500},
			ok:   true,
		},
		{
			name: "negative gauge",
			line: "some_gauge -2.5",
			want: Sample{Name: "some_gauge", Labels: map[string]string{}, Value: -2.5},
			ok:   true,
		},
		{name: "comment", line: "# HELP chainpulse_chains Number of chains", ok: false},
		{name: "type comment", line: "# TYPE chainpulse_chains gauge", ok: false},
		{name: "blank", line: "   ", ok: false},
		{name: "missing value", line: "chainpulse_chains", ok: false},
		{name: "garbage", line: "{not a metric}", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.line)
			require.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecodeAllSkipsUndecodableLines(t *testing.T) {
	text := `# HELP chainpulse_chains Number of chains
# TYPE chainpulse_chains gauge
chainpulse_chains 2

chainpulse_txs{chain_id="osmosis-1"} 100
this line is garbage
chainpulse_txs{chain_id="cosmoshub-4"} 50
`

	samples := DecodeAll(text)
	require.Len(t, samples, 3)
	assert.Equal(t, "chainpulse_chains", samples[0].Name)
	assert.Equal(t, float64(100), samples[1].Value)
	assert.Equal(t, "cosmoshub-4", samples[2].Labels["chain_id"])
}

func TestLabelReturnsUnknownSentinel(t *testing.T) {
	s := Sample{Labels: map[string]string{"chain_id": "osmosis-1", "signer": ""}}

	assert.Equal(t, "osmosis-1", s.Label("chain_id"))
	assert.Equal(t, LabelUnknown, s.Label("signer"))
	assert.Equal(t, LabelUnknown, s.Label("missing"))
}
