package clearing

import (
	"fmt"
	"math/big"
	"strings"
)

// FeePolicy prices clearing requests by type and target count. All
// amounts are integer base-denom units (e.g. uatom).
type FeePolicy struct {
	// BaseServiceFee is charged once per request. Defaults to 1000000.
	BaseServiceFee int64 `yaml:"base_service_fee"`

	// PerPacketFee is charged per targeted packet. Defaults to 100000.
	PerPacketFee int64 `yaml:"per_packet_fee"`

	// BaseGas and PerPacketGas estimate execution gas; multiplied by
	// GasPrice to form the estimated gas fee.
	BaseGas      int64 `yaml:"base_gas"`
	PerPacketGas int64 `yaml:"per_packet_gas"`

	// GasPrice is the assumed gas price in base-denom units.
	// Defaults to 25000.
	GasPrice int64 `yaml:"gas_price"`

	// PacketsPerChannel is the packet-equivalent used to price channel
	// and bulk requests, which target whole channels rather than
	// individual packets. Defaults to 10.
	PacketsPerChannel int `yaml:"packets_per_channel"`

	// AcceptedDenoms maps chain ids to the denom payments must use.
	AcceptedDenoms map[string]string `yaml:"accepted_denoms"`

	// DefaultDenom is used for chains absent from AcceptedDenoms.
	// Defaults to "uatom".
	DefaultDenom string `yaml:"default_denom"`
}

// applyDefaults fills zero values with the standard schedule.
func (p *FeePolicy) applyDefaults() {
	if p.BaseServiceFee <= 0 {
		p.BaseServiceFee = 1000000
	}

	if p.PerPacketFee <= 0 {
		p.PerPacketFee = 100000
	}

	if p.BaseGas <= 0 {
		p.BaseGas = 200000
	}

	if p.PerPacketGas <= 0 {
		p.PerPacketGas = 50000
	}

	if p.GasPrice <= 0 {
		p.GasPrice = 25000
	}

	if p.PacketsPerChannel <= 0 {
		p.PacketsPerChannel = 10
	}

	if p.DefaultDenom == "" {
		p.DefaultDenom = "uatom"
	}
}

// Quote is a priced clearing request.
type Quote struct {
	ServiceFee      int64
	EstimatedGasFee int64
	TotalRequired   int64
	Denom           string
}

// Quote prices a request. Channel and bulk requests are priced at a
// fixed packet-equivalent per channel pair since their true packet
// count is unknown at issuance.
func (p *FeePolicy) Quote(req Request) Quote {
	packets := len(req.Targets.Packets)
	if req.Type != RequestTypePacket {
		packets = len(req.Targets.Channels) * p.PacketsPerChannel
	}

	serviceFee := p.BaseServiceFee + p.PerPacketFee*int64(packets)
	gasFee := (p.BaseGas + p.PerPacketGas*int64(packets)) * p.GasPrice / 1000000

	return Quote{
		ServiceFee:      serviceFee,
		EstimatedGasFee: gasFee,
		TotalRequired:   serviceFee + gasFee,
		Denom:           p.AcceptedDenom(req.ChainID),
	}
}

// AcceptedDenom returns the payment denom for a chain.
func (p *FeePolicy) AcceptedDenom(chainID string) string {
	if denom, ok := p.AcceptedDenoms[chainID]; ok {
		return denom
	}

	return p.DefaultDenom
}

// denomInfo describes a known denomination for display purposes.
type denomInfo struct {
	decimals int
	display  string
}

var knownDenoms = map[string]denomInfo{
	"uosmo":  {6, "OSMO"},
	"uatom":  {6, "ATOM"},
	"uion":   {6, "ION"},
	"ustars": {6, "STARS"},
	"uakt":   {6, "AKT"},
	"untrn":  {6, "NTRN"},
}

// DenomDecimals returns the decimal places of a denom, defaulting to 6
// for unknown denominations.
func DenomDecimals(denom string) int {
	if info, ok := knownDenoms[denom]; ok {
		return info.decimals
	}

	return 6
}

// DenomDisplay returns the display symbol for a denom. Unknown
// denominations fall back to a generic uppercase rendering; never an
// error.
func DenomDisplay(denom string) string {
	if info, ok := knownDenoms[denom]; ok {
		return info.display
	}

	return strings.ToUpper(strings.TrimPrefix(denom, "u"))
}

// FormatAmount renders an integer base-unit amount as a human-readable
// decimal with the denom's display symbol, e.g. "1100000","uatom" ->
// "1.1 ATOM". Unparseable amounts are rendered verbatim.
func FormatAmount(amount, denom string) string {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Sprintf("%s %s", amount, DenomDisplay(denom))
	}

	decimals := DenomDecimals(denom)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	whole := new(big.Int)
	fraction := new(big.Int)
	whole.QuoRem(value, divisor, fraction)

	fractionStr := strings.TrimRight(
		fmt.Sprintf("%0*s", decimals, fraction.Abs(fraction).String()),
		"0",
	)

	if fractionStr == "" {
		return fmt.Sprintf("%s %s", whole.String(), DenomDisplay(denom))
	}

	return fmt.Sprintf("%s.%s %s", whole.String(), fractionStr, DenomDisplay(denom))
}
