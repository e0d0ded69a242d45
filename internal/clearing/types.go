// Package clearing implements the paid packet-clearing protocol: a
// stateful handshake that issues a scoped, signed, time-bounded token,
// verifies the fee payment, dispatches execution to an external
// relayer and fans progress out to subscribers.
package clearing

import "time"

// Request types accepted by the engine.
const (
	RequestTypePacket  = "packet"
	RequestTypeChannel = "channel"
	RequestTypeBulk    = "bulk"
)

// Status values of a clearing operation. Transitions are strictly
// pending -> paid -> executing -> {completed | failed}; an unpaid
// token past its expiry goes straight to failed and is never
// resurrected.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Request is a wallet holder's ask to clear packets or channels.
type Request struct {
	WalletAddress string  `json:"walletAddress"`
	ChainID       string  `json:"chainId"`
	Type          string  `json:"type"`
	Targets       Targets `json:"targets"`
}

// Targets scopes a clearing request to specific packets or channel
// pairs, depending on the request type.
type Targets struct {
	Packets  []PacketIdentifier `json:"packets,omitempty"`
	Channels []ChannelPair      `json:"channels,omitempty"`
}

// PacketIdentifier uniquely identifies one stuck packet.
type PacketIdentifier struct {
	Chain    string `json:"chain"`
	Channel  string `json:"channel"`
	Sequence uint64 `json:"sequence"`
}

// ChannelPair identifies a source/destination channel pair.
type ChannelPair struct {
	SrcChain   string `json:"srcChain"`
	DstChain   string `json:"dstChain"`
	SrcChannel string `json:"srcChannel"`
	DstChannel string `json:"dstChannel"`
}

// Token authorizes one clearing operation. Immutable after issuance;
// the signature binds every field so the token cannot be replayed with
// altered targets.
type Token struct {
	Token             string  `json:"token"`
	Version           int     `json:"version"`
	RequestType       string  `json:"requestType"`
	TargetIdentifiers Targets `json:"targetIdentifiers"`
	WalletAddress     string  `json:"walletAddress"`
	ChainID           string  `json:"chainId"`
	IssuedAt          int64   `json:"issuedAt"`
	ExpiresAt         int64   `json:"expiresAt"`
	ServiceFee        string  `json:"serviceFee"`
	EstimatedGasFee   string  `json:"estimatedGasFee"`
	TotalRequired     string  `json:"totalRequired"`
	AcceptedDenom     string  `json:"acceptedDenom"`
	Nonce             string  `json:"nonce"`
	Signature         string  `json:"signature"`
}

// Expired reports whether the token's validity window has passed.
func (t *Token) Expired(now time.Time) bool {
	return now.Unix() > t.ExpiresAt
}

// TokenResponse is returned to the client on token issuance, carrying
// the payment coordinates alongside the token itself.
type TokenResponse struct {
	Token          *Token `json:"token"`
	PaymentAddress string `json:"paymentAddress"`
	PaymentMemo    string `json:"paymentMemo"`
	PaymentAmount  string `json:"paymentAmount"`
	ExpiresIn      int    `json:"expiresIn"`
}

// PaymentStatus describes the observed fee payment for a token.
type PaymentStatus struct {
	Received bool   `json:"received"`
	TxHash   string `json:"txHash,omitempty"`
	Amount   string `json:"amount,omitempty"`
}

// PaymentVerification is the result of verifying a payment. Repeating
// the verification with the same transaction reference returns the
// same result.
type PaymentVerification struct {
	Verified bool   `json:"verified"`
	Status   string `json:"status"` // verified, insufficient, invalid
	Message  string `json:"message,omitempty"`
}

// ExecutionInfo tracks progress reported by the execution
// collaborator.
type ExecutionInfo struct {
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	PacketsCleared int        `json:"packetsCleared,omitempty"`
	PacketsFailed  int        `json:"packetsFailed,omitempty"`
	TxHashes       []string   `json:"txHashes,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Status is the externally visible state of one clearing operation.
type Status struct {
	Token     string         `json:"token"`
	Status    string         `json:"status"`
	Payment   PaymentStatus  `json:"payment"`
	Execution *ExecutionInfo `json:"execution,omitempty"`
}

// ExecutionUpdate is a progress callback from the execution
// collaborator.
type ExecutionUpdate struct {
	PacketsCleared int
	PacketsFailed  int
	TxHashes       []string
	Error          string
	Done           bool
}

// Operation is the terminal record of one clearing operation, handed
// to the history recorder.
type Operation struct {
	Token           string
	WalletAddress   string
	ChainID         string
	RequestType     string
	PacketsTargeted int
	PacketsCleared  int
	PacketsFailed   int
	FeePaid         string
	FeeDenom        string
	PaymentTxHash   string
	TxHashes        []string
	Success         bool
	ErrorMessage    string
	StartedAt       time.Time
	CompletedAt     time.Time
}
