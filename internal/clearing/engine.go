package clearing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relayooor/ibcpulse/internal/export"
)

// maxPacketsPerRequest bounds one clearing request.
const maxPacketsPerRequest = 100

// Payment is an observed fee-payment transfer on chain.
type Payment struct {
	TxHash      string
	FromAddress string
	ToAddress   string
	Amount      string
	Denom       string
	Memo        string
}

// PaymentChecker looks up a payment transaction by reference. The
// wallet collaborator supplies the reference; the engine never holds
// key material.
type PaymentChecker interface {
	Payment(ctx context.Context, chainID, txHash string) (*Payment, error)
}

// Executor is the external relayer process that performs the actual
// clearing. Dispatch must return once the work is accepted; progress
// then arrives through the callback. The engine guarantees at-most-once
// dispatch per token.
type Executor interface {
	Dispatch(
		ctx context.Context,
		token *Token,
		targets Targets,
		progress func(ExecutionUpdate),
	) error
}

// Recorder persists terminal clearing operations for the statistics
// surface. A nil recorder disables history.
type Recorder interface {
	Record(ctx context.Context, op Operation) error
}

// Config configures the clearing engine.
type Config struct {
	// TokenTTL is the token validity window. Defaults to 5m.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// PaymentAddress is the service wallet payments must be sent to.
	PaymentAddress string `yaml:"payment_address"`

	// TolerancePercent allows small payment variance from gas
	// estimation. Defaults to 1.
	TolerancePercent int64 `yaml:"tolerance_percent"`

	// DispatchTimeout bounds the executor call end to end, including
	// synchronous executors that clear before returning. Defaults
	// to 5m.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`

	// Fees is the pricing policy.
	Fees FeePolicy `yaml:"fees"`
}

// Engine issues clearing tokens, verifies payments, drives the status
// machine and fans out transitions to subscribers. The engine owns all
// token state; only verification moves pending to paid, and only the
// executor's progress callbacks move an operation beyond that.
type Engine struct {
	log      logrus.FieldLogger
	cfg      Config
	key      []byte
	payments PaymentChecker
	executor Executor
	recorder Recorder
	health   *export.Health
	subs     *subscriptions
	now      func() time.Time

	mu      sync.RWMutex
	ops     map[string]*operationState
	txIndex map[string]string // payment tx -> token it was credited to
}

// operationState is the mutable state attached 1:1 to a token. Its
// mutex serializes every status mutation for that token.
type operationState struct {
	mu sync.Mutex

	token        *Token
	status       string
	payment      PaymentStatus
	execution    *ExecutionInfo
	verification *PaymentVerification
	dispatched   bool
	startedAt    time.Time
}

// NewEngine creates a clearing engine. The signing key must be
// non-empty; it signs every issued token.
func NewEngine(
	log logrus.FieldLogger,
	cfg Config,
	signingKey []byte,
	payments PaymentChecker,
	executor Executor,
	recorder Recorder,
	health *export.Health,
) (*Engine, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("clearing signing key is required")
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}

	if cfg.TolerancePercent <= 0 {
		cfg.TolerancePercent = 1
	}

	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 5 * time.Minute
	}

	cfg.Fees.applyDefaults()

	return &Engine{
		log:      log.WithField("component", "clearing"),
		cfg:      cfg,
		key:      signingKey,
		payments: payments,
		executor: executor,
		recorder: recorder,
		health:   health,
		subs:     newSubscriptions(log),
		now:      time.Now,
	}, nil
}

// RequestToken validates a clearing request, prices it and issues a
// signed, time-bounded token.
func (e *Engine) RequestToken(_ context.Context, req Request) (*TokenResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	quote := e.cfg.Fees.Quote(req)
	now := e.now()

	token := &Token{
		Token:             uuid.New().String(),
		Version:           1,
		RequestType:       req.Type,
		TargetIdentifiers: req.Targets,
		WalletAddress:     req.WalletAddress,
		ChainID:           req.ChainID,
		IssuedAt:          now.Unix(),
		ExpiresAt:         now.Add(e.cfg.TokenTTL).Unix(),
		ServiceFee:        fmt.Sprintf("%d", quote.ServiceFee),
		EstimatedGasFee:   fmt.Sprintf("%d", quote.EstimatedGasFee),
		TotalRequired:     fmt.Sprintf("%d", quote.TotalRequired),
		AcceptedDenom:     quote.Denom,
		Nonce:             newNonce(),
	}
	token.Signature = e.sign(token)

	e.mu.Lock()
	if e.ops == nil {
		e.ops = make(map[string]*operationState)
	}

	e.ops[token.Token] = &operationState{
		token:  token,
		status: StatusPending,
	}
	e.mu.Unlock()

	if e.health != nil {
		e.health.TokensIssued.Inc()
	}

	e.log.WithFields(logrus.Fields{
		"token":  token.Token,
		"wallet": token.WalletAddress,
		"type":   token.RequestType,
		"total":  token.TotalRequired,
	}).Info("Issued clearing token")

	return &TokenResponse{
		Token:          token,
		PaymentAddress: e.cfg.PaymentAddress,
		PaymentMemo:    paymentMemo(token.Token),
		PaymentAmount:  token.TotalRequired,
		ExpiresIn:      int(e.cfg.TokenTTL.Seconds()),
	}, nil
}

// VerifyPayment verifies the fee payment for a token and, on success,
// transitions it pending -> paid and schedules dispatch. Verification
// is idempotent per transaction reference and serialized per token.
func (e *Engine) VerifyPayment(
	ctx context.Context,
	tokenID, txHash string,
) (*PaymentVerification, error) {
	state, ok := e.lookup(tokenID)
	if !ok {
		return nil, fmt.Errorf("verifying payment for %s: %w", tokenID, ErrTokenNotFound)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.status != StatusPending {
		if state.payment.TxHash == txHash && state.verification != nil {
			// Retry with the same reference: return the cached result
			// rather than double-crediting.
			cached := *state.verification

			return &cached, nil
		}

		// A token that expired unpaid stays expired; the terminal
		// failed status is incidental.
		if !state.payment.Received && state.token.Expired(e.now()) {
			return nil, fmt.Errorf("verifying payment for %s: %w", tokenID, ErrTokenExpired)
		}

		return nil, fmt.Errorf("verifying payment for %s: %w", tokenID, ErrAlreadyProcessed)
	}

	if state.token.Expired(e.now()) {
		e.failExpiredLocked(state)

		return nil, fmt.Errorf("verifying payment for %s: %w", tokenID, ErrTokenExpired)
	}

	// One payment transaction pays for one token, ever.
	if owner, claimed := e.paymentOwner(txHash); claimed && owner != tokenID {
		e.observePayment("rejected")

		return nil, fmt.Errorf("verifying payment for %s: %w", tokenID, ErrDuplicatePayment)
	}

	payment, err := e.payments.Payment(ctx, state.token.ChainID, txHash)
	if err != nil {
		e.observePayment("rejected")

		return nil, fmt.Errorf("fetching payment %s: %w", txHash, err)
	}

	if err := e.validatePayment(state.token, payment); err != nil {
		e.observePayment("rejected")

		return nil, err
	}

	if err := e.claimPayment(txHash, tokenID); err != nil {
		e.observePayment("rejected")

		return nil, fmt.Errorf("verifying payment for %s: %w", tokenID, err)
	}

	state.payment = PaymentStatus{
		Received: true,
		TxHash:   txHash,
		Amount:   payment.Amount,
	}
	state.verification = &PaymentVerification{
		Verified: true,
		Status:   "verified",
		Message:  "payment verified, clearing scheduled",
	}
	state.startedAt = e.now()

	e.transitionLocked(state, StatusPaid)
	e.observePayment("verified")

	// At-most-once: the dispatched flag flips under the state lock
	// before the goroutine starts.
	if !state.dispatched {
		state.dispatched = true
		go e.dispatch(state)
	}

	result := *state.verification

	return &result, nil
}

// GetStatus returns the current status of a token. An unpaid token
// past its expiry is flipped to terminal failed here rather than
// lingering as pending.
func (e *Engine) GetStatus(tokenID string) (*Status, error) {
	state, ok := e.lookup(tokenID)
	if !ok {
		return nil, fmt.Errorf("status for %s: %w", tokenID, ErrTokenNotFound)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.status == StatusPending && state.token.Expired(e.now()) {
		e.failExpiredLocked(state)
	}

	return statusLocked(state), nil
}

// Subscribe registers a callback invoked, in order, for every status
// transition of the token. The returned handle stops delivery
// immediately when called; it does not affect the token's state.
func (e *Engine) Subscribe(tokenID string, onUpdate func(Status)) (Unsubscribe, error) {
	if _, ok := e.lookup(tokenID); !ok {
		return nil, fmt.Errorf("subscribing to %s: %w", tokenID, ErrTokenNotFound)
	}

	return e.subs.add(tokenID, onUpdate), nil
}

// PollStatus is the poll fallback for completion detection when the
// push channel is unavailable: it reads the status at the given
// interval until a terminal state, a bounded number of attempts, or
// context cancellation.
func (e *Engine) PollStatus(
	ctx context.Context,
	tokenID string,
	interval time.Duration,
	maxAttempts int,
) (*Status, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	if maxAttempts <= 0 {
		maxAttempts = 150
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		status, err := e.GetStatus(tokenID)
		if err != nil {
			return nil, err
		}

		if status.Status == StatusCompleted || status.Status == StatusFailed {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling %s: %w", tokenID, ErrPollTimeout)
		case <-ticker.C:
		}
	}

	return nil, fmt.Errorf("polling %s: %w", tokenID, ErrPollTimeout)
}

// ReportProgress lets an out-of-process executor feed progress updates
// for a token it accepted. In-process executors use the callback
// passed to Dispatch instead.
func (e *Engine) ReportProgress(tokenID string, update ExecutionUpdate) error {
	state, ok := e.lookup(tokenID)
	if !ok {
		return fmt.Errorf("progress for %s: %w", tokenID, ErrTokenNotFound)
	}

	e.applyProgress(state, update)

	return nil
}

func (e *Engine) lookup(tokenID string) (*operationState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok := e.ops[tokenID]

	return state, ok
}

func (e *Engine) paymentOwner(txHash string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	owner, ok := e.txIndex[txHash]

	return owner, ok
}

// claimPayment records the payment transaction as consumed by the
// token. Claims are made only after validation succeeds, so a rejected
// payment stays usable for the token it actually pays for.
func (e *Engine) claimPayment(txHash, tokenID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if owner, ok := e.txIndex[txHash]; ok && owner != tokenID {
		return ErrDuplicatePayment
	}

	if e.txIndex == nil {
		e.txIndex = make(map[string]string)
	}

	e.txIndex[txHash] = tokenID

	return nil
}

// dispatch hands the operation to the executor. Called exactly once
// per token, from the goroutine started by VerifyPayment.
func (e *Engine) dispatch(state *operationState) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DispatchTimeout)
	defer cancel()

	token := state.token

	err := e.executor.Dispatch(ctx, token, token.TargetIdentifiers, func(update ExecutionUpdate) {
		e.applyProgress(state, update)
	})

	state.mu.Lock()
	defer state.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("dispatching %s: %w", token.Token, ErrDispatchTimeout)
		}

		e.log.WithError(err).WithField("token", token.Token).Error("Dispatch failed")

		e.finishLocked(state, ExecutionUpdate{Error: err.Error(), Done: true})

		return
	}

	// The executor accepted the work.
	if state.status == StatusPaid {
		now := e.now()
		state.execution = &ExecutionInfo{StartedAt: &now}
		e.transitionLocked(state, StatusExecuting)
	}
}

// applyProgress folds an executor progress update into the state.
func (e *Engine) applyProgress(state *operationState, update ExecutionUpdate) {
	state.mu.Lock()
	defer state.mu.Unlock()

	// Progress can only move an operation forward from paid/executing.
	if state.status != StatusPaid && state.status != StatusExecuting {
		return
	}

	if state.status == StatusPaid {
		now := e.now()
		state.execution = &ExecutionInfo{StartedAt: &now}
		e.transitionLocked(state, StatusExecuting)
	}

	if state.execution == nil {
		state.execution = &ExecutionInfo{}
	}

	state.execution.PacketsCleared = update.PacketsCleared
	state.execution.PacketsFailed = update.PacketsFailed

	if len(update.TxHashes) > 0 {
		state.execution.TxHashes = update.TxHashes
	}

	if update.Error != "" {
		state.execution.Error = update.Error
	}

	if update.Done {
		e.finishLocked(state, update)
	}
}

// finishLocked moves an operation to its terminal state and records it.
func (e *Engine) finishLocked(state *operationState, update ExecutionUpdate) {
	now := e.now()

	if state.execution == nil {
		state.execution = &ExecutionInfo{}
	}

	state.execution.CompletedAt = &now

	success := update.Error == "" && update.PacketsFailed == 0
	if success {
		e.transitionLocked(state, StatusCompleted)
	} else {
		e.transitionLocked(state, StatusFailed)
	}

	result := StatusFailed
	if success {
		result = StatusCompleted
	}

	if e.health != nil {
		e.health.OperationsEnded.WithLabelValues(result).Inc()
	}

	e.record(state, success)
}

// failExpiredLocked terminal-fails an unpaid token whose validity
// window has passed.
func (e *Engine) failExpiredLocked(state *operationState) {
	state.execution = &ExecutionInfo{Error: "token expired before payment"}
	e.transitionLocked(state, StatusFailed)

	if e.health != nil {
		e.health.TokensExpired.Inc()
	}
}

// transitionLocked advances the status and notifies subscribers. The
// caller holds the state lock, so transitions for one token are
// totally ordered; delivery to subscribers is asynchronous.
func (e *Engine) transitionLocked(state *operationState, next string) {
	state.status = next
	e.subs.notify(state.token.Token, *statusLocked(state))

	e.log.WithFields(logrus.Fields{
		"token":  state.token.Token,
		"status": next,
	}).Debug("Clearing status transition")
}

func (e *Engine) record(state *operationState, success bool) {
	if e.recorder == nil {
		return
	}

	token := state.token

	op := Operation{
		Token:           token.Token,
		WalletAddress:   token.WalletAddress,
		ChainID:         token.ChainID,
		RequestType:     token.RequestType,
		PacketsTargeted: len(token.TargetIdentifiers.Packets) + len(token.TargetIdentifiers.Channels),
		FeePaid:         state.payment.Amount,
		FeeDenom:        token.AcceptedDenom,
		PaymentTxHash:   state.payment.TxHash,
		Success:         success,
		StartedAt:       state.startedAt,
		CompletedAt:     e.now(),
	}

	if state.execution != nil {
		op.PacketsCleared = state.execution.PacketsCleared
		op.PacketsFailed = state.execution.PacketsFailed
		op.TxHashes = state.execution.TxHashes
		op.ErrorMessage = state.execution.Error
	}

	go func() {
		if err := e.recorder.Record(context.Background(), op); err != nil {
			e.log.WithError(err).WithField("token", op.Token).
				Warn("Recording clearing operation failed")
		}
	}()
}

// validatePayment checks destination, memo, denomination and amount
// (within tolerance) of the observed payment. The memo binds the
// transaction to exactly one token.
func (e *Engine) validatePayment(token *Token, payment *Payment) error {
	if payment.ToAddress != e.cfg.PaymentAddress {
		return fmt.Errorf("payment %s not sent to service address", payment.TxHash)
	}

	if payment.Memo != paymentMemo(token.Token) {
		return fmt.Errorf("payment %s memo does not reference token %s", payment.TxHash, token.Token)
	}

	if payment.Denom != token.AcceptedDenom {
		return &WrongDenomError{Expected: token.AcceptedDenom, Got: payment.Denom}
	}

	paid, ok := new(big.Int).SetString(payment.Amount, 10)
	if !ok {
		return fmt.Errorf("unparseable payment amount %q", payment.Amount)
	}

	required, ok := new(big.Int).SetString(token.TotalRequired, 10)
	if !ok {
		return fmt.Errorf("unparseable required amount %q", token.TotalRequired)
	}

	// Allow a small shortfall for gas estimation variance.
	tolerance := new(big.Int).Mul(required, big.NewInt(e.cfg.TolerancePercent))
	tolerance.Div(tolerance, big.NewInt(100))

	minimum := new(big.Int).Sub(required, tolerance)

	if paid.Cmp(minimum) < 0 {
		return &InsufficientPaymentError{
			Required: required.String(),
			Paid:     paid.String(),
			Denom:    token.AcceptedDenom,
		}
	}

	// Overpayments are rejected too: there is no refund path, and a
	// grossly wrong amount usually means the wrong transaction.
	maximum := new(big.Int).Add(required, tolerance)

	if paid.Cmp(maximum) > 0 {
		return &OverpaymentError{
			Required: required.String(),
			Paid:     paid.String(),
			Denom:    token.AcceptedDenom,
		}
	}

	return nil
}

// sign computes the HMAC-SHA256 signature binding every token field,
// including a digest of the targets, so tokens cannot be replayed with
// altered scope.
func (e *Engine) sign(token *Token) string {
	targets, _ := json.Marshal(token.TargetIdentifiers)
	targetsDigest := sha256.Sum256(targets)

	payload := fmt.Sprintf(
		"%s|%d|%s|%s|%s|%s|%d|%d|%s|%s|%s|%s|%s",
		token.Token,
		token.Version,
		token.RequestType,
		hex.EncodeToString(targetsDigest[:]),
		token.WalletAddress,
		token.ChainID,
		token.IssuedAt,
		token.ExpiresAt,
		token.ServiceFee,
		token.EstimatedGasFee,
		token.TotalRequired,
		token.AcceptedDenom,
		token.Nonce,
	)

	mac := hmac.New(sha256.New, e.key)
	mac.Write([]byte(payload))

	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether a token's signature matches its
// fields under the engine's key.
func (e *Engine) VerifySignature(token *Token) bool {
	expected := e.sign(token)

	return hmac.Equal([]byte(expected), []byte(token.Signature))
}

func (e *Engine) observePayment(result string) {
	if e.health != nil {
		e.health.PaymentsVerified.WithLabelValues(result).Inc()
	}
}

func statusLocked(state *operationState) *Status {
	status := &Status{
		Token:   state.token.Token,
		Status:  state.status,
		Payment: state.payment,
	}

	if state.execution != nil {
		execution := *state.execution
		status.Execution = &execution
	}

	return status
}

// validateRequest checks that targets are non-empty and internally
// consistent with the request type.
func validateRequest(req Request) error {
	if req.WalletAddress == "" {
		return fmt.Errorf("%w: wallet address required", ErrInvalidRequest)
	}

	if req.ChainID == "" {
		return fmt.Errorf("%w: chain id required", ErrInvalidRequest)
	}

	switch req.Type {
	case RequestTypePacket:
		if len(req.Targets.Packets) == 0 {
			return fmt.Errorf("%w: packet request needs packet identifiers", ErrInvalidRequest)
		}

		if len(req.Targets.Packets) > maxPacketsPerRequest {
			return fmt.Errorf(
				"%w: too many packets (max %d)",
				ErrInvalidRequest, maxPacketsPerRequest,
			)
		}

		for _, p := range req.Targets.Packets {
			if p.Chain == "" || p.Channel == "" || p.Sequence == 0 {
				return fmt.Errorf("%w: incomplete packet identifier", ErrInvalidRequest)
			}
		}
	case RequestTypeChannel, RequestTypeBulk:
		if len(req.Targets.Channels) == 0 {
			return fmt.Errorf(
				"%w: %s request needs channel pairs",
				ErrInvalidRequest, req.Type,
			)
		}

		for _, ch := range req.Targets.Channels {
			if ch.SrcChain == "" || ch.SrcChannel == "" || ch.DstChannel == "" {
				return fmt.Errorf("%w: incomplete channel pair", ErrInvalidRequest)
			}
		}
	default:
		return fmt.Errorf("%w: unknown request type %q", ErrInvalidRequest, req.Type)
	}

	return nil
}

func newNonce() string {
	return uuid.New().String()[:8]
}

func paymentMemo(tokenID string) string {
	return "CLR-" + tokenID
}
