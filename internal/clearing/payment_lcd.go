package clearing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/relayooor/ibcpulse/internal/registry"
)

// LCDConfig configures the on-chain payment lookup.
type LCDConfig struct {
	// Timeout bounds each transaction query. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// LCDPaymentChecker looks payments up through the chain's REST (LCD)
// endpoint, found via the endpoint registry.
type LCDPaymentChecker struct {
	log      logrus.FieldLogger
	http     *http.Client
	registry *registry.Registry
}

var _ PaymentChecker = (*LCDPaymentChecker)(nil)

// NewLCDPaymentChecker creates an LCD-backed payment checker.
func NewLCDPaymentChecker(
	log logrus.FieldLogger,
	cfg LCDConfig,
	reg *registry.Registry,
) *LCDPaymentChecker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &LCDPaymentChecker{
		log:      log.WithField("component", "payment_checker"),
		http:     &http.Client{Timeout: cfg.Timeout},
		registry: reg,
	}
}

// Payment fetches a transaction by hash and extracts the first bank
// transfer it carries.
func (c *LCDPaymentChecker) Payment(
	ctx context.Context,
	chainID, txHash string,
) (*Payment, error) {
	endpoint, ok := c.registry.Lookup(chainID)
	if !ok {
		return nil, fmt.Errorf("no endpoint registered for chain %s", chainID)
	}

	url := fmt.Sprintf("%s/cosmos/tx/v1beta1/txs/%s", endpoint, txHash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying tx %s: %w", txHash, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tx response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("tx %s not found on %s", txHash, chainID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d querying tx %s", resp.StatusCode, txHash)
	}

	if code := gjson.GetBytes(body, "tx_response.code").Int(); code != 0 {
		return nil, fmt.Errorf("tx %s failed on chain with code %d", txHash, code)
	}

	payment := &Payment{
		TxHash: txHash,
		Memo:   gjson.GetBytes(body, "tx.body.memo").String(),
	}

	// The fee payment is the first bank send message in the tx.
	messages := gjson.GetBytes(body, "tx.body.messages")
	messages.ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("@type").String() != "/cosmos.bank.v1beta1.MsgSend" {
			return true
		}

		payment.FromAddress = msg.Get("from_address").String()
		payment.ToAddress = msg.Get("to_address").String()

		amount := msg.Get("amount.0")
		payment.Amount = amount.Get("amount").String()
		payment.Denom = amount.Get("denom").String()

		return false
	})

	if payment.ToAddress == "" {
		return nil, fmt.Errorf("tx %s carries no bank transfer", txHash)
	}

	c.log.WithFields(logrus.Fields{
		"tx":     txHash,
		"to":     payment.ToAddress,
		"amount": payment.Amount,
		"denom":  payment.Denom,
	}).Debug("Fetched payment transaction")

	return payment, nil
}
