package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ChannelState is the subset of a channel-state query the resolver
// needs: the counterparty channel and the first connection hop.
type ChannelState struct {
	CounterpartyChannelID string
	ConnectionID          string
}

// ConnectionState holds the client/connection ids on both ends.
type ConnectionState struct {
	ClientID                 string
	CounterpartyClientID     string
	CounterpartyConnectionID string
}

// ClientState carries the counterparty chain id recovered from the
// client associated with a channel.
type ClientState struct {
	ChainID string
}

// StateClient performs read-only IBC state queries against one chain's
// REST endpoint.
type StateClient interface {
	// ChannelState queries channel state by (channel, port).
	ChannelState(ctx context.Context, endpoint, channelID, portID string) (*ChannelState, error)
	// ConnectionState queries connection state by connection id.
	ConnectionState(ctx context.Context, endpoint, connectionID string) (*ConnectionState, error)
	// ClientState queries the client state associated with a channel.
	ClientState(ctx context.Context, endpoint, channelID, portID string) (*ClientState, error)
}

type stateClient struct {
	log  logrus.FieldLogger
	http *http.Client
}

// NewStateClient creates a StateClient with the given per-request
// timeout. Chain REST endpoints are third-party infrastructure, so
// every lookup carries an upper bound on wait time.
func NewStateClient(log logrus.FieldLogger, timeout time.Duration) StateClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &stateClient{
		log: log.WithField("component", "state_client"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *stateClient) ChannelState(
	ctx context.Context,
	endpoint, channelID, portID string,
) (*ChannelState, error) {
	path := fmt.Sprintf(
		"/ibc/core/channel/v1/channels/%s/ports/%s",
		channelID, portID,
	)

	body, err := c.get(ctx, endpoint, path)
	if err != nil {
		return nil, err
	}

	counterparty := gjson.GetBytes(body, "channel.counterparty.channel_id")
	connection := gjson.GetBytes(body, "channel.connection_hops.0")

	if !counterparty.Exists() || counterparty.String() == "" ||
		!connection.Exists() || connection.String() == "" {
		return nil, fmt.Errorf("channel %s/%s: %w", channelID, portID, ErrNotFound)
	}

	return &ChannelState{
		CounterpartyChannelID: counterparty.String(),
		ConnectionID:          connection.String(),
	}, nil
}

func (c *stateClient) ConnectionState(
	ctx context.Context,
	endpoint, connectionID string,
) (*ConnectionState, error) {
	path := "/ibc/core/connection/v1/connections/" + connectionID

	body, err := c.get(ctx, endpoint, path)
	if err != nil {
		return nil, err
	}

	clientID := gjson.GetBytes(body, "connection.client_id")
	cpClientID := gjson.GetBytes(body, "connection.counterparty.client_id")
	cpConnectionID := gjson.GetBytes(body, "connection.counterparty.connection_id")

	if clientID.String() == "" || cpClientID.String() == "" || cpConnectionID.String() == "" {
		return nil, fmt.Errorf("connection %s: %w", connectionID, ErrNotFound)
	}

	return &ConnectionState{
		ClientID:                 clientID.String(),
		CounterpartyClientID:     cpClientID.String(),
		CounterpartyConnectionID: cpConnectionID.String(),
	}, nil
}

func (c *stateClient) ClientState(
	ctx context.Context,
	endpoint, channelID, portID string,
) (*ClientState, error) {
	path := fmt.Sprintf(
		"/ibc/core/channel/v1/channels/%s/ports/%s/client_state",
		channelID, portID,
	)

	body, err := c.get(ctx, endpoint, path)
	if err != nil {
		return nil, err
	}

	chainID := gjson.GetBytes(body, "identified_client_state.client_state.chain_id")
	if chainID.String() == "" {
		return nil, fmt.Errorf("client state for %s/%s: %w", channelID, portID, ErrNotFound)
	}

	return &ClientState{ChainID: chainID.String()}, nil
}

func (c *stateClient) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	url := endpoint + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", path, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, fmt.Errorf("querying %s: %w", path, ErrTimeout)
		}

		return nil, fmt.Errorf("querying %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("querying %s: %w", path, ErrNotFound)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf(
			"unexpected status %d from %s: %s",
			resp.StatusCode, path, string(body),
		)
	}

	return io.ReadAll(resp.Body)
}

// isClientTimeout reports whether an http.Client error was caused by
// its overall request timeout.
func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }

	return errors.As(err, &netErr) && netErr.Timeout()
}
