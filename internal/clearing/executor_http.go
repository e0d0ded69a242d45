package clearing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ExecutorConfig configures the HTTP relayer executor.
type ExecutorConfig struct {
	// Endpoint is the relayer control API base URL.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds one clearing call end to end. Defaults to 120s;
	// clearing a full channel can take several blocks.
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPExecutor dispatches clearing work to an external relayer over
// its control API. The call is synchronous: the relayer clears the
// targets and responds with the outcome, which is reported through the
// progress callback.
type HTTPExecutor struct {
	log  logrus.FieldLogger
	cfg  ExecutorConfig
	http *http.Client
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates an executor for a relayer control endpoint.
func NewHTTPExecutor(log logrus.FieldLogger, cfg ExecutorConfig) *HTTPExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &HTTPExecutor{
		log:  log.WithField("component", "executor"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type clearRequest struct {
	Token   string  `json:"token"`
	Targets Targets `json:"targets"`
}

type clearResponse struct {
	PacketsCleared int      `json:"packetsCleared"`
	PacketsFailed  int      `json:"packetsFailed"`
	TxHashes       []string `json:"txHashes"`
	Error          string   `json:"error"`
}

// Dispatch sends the clearing request and reports the outcome through
// the progress callback.
func (e *HTTPExecutor) Dispatch(
	ctx context.Context,
	token *Token,
	targets Targets,
	progress func(ExecutionUpdate),
) error {
	payload, err := json.Marshal(clearRequest{Token: token.Token, Targets: targets})
	if err != nil {
		return fmt.Errorf("encoding clear request: %w", err)
	}

	url := e.cfg.Endpoint + "/clear"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating clear request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	e.log.WithFields(logrus.Fields{
		"token":    token.Token,
		"packets":  len(targets.Packets),
		"channels": len(targets.Channels),
	}).Info("Dispatching clearing operation")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatching to relayer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading relayer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relayer returned status %d", resp.StatusCode)
	}

	var result clearResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decoding relayer response: %w", err)
	}

	progress(ExecutionUpdate{
		PacketsCleared: result.PacketsCleared,
		PacketsFailed:  result.PacketsFailed,
		TxHashes:       result.TxHashes,
		Error:          result.Error,
		Done:           true,
	})

	return nil
}
