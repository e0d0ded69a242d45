package store

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/relayooor/ibcpulse/internal/clearing"
	"github.com/relayooor/ibcpulse/internal/export"
)

// OperationRow is the clearing_operations row shape.
type OperationRow struct {
	Token           string
	WalletAddress   string
	ChainID         string
	RequestType     string
	PacketsTargeted uint32
	PacketsCleared  uint32
	PacketsFailed   uint32
	FeePaid         string
	FeeDenom        string
	PaymentTxHash   string
	TxHashes        []string
	Success         bool
	ErrorMessage    string
	StartedAt       time.Time
	CompletedAt     time.Time
}

// Operations persists terminal clearing operations in batches and
// answers statistics queries over them. Implements clearing.Recorder.
type Operations struct {
	log    logrus.FieldLogger
	writer *Writer
	health *export.Health
	proc   *processor.BatchItemProcessor[OperationRow]
}

var _ clearing.Recorder = (*Operations)(nil)

// NewOperations creates the operation store on top of a writer.
func NewOperations(
	log logrus.FieldLogger,
	writer *Writer,
	health *export.Health,
) (*Operations, error) {
	ops := &Operations{
		log:    log.WithField("component", "operation_store"),
		writer: writer,
		health: health,
	}

	cfg := writer.Config()

	proc, err := processor.NewBatchItemProcessor[OperationRow](
		&operationExporter{ops: ops},
		"clearing_operations",
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.FlushInterval),
		processor.WithExportTimeout(30*time.Second),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation processor: %w", err)
	}

	ops.proc = proc

	return ops, nil
}

// Record queues one terminal operation for persistence.
func (o *Operations) Record(ctx context.Context, op clearing.Operation) error {
	row := &OperationRow{
		Token:           op.Token,
		WalletAddress:   op.WalletAddress,
		ChainID:         op.ChainID,
		RequestType:     op.RequestType,
		PacketsTargeted: uint32(op.PacketsTargeted),
		PacketsCleared:  uint32(op.PacketsCleared),
		PacketsFailed:   uint32(op.PacketsFailed),
		FeePaid:         op.FeePaid,
		FeeDenom:        op.FeeDenom,
		PaymentTxHash:   op.PaymentTxHash,
		TxHashes:        op.TxHashes,
		Success:         op.Success,
		ErrorMessage:    op.ErrorMessage,
		StartedAt:       op.StartedAt,
		CompletedAt:     op.CompletedAt,
	}

	if err := o.proc.Write(ctx, []*OperationRow{row}); err != nil {
		if o.health != nil {
			o.health.StoreErrors.Inc()
		}

		return fmt.Errorf("queueing operation row: %w", err)
	}

	return nil
}

// Stop flushes pending rows and shuts the processor down.
func (o *Operations) Stop(ctx context.Context) error {
	return o.proc.Shutdown(ctx)
}

// flush writes one batch of rows.
func (o *Operations) flush(ctx context.Context, rows []*OperationRow) error {
	conn := o.writer.Conn()
	table := fmt.Sprintf("%s.clearing_operations", o.writer.Config().Database)

	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s (
		token, wallet_address, chain_id, request_type,
		packets_targeted, packets_cleared, packets_failed,
		fee_paid, fee_denom, payment_tx_hash, tx_hashes,
		success, error_message, started_at, completed_at
	)`, table))
	if err != nil {
		return fmt.Errorf("preparing clearing_operations batch: %w", err)
	}

	for _, row := range rows {
		if row == nil {
			continue
		}

		if err := batch.Append(
			row.Token, row.WalletAddress, row.ChainID, row.RequestType,
			row.PacketsTargeted, row.PacketsCleared, row.PacketsFailed,
			row.FeePaid, row.FeeDenom, row.PaymentTxHash, row.TxHashes,
			row.Success, row.ErrorMessage, row.StartedAt, row.CompletedAt,
		); err != nil {
			return fmt.Errorf("appending clearing_operations row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		if o.health != nil {
			o.health.StoreErrors.Inc()
		}

		return fmt.Errorf("sending clearing_operations batch: %w", err)
	}

	if o.health != nil {
		o.health.StoreRowsWritten.Add(float64(len(rows)))
	}

	o.log.WithField("rows", len(rows)).Debug("Flushed clearing operations")

	return nil
}

// operationExporter adapts Operations.flush to the batch processor's
// exporter interface.
type operationExporter struct {
	ops *Operations
}

var _ processor.ItemExporter[OperationRow] = (*operationExporter)(nil)

func (e *operationExporter) ExportItems(ctx context.Context, items []*OperationRow) error {
	if len(items) == 0 {
		return nil
	}

	return e.ops.flush(ctx, items)
}

func (e *operationExporter) Shutdown(_ context.Context) error {
	return nil
}

// DenomTotal is an aggregate fee amount in one denomination.
type DenomTotal struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// UserStatistics summarizes one wallet's clearing history.
type UserStatistics struct {
	WalletAddress    string       `json:"walletAddress"`
	TotalOperations  uint64       `json:"totalOperations"`
	SuccessfulClears uint64       `json:"successfulClears"`
	FailedClears     uint64       `json:"failedClears"`
	PacketsCleared   uint64       `json:"packetsCleared"`
	AvgClearTimeMs   float64      `json:"avgClearTimeMs"`
	FeesPaid         []DenomTotal `json:"feesPaid"`
}

// PlatformStatistics summarizes clearing activity across all wallets.
type PlatformStatistics struct {
	TotalOperations uint64       `json:"totalOperations"`
	SuccessRate     float64      `json:"successRate"`
	PacketsCleared  uint64       `json:"packetsCleared"`
	ActiveWallets   uint64       `json:"activeWallets"`
	FeesCollected   []DenomTotal `json:"feesCollected"`
}

// UserStatistics aggregates one wallet's operation history.
func (o *Operations) UserStatistics(
	ctx context.Context,
	walletAddress string,
) (*UserStatistics, error) {
	conn := o.writer.Conn()
	db := o.writer.Config().Database

	stats := &UserStatistics{WalletAddress: walletAddress}

	row := conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			count() AS total,
			countIf(success) AS succeeded,
			countIf(NOT success) AS failed,
			sum(packets_cleared) AS cleared,
			if(succeeded > 0,
				avgIf(dateDiff('millisecond', started_at, completed_at), success),
				0) AS avg_clear_ms
		FROM %s.clearing_operations
		WHERE wallet_address = ?`, db), walletAddress)

	if err := row.Scan(
		&stats.TotalOperations,
		&stats.SuccessfulClears,
		&stats.FailedClears,
		&stats.PacketsCleared,
		&stats.AvgClearTimeMs,
	); err != nil {
		return nil, fmt.Errorf("querying user statistics: %w", err)
	}

	fees, err := o.feeTotals(ctx, "WHERE success AND wallet_address = ?", walletAddress)
	if err != nil {
		return nil, err
	}

	stats.FeesPaid = fees

	return stats, nil
}

// PlatformStatistics aggregates the whole operation history.
func (o *Operations) PlatformStatistics(ctx context.Context) (*PlatformStatistics, error) {
	conn := o.writer.Conn()
	db := o.writer.Config().Database

	stats := &PlatformStatistics{}

	var succeeded uint64

	row := conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			count() AS total,
			countIf(success) AS succeeded,
			sum(packets_cleared) AS cleared,
			uniqExact(wallet_address) AS wallets
		FROM %s.clearing_operations`, db))

	if err := row.Scan(
		&stats.TotalOperations,
		&succeeded,
		&stats.PacketsCleared,
		&stats.ActiveWallets,
	); err != nil {
		return nil, fmt.Errorf("querying platform statistics: %w", err)
	}

	if stats.TotalOperations > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.TotalOperations) * 100
	}

	fees, err := o.feeTotals(ctx, "WHERE success")
	if err != nil {
		return nil, err
	}

	stats.FeesCollected = fees

	return stats, nil
}

// feeTotals sums paid fees grouped by denom. Amounts are stored as
// decimal strings, so the sum runs over their numeric cast.
func (o *Operations) feeTotals(
	ctx context.Context,
	where string,
	args ...any,
) ([]DenomTotal, error) {
	conn := o.writer.Conn()
	db := o.writer.Config().Database

	query := fmt.Sprintf(`
		SELECT fee_denom, toString(sum(toUInt128OrZero(fee_paid))) AS total
		FROM %s.clearing_operations
		%s
		GROUP BY fee_denom
		ORDER BY fee_denom`, db, where)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fee totals: %w", err)
	}
	defer rows.Close()

	var totals []DenomTotal

	for rows.Next() {
		var total DenomTotal
		if err := rows.Scan(&total.Denom, &total.Amount); err != nil {
			return nil, fmt.Errorf("scanning fee total: %w", err)
		}

		totals = append(totals, total)
	}

	return totals, rows.Err()
}

// RecentOperations returns a wallet's most recent operations, newest
// first.
func (o *Operations) RecentOperations(
	ctx context.Context,
	walletAddress string,
	limit int,
) ([]OperationRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	conn := o.writer.Conn()
	db := o.writer.Config().Database

	query := fmt.Sprintf(`
		SELECT
			token, wallet_address, chain_id, request_type,
			packets_targeted, packets_cleared, packets_failed,
			fee_paid, fee_denom, payment_tx_hash, tx_hashes,
			success, error_message, started_at, completed_at
		FROM %s.clearing_operations
		WHERE wallet_address = ?
		ORDER BY completed_at DESC
		LIMIT %d`, db, limit)

	rows, err := conn.Query(ctx, query, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("querying recent operations: %w", err)
	}
	defer rows.Close()

	var out []OperationRow

	for rows.Next() {
		var row OperationRow
		if err := rows.Scan(
			&row.Token, &row.WalletAddress, &row.ChainID, &row.RequestType,
			&row.PacketsTargeted, &row.PacketsCleared, &row.PacketsFailed,
			&row.FeePaid, &row.FeeDenom, &row.PaymentTxHash, &row.TxHashes,
			&row.Success, &row.ErrorMessage, &row.StartedAt, &row.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning operation row: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}
