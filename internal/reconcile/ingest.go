package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/postgres"
)

// Ingestor parses a bank statement and persists its lines as BankTxn rows,
// publishing one cash.stmt.ingested.v1 event per statement (spec §4.8 /
// §6). Matching against candidate ledger events is a separate step
// (Matcher), so ingestion never blocks on scoring.
type Ingestor struct {
	tx     TxRunner
	stmts  StatementRepository
	outbox OutboxRepository
	log    *slog.Logger
}

func NewIngestor(tx TxRunner, stmts StatementRepository, outbox OutboxRepository, log *slog.Logger) *Ingestor {
	return &Ingestor{tx: tx, stmts: stmts, outbox: outbox, log: log}
}

type statementIngestedPayload struct {
	StatementID string `json:"statement_id"`
	Account     string `json:"account"`
	Format      string `json:"format"`
	EntryCount  int    `json:"entry_count"`
}

// IngestBAI2 parses raw as a BAI2 statement and persists its entries.
func (ing *Ingestor) IngestBAI2(ctx context.Context, account string, raw string) (uuid.UUID, int, error) {
	txns, err := ParseBAI2(raw)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("reconcile: ingest BAI2: %w", err)
	}
	return ing.persist(ctx, account, FormatBAI2, txns)
}

// IngestCAMT053 parses r as a camt.053 statement and persists its entries.
func (ing *Ingestor) IngestCAMT053(ctx context.Context, account string, r io.Reader) (uuid.UUID, int, error) {
	txns, err := ParseCAMT053(r, account)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("reconcile: ingest CAMT.053: %w", err)
	}
	return ing.persist(ctx, account, FormatCAMT053, txns)
}

// IngestMT950 parses raw as a SWIFT MT950 nostro statement and persists its
// entries.
func (ing *Ingestor) IngestMT950(ctx context.Context, account string, raw string) (uuid.UUID, int, error) {
	txns, err := ParseMT950(raw, account)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("reconcile: ingest MT950: %w", err)
	}
	return ing.persist(ctx, account, FormatMT950, txns)
}

func (ing *Ingestor) persist(ctx context.Context, account string, format StatementFormat, txns []ParsedTxn) (uuid.UUID, int, error) {
	statementID := uuid.New()
	now := time.Now().UTC()

	err := ing.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		if err := ing.stmts.InsertStatement(ctx, q, statementID, account, format, now); err != nil {
			return fmt.Errorf("insert statement: %w", err)
		}
		for _, t := range txns {
			bankTxn := BankTxn{
				ID:          uuid.New(),
				StatementID: statementID,
				Account:     t.Account,
				Type:        t.Type,
				AmountMinor: t.AmountMinor,
				PostedDate:  t.PostedDate,
				BankRef:     t.BankRef,
				Description: t.Description,
			}
			if err := ing.stmts.InsertTxn(ctx, q, bankTxn); err != nil {
				return fmt.Errorf("insert bank txn: %w", err)
			}
		}
		payload := statementIngestedPayload{
			StatementID: statementID.String(),
			Account:     account,
			Format:      string(format),
			EntryCount:  len(txns),
		}
		return enqueueOutbox(ctx, q, ing.outbox, TopicCashStatementIngested, uuid.New(), TopicCashStatementIngested, statementID.String(), payload)
	})
	if err != nil {
		return uuid.Nil, 0, err
	}

	ing.log.Info("statement ingested", "statement_id", statementID, "account", account, "format", format, "entries", len(txns))
	return statementID, len(txns), nil
}
