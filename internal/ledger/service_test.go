package ledger_test

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// fakeTxRunner runs fn directly, with no real transaction or database. The
// fake repositories below never dereference the Querier they're handed, so
// a nil is sufficient.
type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error {
	return fn(nil)
}

// fakeRepo implements ledger.EventRepository and ledger.BalanceReader
// entirely in memory, keyed by correlation ID.
type fakeRepo struct {
	byCorrelation map[string]ledger.Event
	inserted      []ledger.Event
	finalized     map[uuid.UUID]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byCorrelation: make(map[string]ledger.Event), finalized: make(map[uuid.UUID]time.Time)}
}

func (r *fakeRepo) Insert(ctx context.Context, q postgres.Querier, e ledger.Event) error {
	if _, exists := r.byCorrelation[e.CorrelationID]; exists {
		return ledger.ErrDuplicateCorrelation
	}
	r.byCorrelation[e.CorrelationID] = e
	r.inserted = append(r.inserted, e)
	return nil
}

func (r *fakeRepo) Finalize(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	r.finalized[eventID] = at
	return nil
}

func (r *fakeRepo) FindByCorrelation(ctx context.Context, q postgres.Querier, correlationID string) (ledger.Event, bool, error) {
	e, ok := r.byCorrelation[correlationID]
	return e, ok, nil
}

func (r *fakeRepo) LatestBalances(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (map[ledger.Account]money.Minor, error) {
	balances := make(map[ledger.Account]money.Minor)
	for _, e := range r.inserted {
		if e.LoanID != loanID {
			continue
		}
		if _, ok := r.finalized[e.ID]; !ok {
			continue
		}
		for _, l := range e.Lines {
			balances[l.Account] += l.Debit - l.Credit
		}
	}
	return balances, nil
}

func (r *fakeRepo) TrialBalance(ctx context.Context, q postgres.Querier) ([]ledger.TrialBalanceLine, error) {
	totals := make(map[ledger.Account]money.Minor)
	for _, e := range r.inserted {
		if _, ok := r.finalized[e.ID]; !ok {
			continue
		}
		for _, l := range e.Lines {
			totals[l.Account] += l.Debit - l.Credit
		}
	}
	var lines []ledger.TrialBalanceLine
	for account, balance := range totals {
		lines = append(lines, ledger.TrialBalanceLine{Account: account, Currency: "USD", Balance: balance})
	}
	return lines, nil
}

func newTestService() (*ledger.Service, *fakeRepo) {
	repo := newFakeRepo()
	runner := &fakeTxRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ledger.NewService(runner, repo, repo, logger), repo
}

func TestPostEvent_Success(t *testing.T) {
	svc, repo := newTestService()
	loanID := uuid.New()

	debit, err := ledger.DebitLine(ledger.AccountCash, 10000, "payment")
	require.NoError(t, err)
	credit, err := ledger.CreditLine(ledger.AccountLoanPrincipal, 10000, "principal")
	require.NoError(t, err)

	eventID, err := svc.PostEvent(context.Background(), loanID, time.Now(), "corr-1", "posting.payment.v1", "USD", []ledger.Line{debit, credit})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, eventID)
	_, finalized := repo.finalized[eventID]
	assert.True(t, finalized)
}

func TestPostEvent_DuplicateCorrelationFails(t *testing.T) {
	svc, _ := newTestService()
	loanID := uuid.New()

	debit, _ := ledger.DebitLine(ledger.AccountCash, 100, "x")
	credit, _ := ledger.CreditLine(ledger.AccountLoanPrincipal, 100, "x")

	_, err := svc.PostEvent(context.Background(), loanID, time.Now(), "dup-1", "posting.payment.v1", "USD", []ledger.Line{debit, credit})
	require.NoError(t, err)

	_, err = svc.PostEvent(context.Background(), loanID, time.Now(), "dup-1", "posting.payment.v1", "USD", []ledger.Line{debit, credit})
	assert.ErrorIs(t, err, ledger.ErrDuplicateCorrelation)
}

func TestPostEvent_UnbalancedRejectedBeforeInsert(t *testing.T) {
	svc, repo := newTestService()
	loanID := uuid.New()

	debit, _ := ledger.DebitLine(ledger.AccountCash, 100, "x")
	credit, _ := ledger.CreditLine(ledger.AccountLoanPrincipal, 99, "x")

	_, err := svc.PostEvent(context.Background(), loanID, time.Now(), "corr-bad", "posting.payment.v1", "USD", []ledger.Line{debit, credit})
	assert.ErrorIs(t, err, ledger.ErrUnbalanced)
	assert.Empty(t, repo.inserted)
}

func TestPostPaymentReceived_AllocatesAcrossAccounts(t *testing.T) {
	svc, repo := newTestService()
	loanID := uuid.New()

	allocations := map[ledger.Account]money.Minor{
		ledger.AccountFeesReceivable:     1000,
		ledger.AccountInterestReceivable: 4000,
		ledger.AccountLoanPrincipal:      20000,
	}
	_, err := svc.PostPaymentReceived(context.Background(), loanID, time.Now(), "payment:loan:1:gw:tx1", "USD", allocations, 25000)
	require.NoError(t, err)

	balances, err := repo.LatestBalances(context.Background(), nil, loanID)
	require.NoError(t, err)
	assert.Equal(t, money.Minor(25000), balances[ledger.AccountCash])
	assert.Equal(t, money.Minor(-1000), balances[ledger.AccountFeesReceivable])
	assert.Equal(t, money.Minor(-20000), balances[ledger.AccountLoanPrincipal])
}

func TestPostEscrowPayment_Shortfall(t *testing.T) {
	svc, repo := newTestService()
	loanID := uuid.New()

	eventID, err := svc.PostEscrowPayment(context.Background(), loanID, time.Now(), "escrow:1", "USD", 1000, 400)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, eventID)

	balances, err := repo.LatestBalances(context.Background(), nil, loanID)
	require.NoError(t, err)
	assert.Equal(t, money.Minor(600), balances[ledger.AccountEscrowAdvances])
	assert.Equal(t, money.Minor(400), balances[ledger.AccountEscrowLiability])
	assert.Equal(t, money.Minor(-1000), balances[ledger.AccountCash])
}

func TestReverseEvent_ProducesBalancedSibling(t *testing.T) {
	svc, _ := newTestService()
	loanID := uuid.New()

	debit, _ := ledger.DebitLine(ledger.AccountFeesReceivable, 2500, "fee")
	credit, _ := ledger.CreditLine(ledger.AccountFeeIncome, 2500, "fee")
	_, err := svc.PostEvent(context.Background(), loanID, time.Now(), "corr-rev", "posting.fee.v1", "USD", []ledger.Line{debit, credit})
	require.NoError(t, err)

	reversalID, err := svc.ReverseEvent(context.Background(), nil, "corr-rev", time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, reversalID)
}
