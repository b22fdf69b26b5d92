package wallet

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// fakeArchiver is an in-memory stand-in for the MongoDB-backed archive,
// used so ledger tests can drive the SQL path with sqlmock without a
// live MongoDB connection.
type fakeArchiver struct {
	archives map[string][]models.Transaction
}

func newFakeArchiver() *fakeArchiver {
	return &fakeArchiver{archives: map[string][]models.Transaction{}}
}

func (f *fakeArchiver) createArchive(ctx context.Context, archivalID, userID string) error {
	f.archives[archivalID] = nil
	return nil
}

func (f *fakeArchiver) append(ctx context.Context, archivalID string, entry models.Transaction) error {
	f.archives[archivalID] = append(f.archives[archivalID], entry)
	return nil
}

func (f *fakeArchiver) transactions(ctx context.Context, archivalID string) ([]models.Transaction, error) {
	return f.archives[archivalID], nil
}

func newTestLedger(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock, *fakeArchiver) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	archive := newFakeArchiver()
	return &PostgresLedger{db: db, archive: archive}, mock, archive
}

func TestCreateSeedsInitialBalanceTransaction(t *testing.T) {
	ledger, mock, archive := newTestLedger(t)

	mock.ExpectExec("INSERT INTO user_wallets").
		WillReturnResult(sqlmock.NewResult(1, 1))

	wallet, err := ledger.Create(context.Background(), "user-1", decimal.NewFromInt(10), "USD", false, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !wallet.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected balance 10, got %s", wallet.Balance)
	}

	txs := archive.archives[wallet.ArchivalID]
	if len(txs) != 1 {
		t.Fatalf("expected 1 seeded transaction, got %d", len(txs))
	}
	if txs[0].Type != models.TransactionCredit {
		t.Fatalf("expected credit, got %s", txs[0].Type)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDebitRejectsWhenBalanceInsufficientAndNotAllowNegative(t *testing.T) {
	ledger, mock, archive := newTestLedger(t)

	archivalID := "arch-1"
	archive.archives[archivalID] = nil

	rows := sqlmock.NewRows([]string{"user_id", "balance", "currency", "auto_recharge", "allow_negative", "last_deducted_at", "archival_id"}).
		AddRow("user-1", "0", "USD", false, false, nil, archivalID)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, balance, currency, auto_recharge, allow_negative, last_deducted_at, archival_id\\s+FROM user_wallets WHERE user_id = \\$1 FOR UPDATE").
		WithArgs("user-1").
		WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := ledger.Debit(context.Background(), "user-1", decimal.NewFromInt(5), "test charge", "")
	if err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if len(archive.archives[archivalID]) != 0 {
		t.Fatalf("expected no archive entries on rejected debit")
	}
}

func TestDebitSucceedsAndAppendsNegativeAmount(t *testing.T) {
	ledger, mock, archive := newTestLedger(t)

	archivalID := "arch-2"
	archive.archives[archivalID] = nil

	rows := sqlmock.NewRows([]string{"user_id", "balance", "currency", "auto_recharge", "allow_negative", "last_deducted_at", "archival_id"}).
		AddRow("user-1", "10", "USD", false, false, nil, archivalID)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, balance, currency, auto_recharge, allow_negative, last_deducted_at, archival_id\\s+FROM user_wallets WHERE user_id = \\$1 FOR UPDATE").
		WithArgs("user-1").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE user_wallets SET balance = \\$1, last_deducted_at = \\$2 WHERE user_id = \\$3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	wallet, err := ledger.Debit(context.Background(), "user-1", decimal.NewFromInt(4), "Billing cycle: bill-1", "2026-01-01_v1")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if !wallet.Balance.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected balance 6, got %s", wallet.Balance)
	}
	if wallet.LastDeductedAt == nil {
		t.Fatal("expected last_deducted_at to be set")
	}

	txs := archive.archives[archivalID]
	if len(txs) != 1 {
		t.Fatalf("expected 1 archive entry, got %d", len(txs))
	}
	if !txs[0].Amount.Equal(decimal.NewFromInt(-4)) {
		t.Fatalf("expected signed amount -4, got %s", txs[0].Amount)
	}
	if !txs[0].BalanceAfter.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected balance_after 6, got %s", txs[0].BalanceAfter)
	}
	if txs[0].PriceVersion != "2026-01-01_v1" {
		t.Fatalf("expected price version stamped, got %q", txs[0].PriceVersion)
	}
}

func TestCreditThenDebitReturnsBalanceToPriorValue(t *testing.T) {
	ledger, mock, archive := newTestLedger(t)
	archivalID := "arch-3"
	archive.archives[archivalID] = nil

	rowsFor := func(balance string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"user_id", "balance", "currency", "auto_recharge", "allow_negative", "last_deducted_at", "archival_id"}).
			AddRow("user-1", balance, "USD", false, true, nil, archivalID)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("user-1").WillReturnRows(rowsFor("5"))
	mock.ExpectExec("UPDATE user_wallets SET balance = \\$1 WHERE user_id = \\$2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := ledger.Credit(context.Background(), "user-1", decimal.NewFromInt(3), "top-up"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("user-1").WillReturnRows(rowsFor("8"))
	mock.ExpectExec("UPDATE user_wallets SET balance = \\$1, last_deducted_at = \\$2 WHERE user_id = \\$3").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	wallet, err := ledger.Debit(context.Background(), "user-1", decimal.NewFromInt(3), "refund reversal", "")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if !wallet.Balance.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected balance back to 5, got %s", wallet.Balance)
	}

	txs := archive.archives[archivalID]
	if len(txs) != 2 {
		t.Fatalf("expected 2 archive entries, got %d", len(txs))
	}
	sum := txs[0].Amount.Add(txs[1].Amount)
	if !sum.IsZero() {
		t.Fatalf("expected entries to sum to zero, got %s", sum)
	}
}
