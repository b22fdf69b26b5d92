// Package wallet is the balance-holding ledger for every user: a
// relational balance row paired with an append-only, document-stored
// transaction archive. Every mutation is a single read-modify-write
// transaction against the row plus an idempotent archive append.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// ErrNotFound is returned when no wallet exists for a user_id.
var ErrNotFound = errors.New("wallet not found")

// ErrConflict is returned by Create when a wallet already exists.
var ErrConflict = errors.New("wallet already exists")

// ErrInsufficientBalance is returned by Debit when allow_negative is
// false and the balance cannot cover the requested amount.
var ErrInsufficientBalance = errors.New("insufficient balance")

const archiveCollection = "transaction_archives"

// Ledger is the Wallet Ledger contract: create, get, credit, debit, history.
type Ledger interface {
	Create(ctx context.Context, userID string, initialBalance decimal.Decimal, currency string, autoRecharge, allowNegative bool) (*models.Wallet, error)
	Get(ctx context.Context, userID string) (*models.Wallet, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, reason string) (*models.Wallet, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, reason, priceVersion string) (*models.Wallet, error)
	History(ctx context.Context, userID string) ([]models.Transaction, error)
}

// archiver is the narrow seam onto the transaction archive, kept
// separate from the concrete mongo.Collection so unit tests can
// substitute an in-memory fake while sqlmock drives the SQL side.
type archiver interface {
	createArchive(ctx context.Context, archivalID, userID string) error
	append(ctx context.Context, archivalID string, entry models.Transaction) error
	transactions(ctx context.Context, archivalID string) ([]models.Transaction, error)
}

// mongoArchiver is the production archiver backed by MongoDB.
type mongoArchiver struct {
	collection *mongo.Collection
}

func (a *mongoArchiver) createArchive(ctx context.Context, archivalID, userID string) error {
	_, err := a.collection.InsertOne(ctx, models.TransactionArchive{ArchivalID: archivalID, UserID: userID})
	return err
}

func (a *mongoArchiver) append(ctx context.Context, archivalID string, entry models.Transaction) error {
	_, err := a.collection.UpdateOne(ctx,
		bson.M{"_id": archivalID},
		bson.M{"$addToSet": bson.M{"transactions": entry}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (a *mongoArchiver) transactions(ctx context.Context, archivalID string) ([]models.Transaction, error) {
	var archive models.TransactionArchive
	err := a.collection.FindOne(ctx, bson.M{"_id": archivalID}).Decode(&archive)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return archive.Transactions, nil
}

// PostgresLedger is the production Ledger: the wallet row lives in
// PostgreSQL's user_wallets table, the transaction history lives in
// MongoDB's transaction_archives collection keyed by archival_id.
type PostgresLedger struct {
	db      *sql.DB
	archive archiver
}

// NewPostgresLedger wraps already-connected database handles.
func NewPostgresLedger(db *sql.DB, mongoDB *mongo.Database) *PostgresLedger {
	return &PostgresLedger{db: db, archive: &mongoArchiver{collection: mongoDB.Collection(archiveCollection)}}
}

// Create inserts a new wallet row and, if initialBalance > 0, an
// initial credit transaction in the archive. Returns ErrConflict if
// the user already has a wallet.
func (l *PostgresLedger) Create(ctx context.Context, userID string, initialBalance decimal.Decimal, currency string, autoRecharge, allowNegative bool) (*models.Wallet, error) {
	if currency == "" {
		currency = "USD"
	}
	archivalID := uuid.NewString()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO user_wallets (user_id, balance, currency, auto_recharge, allow_negative, archival_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, initialBalance, currency, autoRecharge, allowNegative, archivalID)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	if err := l.archive.createArchive(ctx, archivalID, userID); err != nil {
		return nil, fmt.Errorf("create transaction archive: %w", err)
	}

	wallet := &models.Wallet{
		UserID:        userID,
		Balance:       initialBalance,
		Currency:      currency,
		AutoRecharge:  autoRecharge,
		AllowNegative: allowNegative,
		ArchivalID:    archivalID,
	}

	if initialBalance.GreaterThan(decimal.Zero) {
		err := l.archive.append(ctx, archivalID, models.Transaction{
			TxID:         uuid.NewString(),
			Time:         time.Now().UTC(),
			Amount:       initialBalance,
			BalanceAfter: initialBalance,
			Type:         models.TransactionCredit,
			Reason:       "Initial balance",
		})
		if err != nil {
			return nil, fmt.Errorf("archive initial balance: %w", err)
		}
	}

	return wallet, nil
}

// Get fetches a wallet by user_id.
func (l *PostgresLedger) Get(ctx context.Context, userID string) (*models.Wallet, error) {
	return l.scanWallet(ctx, l.db.QueryRowContext(ctx, `
		SELECT user_id, balance, currency, auto_recharge, allow_negative, last_deducted_at, archival_id
		FROM user_wallets WHERE user_id = $1`, userID))
}

// Credit increases the balance by amount, which must be strictly
// positive — the caller enforces this, mirroring the debit contract's
// symmetry.
func (l *PostgresLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, reason string) (*models.Wallet, error) {
	return l.mutate(ctx, userID, amount, models.TransactionCredit, reason, "")
}

// Debit decreases the balance by amount. If allow_negative is false
// and the balance cannot cover amount, returns ErrInsufficientBalance
// without mutating any state.
func (l *PostgresLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, reason, priceVersion string) (*models.Wallet, error) {
	return l.mutate(ctx, userID, amount.Neg(), models.TransactionDebit, reason, priceVersion)
}

// mutate performs the read-modify-write against the wallet row and
// the archive append inside a single SQL transaction: if the archive
// append fails, the row update is rolled back with it.
func (l *PostgresLedger) mutate(ctx context.Context, userID string, signedAmount decimal.Decimal, txType models.TransactionType, reason, priceVersion string) (*models.Wallet, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin wallet transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := l.scanWallet(ctx, tx.QueryRowContext(ctx, `
		SELECT user_id, balance, currency, auto_recharge, allow_negative, last_deducted_at, archival_id
		FROM user_wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, err
	}

	if txType == models.TransactionDebit {
		amount := signedAmount.Neg()
		if !current.AllowNegative && current.Balance.LessThan(amount) {
			return nil, ErrInsufficientBalance
		}
	}

	newBalance := current.Balance.Add(signedAmount)
	now := time.Now().UTC()

	if txType == models.TransactionDebit {
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_wallets SET balance = $1, last_deducted_at = $2 WHERE user_id = $3`,
			newBalance, now, userID); err != nil {
			return nil, fmt.Errorf("update wallet balance: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_wallets SET balance = $1 WHERE user_id = $2`,
			newBalance, userID); err != nil {
			return nil, fmt.Errorf("update wallet balance: %w", err)
		}
	}

	entry := models.Transaction{
		TxID:         uuid.NewString(),
		Time:         now,
		Amount:       signedAmount,
		BalanceAfter: newBalance,
		Type:         txType,
		Reason:       reason,
		PriceVersion: priceVersion,
	}
	if err := l.archive.append(ctx, current.ArchivalID, entry); err != nil {
		return nil, fmt.Errorf("append transaction archive: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit wallet transaction: %w", err)
	}

	current.Balance = newBalance
	if txType == models.TransactionDebit {
		current.LastDeductedAt = &now
	}
	return current, nil
}

// History returns the ordered transaction log for a user's wallet.
func (l *PostgresLedger) History(ctx context.Context, userID string) ([]models.Transaction, error) {
	wallet, err := l.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	txs, err := l.archive.transactions(ctx, wallet.ArchivalID)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction archive: %w", err)
	}
	return txs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (l *PostgresLedger) scanWallet(ctx context.Context, row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	var lastDeducted sql.NullTime
	err := row.Scan(&w.UserID, &w.Balance, &w.Currency, &w.AutoRecharge, &w.AllowNegative, &lastDeducted, &w.ArchivalID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet row: %w", err)
	}
	if lastDeducted.Valid {
		w.LastDeductedAt = &lastDeducted.Time
	}
	return &w, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return contains(err.Error(), "unique") || contains(err.Error(), "duplicate")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
