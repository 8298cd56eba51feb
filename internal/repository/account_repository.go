package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// AccountRepository provides data access methods for the broker_account table.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new AccountRepository with the provided database connection.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, broker, broker_account_id, display_name, base_currency, created_at`

// Register inserts the account if it is unknown, or updates its display
// name and base currency. It returns the stored row.
func (r *AccountRepository) Register(ctx context.Context, acct model.BrokerAccount) (model.BrokerAccount, error) {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO broker_account (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (broker, broker_account_id) DO UPDATE SET
			display_name = excluded.display_name,
			base_currency = excluded.base_currency
	`
	_, err := r.db.ExecContext(ctx, query,
		acct.ID, acct.Broker, acct.BrokerAccountID, acct.DisplayName, acct.BaseCurrency, FormatTime(acct.CreatedAt))
	if err != nil {
		return model.BrokerAccount{}, fmt.Errorf("failed to register broker account: %w", err)
	}
	return r.GetByBrokerAccount(ctx, acct.Broker, acct.BrokerAccountID)
}

// GetByBrokerAccount retrieves an account by its natural key.
func (r *AccountRepository) GetByBrokerAccount(ctx context.Context, broker, brokerAccountID string) (model.BrokerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM broker_account WHERE broker = ? AND broker_account_id = ?`
	return scanAccount(r.db.QueryRowContext(ctx, query, broker, brokerAccountID))
}

// GetByID retrieves an account by its surrogate id.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (model.BrokerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM broker_account WHERE id = ?`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// List returns every registered account ordered by broker and account id.
func (r *AccountRepository) List(ctx context.Context) ([]model.BrokerAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM broker_account ORDER BY broker, broker_account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query broker accounts: %w", err)
	}
	defer rows.Close()

	accounts := []model.BrokerAccount{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating broker account rows: %w", err)
	}
	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.BrokerAccount, error) {
	var acct model.BrokerAccount
	var createdAt string
	err := row.Scan(&acct.ID, &acct.Broker, &acct.BrokerAccountID, &acct.DisplayName, &acct.BaseCurrency, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BrokerAccount{}, apperrors.ErrBrokerAccountNotFound
	}
	if err != nil {
		return model.BrokerAccount{}, fmt.Errorf("failed to scan broker account: %w", err)
	}
	acct.CreatedAt, err = ParseTime(createdAt)
	if err != nil {
		return model.BrokerAccount{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return acct, nil
}
