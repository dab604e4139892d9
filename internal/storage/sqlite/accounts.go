package sqlite

import (
	"context"
	"time"

	gateway "github.com/keystonegw/gateway/internal"
)

// GetAccount retrieves an account by user_id.
func (s *Store) GetAccount(ctx context.Context, userID string) (*gateway.Account, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT user_id, display_name, budget_usd, spent_usd, budget_period, is_active, created_at, updated_at
		 FROM accounts WHERE user_id = ?`, userID,
	)
	return scanAccount(row)
}

// DebitAccount atomically increments spent_usd, conditioned on is_active.
// This is the one required atomic conditional increment (C2/C8): never a
// read-modify-write, so concurrent debits for the same account commute
// without locking.
func (s *Store) DebitAccount(ctx context.Context, userID string, delta float64) (bool, error) {
	result, err := s.write.ExecContext(ctx,
		`UPDATE accounts SET spent_usd = spent_usd + ?, updated_at = ?
		 WHERE user_id = ? AND is_active = 1`,
		delta, time.Now().UTC().Format(time.RFC3339), userID,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, a *gateway.Account) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO accounts (user_id, display_name, budget_usd, spent_usd, budget_period, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.DisplayName, a.BudgetUSD, a.SpentUSD, string(a.BudgetPeriod), boolToInt(a.IsActive), now, now,
	)
	return err
}

// ListAccounts returns a page of accounts ordered by user_id, plus the total count.
func (s *Store) ListAccounts(ctx context.Context, offset, limit int) ([]*gateway.Account, int, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT user_id, display_name, budget_usd, spent_usd, budget_period, is_active, created_at, updated_at
		 FROM accounts ORDER BY user_id LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var accounts []*gateway.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

// UpdateAccount applies a full-record update (admin PATCH merges onto the
// current record before calling this).
func (s *Store) UpdateAccount(ctx context.Context, a *gateway.Account) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE accounts SET display_name=?, budget_usd=?, budget_period=?, is_active=?, updated_at=?
		 WHERE user_id=?`,
		a.DisplayName, a.BudgetUSD, string(a.BudgetPeriod), boolToInt(a.IsActive),
		time.Now().UTC().Format(time.RFC3339), a.UserID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "account")
}

func scanAccount(s scanner) (*gateway.Account, error) {
	var a gateway.Account
	var period string
	var active int
	var createdAt, updatedAt string

	err := s.Scan(&a.UserID, &a.DisplayName, &a.BudgetUSD, &a.SpentUSD, &period, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	a.BudgetPeriod = gateway.BudgetPeriod(period)
	a.IsActive = active != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
