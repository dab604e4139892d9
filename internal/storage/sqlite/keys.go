package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	gateway "github.com/keystonegw/gateway/internal"
)

// GetKeyByHash retrieves a key by its SHA-256 hash.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT key_hash, key_prefix, user_id, name, is_active, allowed_models, created_at
		 FROM keys WHERE key_hash = ?`, hash,
	)
	return scanKey(row)
}

// CreateKey inserts a new key.
func (s *Store) CreateKey(ctx context.Context, k *gateway.APIKey) error {
	models, err := marshalModels(k.AllowedModels)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO keys (key_hash, key_prefix, user_id, name, is_active, allowed_models, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.KeyHash, k.KeyPrefix, k.UserID, k.Name, boolToInt(k.IsActive), models,
		k.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListKeysByUser returns every key belonging to a user.
func (s *Store) ListKeysByUser(ctx context.Context, userID string) ([]*gateway.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT key_hash, key_prefix, user_id, name, is_active, allowed_models, created_at
		 FROM keys WHERE user_id = ? ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKeyByHash loads the key, applies mutate, and persists the result.
func (s *Store) UpdateKeyByHash(ctx context.Context, hash string, mutate func(*gateway.APIKey)) error {
	k, err := s.GetKeyByHash(ctx, hash)
	if err != nil {
		return err
	}
	mutate(k)
	models, err := marshalModels(k.AllowedModels)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE keys SET name=?, is_active=?, allowed_models=? WHERE key_hash=?`,
		k.Name, boolToInt(k.IsActive), models, hash,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "key")
}

func scanKey(s scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var active int
	var modelsJSON sql.NullString
	var createdAt string

	err := s.Scan(&k.KeyHash, &k.KeyPrefix, &k.UserID, &k.Name, &active, &modelsJSON, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	k.IsActive = active != 0
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if modelsJSON.Valid && modelsJSON.String != "" {
		if err := json.Unmarshal([]byte(modelsJSON.String), &k.AllowedModels); err != nil {
			return nil, err
		}
	}
	return &k, nil
}

func marshalModels(models []string) (*string, error) {
	if len(models) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(models)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
