package sqlite

import (
	"context"

	gateway "github.com/keystonegw/gateway/internal"
)

// GetPrice retrieves the price record for a model.
func (s *Store) GetPrice(ctx context.Context, model string) (*gateway.ModelPrice, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT model_name, provider, input_rate, output_rate, cache_read_rate, cache_write_rate
		 FROM prices WHERE model_name = ?`, model,
	)
	return scanPrice(row)
}

// UpsertPrice inserts or replaces a price record. Posting the same
// model_name twice leaves exactly one row, carrying the second payload.
func (s *Store) UpsertPrice(ctx context.Context, p *gateway.ModelPrice) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO prices (model_name, provider, input_rate, output_rate, cache_read_rate, cache_write_rate)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_name) DO UPDATE SET
		   provider=excluded.provider,
		   input_rate=excluded.input_rate,
		   output_rate=excluded.output_rate,
		   cache_read_rate=excluded.cache_read_rate,
		   cache_write_rate=excluded.cache_write_rate`,
		p.ModelName, p.Provider, p.InputRate, p.OutputRate, p.CacheReadRate, p.CacheWriteRate,
	)
	return err
}

// ListPrices returns every price record, ordered by model name.
func (s *Store) ListPrices(ctx context.Context) ([]*gateway.ModelPrice, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT model_name, provider, input_rate, output_rate, cache_read_rate, cache_write_rate
		 FROM prices ORDER BY model_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []*gateway.ModelPrice
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// DeletePrice removes a price record.
func (s *Store) DeletePrice(ctx context.Context, model string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM prices WHERE model_name = ?`, model)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "price")
}

func scanPrice(s scanner) (*gateway.ModelPrice, error) {
	var p gateway.ModelPrice
	err := s.Scan(&p.ModelName, &p.Provider, &p.InputRate, &p.OutputRate, &p.CacheReadRate, &p.CacheWriteRate)
	if err != nil {
		return nil, notFoundErr(err)
	}
	return &p, nil
}
