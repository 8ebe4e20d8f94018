package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/order-fulfillment-saga/internal/apperrors"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
)

type ProductStore struct{ DB *pgxpool.Pool }

func (s *ProductStore) Get(ctx context.Context, productID string) (domain.Product, error) {
	var p domain.Product
	row := s.DB.QueryRow(ctx, `
		SELECT id, name, description, price_cents, category, image_url, active
		FROM products WHERE id = $1`, productID)
	if err := row.Scan(&p.ProductID, &p.Name, &p.Description, &p.Price, &p.Category, &p.ImageURL, &p.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, apperrors.New(apperrors.KindNotFound, "product not found")
		}
		return domain.Product{}, err
	}
	return p, nil
}

// GetMany loads multiple products by id, used to price order items at
// creation time and reject inactive products.
func (s *ProductStore) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if len(productIDs) == 0 {
		return map[string]domain.Product{}, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, description, price_cents, category, image_url, active
		FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Description, &p.Price, &p.Category, &p.ImageURL, &p.Active); err != nil {
			return nil, err
		}
		out[p.ProductID] = p
	}
	return out, rows.Err()
}
