package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads product master data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, company_id, sku, name, cost_price, selling_units, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var unitsJSON []byte
	err := row.Scan(&p.ID, &p.CompanyID, &p.SKU, &p.Name, &p.CostPrice, &unitsJSON, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	if err := json.Unmarshal(unitsJSON, &p.SellingUnits); err != nil {
		return Product{}, fmt.Errorf("catalog: decode selling units for product %d: %w", p.ID, err)
	}
	return p, nil
}

// GetProduct fetches one product scoped by company.
func (r *Repository) GetProduct(ctx context.Context, companyID, productID int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE company_id=$1 AND id=$2`, companyID, productID)
	return scanProduct(row)
}

// GetProducts fetches a batch of products in one query, keyed by id.
func (r *Repository) GetProducts(ctx context.Context, companyID int64, ids []int64) (map[int64]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE company_id=$1 AND id = ANY($2)`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
	}
	return out, nil
}
