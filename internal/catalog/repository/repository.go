package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront_backend/internal/catalog"
	"storefront_backend/platform/apperr"
)

const productNotFoundMessage = "product not found"

// Repository reads the tenant catalog.
type Repository interface {
	ListAvailable(ctx context.Context, agentID uuid.UUID) ([]catalog.Product, error)
	GetByID(ctx context.Context, agentID, productID uuid.UUID) (catalog.Product, error)
}

// Repo implements the catalog repository.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new catalog repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

const productColumns = `id, agent_id, name, description, ai_notes, price, product_type,
	COALESCE(stock, -1), COALESCE(image_url, ''), variants`

// ListAvailable returns the agent's available products in a stable order.
func (r *Repo) ListAvailable(ctx context.Context, agentID uuid.UUID) ([]catalog.Product, error) {
	query := `SELECT ` + productColumns + `
		FROM products
		WHERE agent_id = $1 AND is_available
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// GetByID returns a single product owned by the agent.
func (r *Repo) GetByID(ctx context.Context, agentID, productID uuid.UUID) (catalog.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 AND agent_id = $2`

	p, err := scanProduct(r.pool.QueryRow(ctx, query, productID, agentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Product{}, apperr.NotFound(productNotFoundMessage)
		}
		return catalog.Product{}, err
	}
	return p, nil
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	var productType string
	var variants []byte
	if err := row.Scan(
		&p.ID, &p.AgentID, &p.Name, &p.Description, &p.AINotes, &p.Price, &productType,
		&p.Stock, &p.ImageURL, &variants,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Product{}, err
		}
		return catalog.Product{}, fmt.Errorf("scan product: %w", err)
	}
	p.Type = catalog.ProductType(productType)

	groups, err := catalog.DecodeVariants(variants)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("decode variants of %s: %w", p.ID, err)
	}
	p.Variants = groups
	return p, nil
}
