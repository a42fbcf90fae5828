package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/marketplace/internal/domain"
	"github.com/utafrali/marketplace/pkg/database"
)

const purchaseColumns = `id, transaction_id, store_id, user_id, items, subtotal, discounts, total, purchased_at`

// PurchaseRepository implements repository.PurchaseRepository using PostgreSQL.
type PurchaseRepository struct {
	db database.DBTX
}

// NewPurchaseRepository creates a new PostgreSQL-backed purchase archive.
func NewPurchaseRepository(db database.DBTX) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Save inserts every record of one transaction inside a single database
// transaction.
func (r *PurchaseRepository) Save(ctx context.Context, records []domain.PurchaseRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	ctx, end := database.TraceQuery(ctx, "SavePurchases", "INSERT INTO purchases")
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin purchase tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO purchases (` + purchaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, rec := range records {
		itemsJSON, err := json.Marshal(rec.Items)
		if err != nil {
			return fmt.Errorf("marshal purchase items: %w", err)
		}
		discounts := rec.Discounts
		if discounts == nil {
			discounts = []domain.AppliedDiscount{}
		}
		discountsJSON, err := json.Marshal(discounts)
		if err != nil {
			return fmt.Errorf("marshal purchase discounts: %w", err)
		}

		if _, err := tx.Exec(ctx, query,
			rec.ID,
			rec.TransactionID,
			rec.StoreID,
			rec.UserID,
			itemsJSON,
			rec.Subtotal,
			discountsJSON,
			rec.Total,
			rec.PurchasedAt,
		); err != nil {
			return fmt.Errorf("insert purchase %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purchase tx: %w", err)
	}
	return nil
}

// ListByUser returns a user's purchases, newest first.
func (r *PurchaseRepository) ListByUser(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = $1 ORDER BY purchased_at DESC, id`
	return r.list(ctx, "ListPurchasesByUser", query, userID)
}

// ListByStore returns a store's purchases, newest first.
func (r *PurchaseRepository) ListByStore(ctx context.Context, storeID string) ([]domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE store_id = $1 ORDER BY purchased_at DESC, id`
	return r.list(ctx, "ListPurchasesByStore", query, storeID)
}

func (r *PurchaseRepository) list(ctx context.Context, operation, query, arg string) (_ []domain.PurchaseRecord, err error) {
	ctx, end := database.TraceQuery(ctx, operation, query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PurchaseRecord, 0)
	for rows.Next() {
		rec, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase rows: %w", err)
	}
	return out, nil
}

func scanPurchase(rows pgx.Rows) (*domain.PurchaseRecord, error) {
	var (
		rec           domain.PurchaseRecord
		itemsJSON     []byte
		discountsJSON []byte
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.StoreID,
		&rec.UserID,
		&itemsJSON,
		&rec.Subtotal,
		&discountsJSON,
		&rec.Total,
		&rec.PurchasedAt,
	); err != nil {
		return nil, fmt.Errorf("scan purchase row: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &rec.Items); err != nil {
		return nil, fmt.Errorf("unmarshal purchase items: %w", err)
	}
	if len(discountsJSON) > 0 {
		if err := json.Unmarshal(discountsJSON, &rec.Discounts); err != nil {
			return nil, fmt.Errorf("unmarshal purchase discounts: %w", err)
		}
	}
	return &rec, nil
}
