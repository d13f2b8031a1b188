package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront_backend/internal/orders"
	"storefront_backend/platform/apperr"
)

const orderNotFoundMessage = "order not found"

// Repo persists orders and bookings.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new orders repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// CreateOrder writes the order, its items and the stock decrements in one
// transaction. A *orders.StockError aborts the whole write.
func (r *Repo) CreateOrder(ctx context.Context, order orders.Order) (orders.Order, []orders.DepletedProduct, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return orders.Order{}, nil, fmt.Errorf("begin order tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (agent_id, conversation_id, customer_name, customer_phone, delivery_address,
			email, payment_method, status, total, notes)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, NULLIF($10, ''))
		RETURNING id, created_at`,
		order.AgentID, order.ConversationID, order.CustomerName, order.CustomerPhone, order.DeliveryAddress,
		order.Email, string(order.PaymentMethod), string(order.Status), order.Total, order.Notes,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return orders.Order{}, nil, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range order.Items {
		batch.Queue(`INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			order.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return orders.Order{}, nil, fmt.Errorf("insert order items: %w", err)
	}

	depleted, err := decrementStock(ctx, tx, order.AgentID, order.Items)
	if err != nil {
		return orders.Order{}, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return orders.Order{}, nil, fmt.Errorf("commit order: %w", err)
	}
	return order, depleted, nil
}

// decrementStock takes units from finite-stock products, summing lines that
// share a product. Unlimited products (NULL or negative stock) are skipped.
func decrementStock(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, items []orders.Item) ([]orders.DepletedProduct, error) {
	type want struct {
		name     string
		quantity int
	}
	var order []uuid.UUID
	wanted := make(map[uuid.UUID]*want)
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			continue
		}
		if w, ok := wanted[item.ProductID]; ok {
			w.quantity += item.Quantity
			continue
		}
		wanted[item.ProductID] = &want{name: item.ProductName, quantity: item.Quantity}
		order = append(order, item.ProductID)
	}

	var depleted []orders.DepletedProduct
	for _, productID := range order {
		w := wanted[productID]
		var remaining int
		var name string
		err := tx.QueryRow(ctx, `
			UPDATE products SET stock = stock - $3, updated_at = now()
			WHERE id = $1 AND agent_id = $2 AND stock IS NOT NULL AND stock >= 0
			RETURNING stock, name`,
			productID, agentID, w.quantity,
		).Scan(&remaining, &name)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}
		if remaining < 0 {
			return nil, &orders.StockError{ProductID: productID, ProductName: name, Remaining: remaining + w.quantity}
		}
		if remaining == 0 {
			depleted = append(depleted, orders.DepletedProduct{ProductID: productID, ProductName: name})
		}
	}
	return depleted, nil
}

// CreateBooking persists a booking.
func (r *Repo) CreateBooking(ctx context.Context, b orders.Booking) (orders.Booking, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (agent_id, conversation_id, product_id, service_name, customer_name, customer_phone,
			start_time, end_date, booking_type, party_size, location, variant_label, price, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13, $14, NULLIF($15, ''))
		RETURNING id, created_at`,
		b.AgentID, b.ConversationID, b.ProductID, b.ServiceName, b.CustomerName, b.CustomerPhone,
		b.StartTime, b.EndDate, string(b.Type), b.PartySize, b.Location, b.VariantLabel, b.Price,
		string(b.Status), b.Notes,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return orders.Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

const orderColumns = `id, agent_id, conversation_id, customer_name, customer_phone,
	COALESCE(delivery_address, ''), COALESCE(email, ''), payment_method, COALESCE(payment_url, ''),
	status, total, COALESCE(notes, ''), created_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	var method, status string
	err := row.Scan(&o.ID, &o.AgentID, &o.ConversationID, &o.CustomerName, &o.CustomerPhone,
		&o.DeliveryAddress, &o.Email, &method, &o.PaymentURL, &status, &o.Total, &o.Notes, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Order{}, apperr.NotFound(orderNotFoundMessage)
		}
		return orders.Order{}, fmt.Errorf("scan order: %w", err)
	}
	o.PaymentMethod = orders.PaymentMethod(method)
	o.Status = orders.Status(status)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]orders.Order, error) {
	defer rows.Close()
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

// GetOrder returns an order of the agent with its items.
func (r *Repo) GetOrder(ctx context.Context, agentID, orderID uuid.UUID) (orders.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND agent_id = $2`, orderID, agentID))
	if err != nil {
		return orders.Order{}, err
	}
	return r.withItems(ctx, o)
}

// GetOrderByID returns an order regardless of tenant, for gateway callbacks.
func (r *Repo) GetOrderByID(ctx context.Context, orderID uuid.UUID) (orders.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return orders.Order{}, err
	}
	return r.withItems(ctx, o)
}

// FindOrderByRef resolves either a full order id or the 8-character short
// reference shown to customers. An ambiguous prefix is reported as not found.
func (r *Repo) FindOrderByRef(ctx context.Context, agentID uuid.UUID, ref string) (orders.Order, error) {
	ref = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ref), "#"))
	if id, err := uuid.Parse(ref); err == nil {
		return r.GetOrder(ctx, agentID, id)
	}
	if len(ref) < 6 || strings.Trim(ref, "0123456789abcdef-") != "" {
		return orders.Order{}, apperr.NotFound(orderNotFoundMessage)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+`
		FROM orders WHERE agent_id = $1 AND id::text LIKE $2 || '%'
		ORDER BY created_at DESC LIMIT 2`, agentID, ref)
	if err != nil {
		return orders.Order{}, fmt.Errorf("find order by ref: %w", err)
	}
	found, err := collectOrders(rows)
	if err != nil {
		return orders.Order{}, err
	}
	if len(found) != 1 {
		return orders.Order{}, apperr.NotFound(orderNotFoundMessage)
	}
	return r.withItems(ctx, found[0])
}

func (r *Repo) withItems(ctx context.Context, o orders.Order) (orders.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(product_id, '00000000-0000-0000-0000-000000000000'::uuid), product_name, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return orders.Order{}, fmt.Errorf("list order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Item, error) {
		var item orders.Item
		err := row.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice)
		return item, err
	})
	if err != nil {
		return orders.Order{}, fmt.Errorf("scan order items: %w", err)
	}
	o.Items = items
	return o, nil
}

// ListRecentByPhone returns the newest orders for a contact, items included.
func (r *Repo) ListRecentByPhone(ctx context.Context, agentID uuid.UUID, phone string, limit int) ([]orders.Order, error) {
	if limit < 1 {
		limit = 3
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+`
		FROM orders WHERE agent_id = $1 AND customer_phone = $2
		ORDER BY created_at DESC LIMIT $3`, agentID, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders by phone: %w", err)
	}
	found, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if found[i], err = r.withItems(ctx, found[i]); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// MarkPaid moves a pending order to paid. It reports false when the order
// was not pending (already paid, cancelled...).
func (r *Repo) MarkPaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = 'paid', updated_at = now()
		WHERE id = $1 AND status = 'pending'`, orderID)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetPaymentURL stores the gateway checkout link.
func (r *Repo) SetPaymentURL(ctx context.Context, orderID uuid.UUID, url string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE orders SET payment_url = $2, updated_at = now() WHERE id = $1`, orderID, url); err != nil {
		return fmt.Errorf("set payment url: %w", err)
	}
	return nil
}

// ListReminderDue returns unpaid online orders older than age that have a
// payment link and were never reminded.
func (r *Repo) ListReminderDue(ctx context.Context, age, cancelAfter time.Duration) ([]orders.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending' AND payment_method = 'online'
			AND payment_url IS NOT NULL AND reminder_sent_at IS NULL
			AND created_at < now() - $1::interval
			AND created_at >= now() - $2::interval
		ORDER BY created_at
		LIMIT 100`, age, cancelAfter)
	if err != nil {
		return nil, fmt.Errorf("list reminder due: %w", err)
	}
	return collectOrders(rows)
}

// MarkReminderSent flags the order so it is reminded once.
func (r *Repo) MarkReminderSent(ctx context.Context, orderID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `UPDATE orders SET reminder_sent_at = now() WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// CancelExpired cancels unpaid online orders older than age and returns them.
func (r *Repo) CancelExpired(ctx context.Context, age time.Duration) ([]orders.Order, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = now()
		WHERE status = 'pending' AND payment_method = 'online'
			AND created_at < now() - $1::interval
		RETURNING `+orderColumns, age)
	if err != nil {
		return nil, fmt.Errorf("cancel expired orders: %w", err)
	}
	return collectOrders(rows)
}

// ListFeedbackDue returns delivered orders whose delivery age is within [minAge, maxAge].
func (r *Repo) ListFeedbackDue(ctx context.Context, minAge, maxAge time.Duration) ([]orders.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'delivered' AND feedback_sent_at IS NULL
			AND COALESCE(delivered_at, updated_at) <= now() - $1::interval
			AND COALESCE(delivered_at, updated_at) >= now() - $2::interval
		ORDER BY created_at
		LIMIT 100`, minAge, maxAge)
	if err != nil {
		return nil, fmt.Errorf("list feedback due: %w", err)
	}
	return collectOrders(rows)
}

// MarkFeedbackSent flags the order so feedback is requested once.
func (r *Repo) MarkFeedbackSent(ctx context.Context, orderID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `UPDATE orders SET feedback_sent_at = now() WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("mark feedback sent: %w", err)
	}
	return nil
}
