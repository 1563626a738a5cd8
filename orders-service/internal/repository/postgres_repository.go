package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/fjod/go_cart_saga/orders-service/internal/domain"
)

const orderColumns = `id, reservation_id, user_id, email, amount, currency, status,
	items, address, shipping, payment, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.PingContext(ctx); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	log.Info().Str("database", cred.DBName).Msg("connected to postgres")
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, bool, error) {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal order items: %w", err)
	}
	paymentJSON, err := json.Marshal(order.Payment)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal order payment: %w", err)
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusConfirmed
	}

	query := `INSERT INTO orders (id, reservation_id, user_id, email, amount, currency, status,
	              items, address, shipping, payment, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	          ON CONFLICT (reservation_id) DO NOTHING
	          RETURNING ` + orderColumns

	stored, err := scanOrder(r.db.QueryRowContext(ctx, query,
		order.ID,
		order.ReservationID,
		order.UserID,
		order.Email,
		order.Amount,
		order.Currency,
		order.Status,
		itemsJSON,
		nullJSON(order.Address),
		nullJSON(order.Shipping),
		paymentJSON))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return nil, false, fmt.Errorf("insert order: %w", err)
	}

	// The conflict path returns no row: the order already exists.
	existing, err := r.GetOrderByReservationID(ctx, order.ReservationID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, err
}

func (r *Repository) GetOrderByReservationID(ctx context.Context, reservationID string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE reservation_id = $1`, reservationID))
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("query order by reservation id: %w", err)
	}
	return order, err
}

func (r *Repository) GetOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	limit, offset = clampPage(limit, offset)
	query := `SELECT ` + orderColumns + `
	          FROM orders WHERE user_id = $1
	          ORDER BY created_at DESC, id DESC
	          LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: query orders by user id: %v", ErrStorage, err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration error: %v", ErrStorage, err)
	}

	return orders, nil
}

func (r *Repository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	current, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	if !current.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
	}

	updated, err := scanOrder(tx.QueryRowContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING `+orderColumns,
		id, status))
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return updated, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order                    domain.Order
		items, address, shipping []byte
		payment                  []byte
	)
	err := row.Scan(
		&order.ID,
		&order.ReservationID,
		&order.UserID,
		&order.Email,
		&order.Amount,
		&order.Currency,
		&order.Status,
		&items,
		&address,
		&shipping,
		&payment,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(payment, &order.Payment); err != nil {
		return nil, fmt.Errorf("unmarshal order payment: %w", err)
	}
	if len(address) > 0 {
		order.Address = json.RawMessage(address)
	}
	if len(shipping) > 0 {
		order.Shipping = json.RawMessage(shipping)
	}
	return &order, nil
}

// nullJSON stores an absent snapshot as SQL NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}
