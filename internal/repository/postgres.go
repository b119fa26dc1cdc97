// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/delivery-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyAssigned возвращается, если заказ уже назначен другому курьеру.
	ErrOrderAlreadyAssigned = errors.New("order already assigned")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при конфликтах сериализации и дедлоках.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, email, name string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING id`,
		email, name, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, role, created_at FROM users WHERE email = $1`,
		email,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, role, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

const orderColumns = `id, status, delivery_user_id, proof_path, proof_type, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status string
	var proofType *string
	err := row.Scan(&o.ID, &status, &o.DeliveryUserID, &o.ProofPath, &proofType, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	if proofType != nil {
		k := model.ProofKind(*proofType)
		o.ProofType = &k
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// PendingDeliveries возвращает оплаченные и не назначенные курьеру заказы,
// отсортированные по времени создания (старые предлагаются первыми).
func (r *PostgresRepository) PendingDeliveries(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE delivery_user_id IS NULL AND status IN ($1, $2)
		 ORDER BY created_at ASC`,
		string(model.OrderStatusPaid), string(model.OrderStatusReadyToShip),
	)
	if err != nil {
		return nil, fmt.Errorf("select pending deliveries: %w", err)
	}
	return collectOrders(rows)
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// AssignDelivery назначает курьера на заказ одним условным обновлением:
// запись меняется только если курьер ещё не назначен, поэтому два
// конкурентных запроса не могут назначить один заказ дважды.
func (r *PostgresRepository) AssignDelivery(ctx context.Context, orderID, courierID int64) (*model.Order, error) {
	var assigned *model.Order

	err := r.withRetry(ctx, func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx,
			`UPDATE orders
			 SET delivery_user_id = $2, status = $3, updated_at = now()
			 WHERE id = $1 AND delivery_user_id IS NULL
			 RETURNING `+orderColumns,
			orderID, courierID, string(model.OrderStatusAssigned),
		)

		o, err := scanOrder(row)
		if err == nil {
			assigned = o
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("assign delivery: %w", err)
		}

		// Обновление не затронуло строк: либо заказа нет, либо он уже назначен.
		var existing int64
		err = r.pool.QueryRow(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		return ErrOrderAlreadyAssigned
	})
	if err != nil {
		return nil, err
	}

	return assigned, nil
}

// DeliveriesByCourier возвращает активные заказы курьера (не завершённые доставкой).
func (r *PostgresRepository) DeliveriesByCourier(ctx context.Context, courierID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE delivery_user_id = $1 AND status NOT IN ($2, $3)
		 ORDER BY created_at ASC`,
		courierID, string(model.OrderStatusDelivered), string(model.OrderStatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("select courier deliveries: %w", err)
	}
	return collectOrders(rows)
}

// DeliveryHistoryByCourier возвращает завершённые заказы курьера.
func (r *PostgresRepository) DeliveryHistoryByCourier(ctx context.Context, courierID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE delivery_user_id = $1 AND status IN ($2, $3)
		 ORDER BY updated_at DESC`,
		courierID, string(model.OrderStatusDelivered), string(model.OrderStatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("select courier history: %w", err)
	}
	return collectOrders(rows)
}

// UpdateDeliveryStatus перезаписывает статус заказа.
func (r *PostgresRepository) UpdateDeliveryStatus(ctx context.Context, orderID int64, status model.OrderStatus) (*model.Order, error) {
	var updated *model.Order

	err := r.withRetry(ctx, func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+orderColumns,
			orderID, string(status),
		)

		o, err := scanOrder(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("update delivery status: %w", err)
		}

		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// UpsertLocation создаёт или перезаписывает запись о позиции курьера.
func (r *PostgresRepository) UpsertLocation(ctx context.Context, userID int64, latitude, longitude float64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO geolocations (user_id, latitude, longitude, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id)
		 DO UPDATE SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, updated_at = now()`,
		userID, latitude, longitude,
	)
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

// LiveLocations возвращает текущие позиции всех курьеров вместе с данными владельца.
func (r *PostgresRepository) LiveLocations(ctx context.Context) ([]model.Geolocation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.user_id, g.latitude, g.longitude, g.updated_at, u.name, u.email
		 FROM geolocations g
		 JOIN users u ON u.id = g.user_id
		 ORDER BY g.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select live locations: %w", err)
	}
	defer rows.Close()

	var res []model.Geolocation
	for rows.Next() {
		var g model.Geolocation
		if err := rows.Scan(&g.ID, &g.UserID, &g.Latitude, &g.Longitude, &g.UpdatedAt, &g.UserName, &g.UserEmail); err != nil {
			return nil, fmt.Errorf("scan geolocation: %w", err)
		}
		res = append(res, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetOrderProof сохраняет путь и тип подтверждения доставки.
// Возвращает путь предыдущего файла, если подтверждение перезаписано.
func (r *PostgresRepository) SetOrderProof(ctx context.Context, orderID int64, path string, kind model.ProofKind) (*string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var previous *string
	err = tx.QueryRow(ctx, `SELECT proof_path FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET proof_path = $2, proof_type = $3, updated_at = now() WHERE id = $1`,
		orderID, path, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("set proof: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return previous, nil
}
