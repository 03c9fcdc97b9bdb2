// Package repository содержит реализацию хранилища слотов и бронирований в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/groundbook/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrBookingNotFound возвращается, если бронирование не найдено.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrSlotConflict возвращается, если запрошенный интервал пересекается с действующим слотом.
	ErrSlotConflict = errors.New("slot overlaps an existing reservation")
	// ErrManpowerConflict возвращается, если персонал уже закреплён за оплаченной бронью в этот день.
	ErrManpowerConflict = errors.New("manpower already booked for this date")
	// ErrOrderAlreadyAttached возвращается при повторной привязке заказа платёжного шлюза.
	ErrOrderAlreadyAttached = errors.New("payment order already attached")
)

// ConflictError уточняет, какой интервал или какой сотрудник стали причиной конфликта.
// Если задан ManpowerID, ошибка оборачивает ErrManpowerConflict, иначе ErrSlotConflict.
type ConflictError struct {
	Requested  model.Interval
	Existing   model.Interval
	ManpowerID string
}

func (e *ConflictError) Error() string {
	if e.ManpowerID != "" {
		return fmt.Sprintf("%v: %s", e.Unwrap(), e.ManpowerID)
	}
	return fmt.Sprintf("%v: requested %s, existing %s", e.Unwrap(), e.Requested, e.Existing)
}

func (e *ConflictError) Unwrap() error {
	if e.ManpowerID != "" {
		return ErrManpowerConflict
	}
	return ErrSlotConflict
}

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

// withRetry повторяет транзакцию при конфликте сериализации, дедлоке или обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.WithJitterPercent(20, retry.NewExponential(50*time.Millisecond)))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if isRetryable(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
