// Package repository содержит журнал попыток отправки в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gestock-pos/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSubmissionExists возвращается при повторной записи попытки с тем же идентификатором.
var ErrSubmissionExists = errors.New("submission already recorded")

const defaultHistoryLimit = 50

// PostgresRepository предоставляет доступ к журналу отправок в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
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

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delays[i]):
		}
	}

	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// RecordSubmission сохраняет итог одной попытки отправки.
func (r *PostgresRepository) RecordSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO submissions
			 (id, workflow_id, tx_type, client_id, tax_rate_id, line_count, total, outcome, order_id, message, submitted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)`,
			rec.ID, rec.WorkflowID, string(rec.Type), rec.ClientID, rec.TaxRateID, rec.LineCount,
			rec.Total.StringFixed(2), string(rec.Outcome), rec.OrderID, rec.Message, rec.SubmittedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrSubmissionExists, rec.ID)
			}
			return fmt.Errorf("insert submission: %w", err)
		}
		return nil
	})
}

// GetSubmissionsByWorkflow возвращает попытки отправки кассового сценария, новые первыми.
func (r *PostgresRepository) GetSubmissionsByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]model.SubmissionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, workflow_id, tx_type, client_id, tax_rate_id, line_count, total::text, outcome, order_id, message, submitted_at
		 FROM submissions
		 WHERE workflow_id = $1
		 ORDER BY submitted_at DESC
		 LIMIT $2`,
		workflowID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select submissions: %w", err)
	}
	defer rows.Close()

	var res []model.SubmissionRecord
	for rows.Next() {
		var (
			rec     model.SubmissionRecord
			txType  string
			total   string
			outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &txType, &rec.ClientID, &rec.TaxRateID, &rec.LineCount,
			&total, &outcome, &rec.OrderID, &rec.Message, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}

		rec.Type = model.TransactionType(txType)
		rec.Outcome = model.SubmissionOutcome(outcome)
		rec.Total, err = decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("parse total %q: %w", total, err)
		}

		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
