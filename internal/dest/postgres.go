package dest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore accesses the destination schema through a pgx pool.
type PostgresStore struct {
	pgTx
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to the destination database.
func NewPostgresStore(ctx context.Context, url string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open destination pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping destination: %w", err)
	}
	logger.Info("destination connection established")
	return &PostgresStore{pgTx: pgTx{q: pool}, pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InitSchema creates the destination tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("init destination schema: %w", err)
	}
	return nil
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx Tx) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	})
}

type pgTx struct {
	q querier
}

func (t *pgTx) FindOne(ctx context.Context, table string, where Record) (Record, error) {
	cond, args := whereClause(where)
	rows, err := t.q.Query(ctx, fmt.Sprintf("SELECT * FROM %s%s ORDER BY id LIMIT 1", ident(table), cond), args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}
	return Record(rec), nil
}

func (t *pgTx) FindByID(ctx context.Context, table string, id int64) (Record, error) {
	return t.FindOne(ctx, table, Record{"id": id})
}

func (t *pgTx) FindAll(ctx context.Context, table string, where Record) ([]Record, error) {
	cond, args := whereClause(where)
	rows, err := t.q.Query(ctx, fmt.Sprintf("SELECT * FROM %s%s ORDER BY id", ident(table), cond), args...)
	if err != nil {
		return nil, fmt.Errorf("find all %s: %w", table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("find all %s: %w", table, err)
	}
	out := make([]Record, len(maps))
	for i, m := range maps {
		out[i] = Record(m)
	}
	return out, nil
}

func (t *pgTx) Exists(ctx context.Context, table string, where Record) (bool, error) {
	cond, args := whereClause(where)
	var exists bool
	err := t.q.QueryRow(ctx, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s%s)", ident(table), cond), args...).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	return exists, nil
}

func (t *pgTx) Insert(ctx context.Context, table string, rec Record) (int64, error) {
	cols := rec.columns()
	names := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		if c == "id" {
			continue
		}
		names = append(names, ident(c))
		args = append(args, rec[c])
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		ident(table), strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if len(names) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", ident(table))
	}
	var id int64
	if err := t.q.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, mapPgError(err))
	}
	return id, nil
}

func (t *pgTx) Update(ctx context.Context, table string, id int64, rec Record) error {
	cols := rec.columns()
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		if c == "id" {
			continue
		}
		args = append(args, rec[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	tag, err := t.q.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		ident(table), strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %d: %w", table, id, ErrNotFound)
	}
	return nil
}

func (t *pgTx) Count(ctx context.Context, table string) (int, error) {
	var n int
	if err := t.q.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", ident(table))).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func whereClause(where Record) (string, []any) {
	if len(where) == 0 {
		return "", nil
	}
	var conds []string
	var args []any
	for _, c := range where.columns() {
		v := where[c]
		if v == nil {
			conds = append(conds, ident(c)+" IS NULL")
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}
