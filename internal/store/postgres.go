package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-ledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	*pgLedger
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgLedger struct {
	q   querier
	now func() time.Time
}

// OpenPostgres connects to dsn and prepares the ledger tables.
func OpenPostgres(ctx context.Context, dsn string, initialBalance decimal.Decimal) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, storageErr("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("ping postgres", err)
	}
	s, err := NewPostgresStore(ctx, pool, initialBalance)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore creates a PostgreSQL-backed store on an existing pool,
// creating the schema and the account row if they do not exist.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, initialBalance decimal.Decimal) (*PostgresStore, error) {
	s := &PostgresStore{
		pgLedger: &pgLedger{q: pool, now: utcNow},
		pool:     pool,
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, storageErr("create schema", err)
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO account (id, balance, initial_balance, last_updated)
		 VALUES (1, $1::NUMERIC, $1::NUMERIC, $2)
		 ON CONFLICT (id) DO NOTHING`,
		initialBalance.String(), s.now())
	if err != nil {
		return nil, storageErr("seed account", err)
	}
	return s, nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Ledger) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return storageErr("begin transaction", err)
	}
	// Lock the account row so concurrent instances on the same database
	// queue behind each other instead of losing balance updates.
	if _, err := tx.Exec(ctx, `SELECT 1 FROM account WHERE id = 1 FOR UPDATE`); err != nil {
		_ = tx.Rollback(ctx)
		return storageErr("lock account", err)
	}
	if err := fn(&pgLedger{q: tx, now: s.now}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx Ledger) error {
		l := tx.(*pgLedger)
		if _, err := l.q.Exec(ctx, `TRUNCATE positions, trades RESTART IDENTITY`); err != nil {
			return storageErr("reset", err)
		}
		if _, err := l.q.Exec(ctx,
			`UPDATE account SET balance = initial_balance, last_updated = $1 WHERE id = 1`,
			l.now()); err != nil {
			return storageErr("reset balance", err)
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (l *pgLedger) Account(ctx context.Context) (model.Account, error) {
	var a model.Account
	var bal, initial string
	err := l.q.QueryRow(ctx,
		`SELECT balance::TEXT, initial_balance::TEXT, last_updated FROM account WHERE id = 1`).
		Scan(&bal, &initial, &a.LastUpdated)
	if err != nil {
		return model.Account{}, storageErr("get account", err)
	}
	if a.Balance, err = decimal.NewFromString(bal); err != nil {
		return model.Account{}, storageErr("parse balance", err)
	}
	if a.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return model.Account{}, storageErr("parse initial balance", err)
	}
	a.LastUpdated = a.LastUpdated.UTC()
	return a, nil
}

func (l *pgLedger) Balance(ctx context.Context) (decimal.Decimal, error) {
	var bal string
	if err := l.q.QueryRow(ctx, `SELECT balance::TEXT FROM account WHERE id = 1`).Scan(&bal); err != nil {
		return decimal.Zero, storageErr("get balance", err)
	}
	d, err := decimal.NewFromString(bal)
	if err != nil {
		return decimal.Zero, storageErr("parse balance", err)
	}
	return d, nil
}

func (l *pgLedger) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if err := checkBalance(balance); err != nil {
		return err
	}
	tag, err := l.q.Exec(ctx,
		`UPDATE account SET balance = $1::NUMERIC, last_updated = $2 WHERE id = 1`,
		balance.String(), l.now())
	if err != nil {
		return storageErr("set balance", err)
	}
	if tag.RowsAffected() != 1 {
		return storageErr("set balance", errors.New("account row missing"))
	}
	return nil
}

func (l *pgLedger) Position(ctx context.Context, ticker string) (model.Position, error) {
	p := model.Position{Ticker: ticker, AveragePrice: decimal.Zero}
	var avg string
	err := l.q.QueryRow(ctx,
		`SELECT quantity, average_price::TEXT, last_updated FROM positions WHERE ticker = $1`, ticker).
		Scan(&p.Quantity, &avg, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return model.Position{}, storageErr("get position "+ticker, err)
	}
	if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return model.Position{}, storageErr("parse average_price", err)
	}
	p.LastUpdated = p.LastUpdated.UTC()
	return p, nil
}

func (l *pgLedger) SetPosition(ctx context.Context, ticker string, quantity int64, averagePrice decimal.Decimal) error {
	if quantity <= 0 {
		if _, err := l.q.Exec(ctx, `DELETE FROM positions WHERE ticker = $1`, ticker); err != nil {
			return storageErr("delete position "+ticker, err)
		}
		return nil
	}
	_, err := l.q.Exec(ctx,
		`INSERT INTO positions (ticker, quantity, average_price, last_updated)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (ticker) DO UPDATE SET
		 	quantity = EXCLUDED.quantity,
		 	average_price = EXCLUDED.average_price,
		 	last_updated = EXCLUDED.last_updated`,
		ticker, quantity, averagePrice.String(), l.now())
	if err != nil {
		return storageErr("set position "+ticker, err)
	}
	return nil
}

func (l *pgLedger) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := l.q.Query(ctx,
		`SELECT ticker, quantity, average_price::TEXT, last_updated FROM positions ORDER BY ticker`)
	if err != nil {
		return nil, storageErr("list positions", err)
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		var p model.Position
		var avg string
		if err := rows.Scan(&p.Ticker, &p.Quantity, &avg, &p.LastUpdated); err != nil {
			return nil, storageErr("scan position", err)
		}
		if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
			return nil, storageErr("parse average_price", err)
		}
		p.LastUpdated = p.LastUpdated.UTC()
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list positions", err)
	}
	return positions, nil
}

func (l *pgLedger) AppendTrade(ctx context.Context, rec *model.TradeRecord) error {
	if err := validateTrade(rec); err != nil {
		return err
	}
	total := rec.Price.Mul(decimal.NewFromInt(rec.Quantity))

	// GREATEST keeps the log ordered by timestamp if the clock steps back.
	err := l.q.QueryRow(ctx,
		`INSERT INTO trades (timestamp, ticker, side, quantity, price, total_cost)
		 VALUES (GREATEST($1::TIMESTAMPTZ, COALESCE((SELECT MAX(timestamp) FROM trades), $1::TIMESTAMPTZ)),
		         $2, $3, $4, $5::NUMERIC, $6::NUMERIC)
		 RETURNING id, timestamp`,
		l.now(), rec.Ticker, string(rec.Side), rec.Quantity, rec.Price.String(), total.String()).
		Scan(&rec.ID, &rec.Timestamp)
	if err != nil {
		return storageErr("append trade", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.TotalCost = total
	return nil
}

func (l *pgLedger) ListTrades(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	query := `SELECT id, timestamp, ticker, side, quantity, price::TEXT, total_cost::TEXT
		FROM trades ORDER BY timestamp DESC, id DESC`
	var args []any
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := l.q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list trades", err)
	}
	defer rows.Close()

	trades := []model.TradeRecord{}
	for rows.Next() {
		var t model.TradeRecord
		var side, price, total string
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Ticker, &side, &t.Quantity, &price, &total); err != nil {
			return nil, storageErr("scan trade", err)
		}
		t.Side = model.Side(side)
		t.Timestamp = t.Timestamp.UTC()
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, storageErr("parse price", err)
		}
		if t.TotalCost, err = decimal.NewFromString(total); err != nil {
			return nil, storageErr("parse total_cost", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list trades", err)
	}
	return trades, nil
}
