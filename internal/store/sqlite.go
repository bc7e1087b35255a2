package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-ledger/internal/model"
)

// tsLayout is fixed width so TEXT timestamps compare in time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a single local SQLite file. The pool is
// limited to one connection, which makes every statement and transaction
// single-writer within the process.
type SQLiteStore struct {
	*sqliteLedger
	db *sql.DB
}

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteLedger struct {
	q   sqlExecutor
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the ledger file at path. A new
// ledger is seeded with initialBalance; an existing one keeps its own.
func OpenSQLite(ctx context.Context, path string, initialBalance decimal.Decimal) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, storageErr("create schema", err)
	}

	s := &SQLiteStore{
		sqliteLedger: &sqliteLedger{q: db, now: utcNow},
		db:           db,
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR IGNORE INTO account (id, balance, initial_balance, last_updated)
		 VALUES (1, ?, ?, ?)`,
		initialBalance.String(), initialBalance.String(), s.now().Format(tsLayout))
	if err != nil {
		_ = db.Close()
		return nil, storageErr("seed account", err)
	}
	return s, nil
}

// DB exposes the underlying handle for operators and tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Ledger) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	if err := fn(&sqliteLedger{q: tx, now: s.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx Ledger) error {
		l := tx.(*sqliteLedger)
		stmts := []string{
			`DELETE FROM positions`,
			`DELETE FROM trades`,
			`DELETE FROM sqlite_sequence WHERE name = 'trades'`,
		}
		for _, stmt := range stmts {
			if _, err := l.q.ExecContext(ctx, stmt); err != nil {
				return storageErr("reset", err)
			}
		}
		_, err := l.q.ExecContext(ctx,
			`UPDATE account SET balance = initial_balance, last_updated = ? WHERE id = 1`,
			l.now().Format(tsLayout))
		if err != nil {
			return storageErr("reset balance", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Ledger operations, shared by the store and its transactions ---

func (l *sqliteLedger) Account(ctx context.Context) (model.Account, error) {
	var bal, initial, updated string
	err := l.q.QueryRowContext(ctx,
		`SELECT balance, initial_balance, last_updated FROM account WHERE id = 1`).
		Scan(&bal, &initial, &updated)
	if err != nil {
		return model.Account{}, storageErr("get account", err)
	}

	var a model.Account
	if a.Balance, err = decimal.NewFromString(bal); err != nil {
		return model.Account{}, storageErr("parse balance", err)
	}
	if a.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return model.Account{}, storageErr("parse initial balance", err)
	}
	if a.LastUpdated, err = time.Parse(tsLayout, updated); err != nil {
		return model.Account{}, storageErr("parse last_updated", err)
	}
	return a, nil
}

func (l *sqliteLedger) Balance(ctx context.Context) (decimal.Decimal, error) {
	var bal string
	if err := l.q.QueryRowContext(ctx, `SELECT balance FROM account WHERE id = 1`).Scan(&bal); err != nil {
		return decimal.Zero, storageErr("get balance", err)
	}
	d, err := decimal.NewFromString(bal)
	if err != nil {
		return decimal.Zero, storageErr("parse balance", err)
	}
	return d, nil
}

func (l *sqliteLedger) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if err := checkBalance(balance); err != nil {
		return err
	}
	res, err := l.q.ExecContext(ctx,
		`UPDATE account SET balance = ?, last_updated = ? WHERE id = 1`,
		balance.String(), l.now().Format(tsLayout))
	if err != nil {
		return storageErr("set balance", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return storageErr("set balance", errors.New("account row missing"))
	}
	return nil
}

func (l *sqliteLedger) Position(ctx context.Context, ticker string) (model.Position, error) {
	p := model.Position{Ticker: ticker, AveragePrice: decimal.Zero}
	var avg, updated string
	err := l.q.QueryRowContext(ctx,
		`SELECT quantity, average_price, last_updated FROM positions WHERE ticker = ?`, ticker).
		Scan(&p.Quantity, &avg, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return model.Position{}, storageErr("get position "+ticker, err)
	}
	if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return model.Position{}, storageErr("parse average_price", err)
	}
	if p.LastUpdated, err = time.Parse(tsLayout, updated); err != nil {
		return model.Position{}, storageErr("parse last_updated", err)
	}
	return p, nil
}

func (l *sqliteLedger) SetPosition(ctx context.Context, ticker string, quantity int64, averagePrice decimal.Decimal) error {
	if quantity <= 0 {
		if _, err := l.q.ExecContext(ctx, `DELETE FROM positions WHERE ticker = ?`, ticker); err != nil {
			return storageErr("delete position "+ticker, err)
		}
		return nil
	}
	_, err := l.q.ExecContext(ctx,
		`INSERT INTO positions (ticker, quantity, average_price, last_updated)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(ticker) DO UPDATE SET
		 	quantity = excluded.quantity,
		 	average_price = excluded.average_price,
		 	last_updated = excluded.last_updated`,
		ticker, quantity, averagePrice.String(), l.now().Format(tsLayout))
	if err != nil {
		return storageErr("set position "+ticker, err)
	}
	return nil
}

func (l *sqliteLedger) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := l.q.QueryContext(ctx,
		`SELECT ticker, quantity, average_price, last_updated FROM positions ORDER BY ticker`)
	if err != nil {
		return nil, storageErr("list positions", err)
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		var p model.Position
		var avg, updated string
		if err := rows.Scan(&p.Ticker, &p.Quantity, &avg, &updated); err != nil {
			return nil, storageErr("scan position", err)
		}
		if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
			return nil, storageErr("parse average_price", err)
		}
		if p.LastUpdated, err = time.Parse(tsLayout, updated); err != nil {
			return nil, storageErr("parse last_updated", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list positions", err)
	}
	return positions, nil
}

func (l *sqliteLedger) AppendTrade(ctx context.Context, rec *model.TradeRecord) error {
	if err := validateTrade(rec); err != nil {
		return err
	}

	ts := l.now()
	var last sql.NullString
	if err := l.q.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM trades`).Scan(&last); err != nil {
		return storageErr("append trade", err)
	}
	if last.Valid {
		if prev, err := time.Parse(tsLayout, last.String); err == nil && ts.Before(prev) {
			ts = prev
		}
	}
	total := rec.Price.Mul(decimal.NewFromInt(rec.Quantity))

	res, err := l.q.ExecContext(ctx,
		`INSERT INTO trades (timestamp, ticker, side, quantity, price, total_cost)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ts.Format(tsLayout), rec.Ticker, string(rec.Side), rec.Quantity,
		rec.Price.String(), total.String())
	if err != nil {
		return storageErr("append trade", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("append trade", err)
	}

	rec.ID = id
	rec.Timestamp = ts
	rec.TotalCost = total
	return nil
}

func (l *sqliteLedger) ListTrades(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	query := `SELECT id, timestamp, ticker, side, quantity, price, total_cost
		FROM trades ORDER BY timestamp DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list trades", err)
	}
	defer rows.Close()

	trades := []model.TradeRecord{}
	for rows.Next() {
		var t model.TradeRecord
		var ts, side, price, total string
		if err := rows.Scan(&t.ID, &ts, &t.Ticker, &side, &t.Quantity, &price, &total); err != nil {
			return nil, storageErr("scan trade", err)
		}
		t.Side = model.Side(side)
		if t.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, storageErr("parse timestamp", err)
		}
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

func utcNow() time.Time { return time.Now().UTC() }
