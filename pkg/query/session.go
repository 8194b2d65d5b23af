package query

import (
	"context"
	"database/sql"
	"fmt"
)

// Session is one backend connection. Every Execute call dials its own.
type Session interface {
	Exec(ctx context.Context, stmt string) error
	Query(ctx context.Context, stmt string) (*Result, error)
	Close() error
}

type Dialer func(ctx context.Context) (Session, error)

// ValueMapper turns a driver-specific scanned value into one FormatValue
// knows how to print. dbType is the column's database type name.
type ValueMapper func(v any, dbType string) any

type SQLOption func(*SQLSession)

// WithValueMapper applies m to every scanned value.
func WithValueMapper(m ValueMapper) SQLOption {
	return func(s *SQLSession) { s.mapValue = m }
}

// OpenSQL dials a new database/sql pool for driver and dsn per session.
func OpenSQL(driver, dsn string, opts ...SQLOption) Dialer {
	return func(ctx context.Context) (Session, error) {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", driver, err)
		}
		s, err := NewSQLSession(ctx, db, opts...)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
}

// SQLSession runs statements on a single connection of a database/sql pool,
// so that loaded extensions and attachments stay visible to the query.
type SQLSession struct {
	db       *sql.DB
	conn     *sql.Conn
	mapValue ValueMapper
}

// NewSQLSession pins one connection of db. Closing the session closes db.
func NewSQLSession(ctx context.Context, db *sql.DB, opts ...SQLOption) (*SQLSession, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	s := &SQLSession{db: db, conn: conn}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLSession) Exec(ctx context.Context, stmt string) error {
	_, err := s.conn.ExecContext(ctx, stmt)
	return err
}

// Query runs stmt and reads the whole result set.
func (s *SQLSession) Query(ctx context.Context, stmt string) (*Result, error) {
	rows, err := s.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading column types: %w", err)
	}
	types := make([]string, len(colTypes))
	for i, ct := range colTypes {
		types[i] = ct.DatabaseTypeName()
	}

	res := &Result{Columns: cols, Types: types}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if s.mapValue != nil {
			for i, v := range values {
				values[i] = s.mapValue(v, types[i])
			}
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close releases the connection and the underlying database.
func (s *SQLSession) Close() error {
	connErr := s.conn.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return connErr
}
