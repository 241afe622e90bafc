// Package audit appends outreach outcomes to Postgres for operational
// review. The log is write-only: the console never reads it back.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	auditTableName        = "outreach_audit"
	auditOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Log is a Postgres-backed outreach audit sink. A nil *Log is a no-op, so
// callers can hold one unconditionally and only configure it when a DSN is
// present.
type Log struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewLog(dsn string) (*Log, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("audit dsn is required")
	}
	return &Log{
		dsn:       dsn,
		tableName: auditTableName,
		openDB:    sql.Open,
	}, nil
}

// RecordSend appends one outreach attempt outcome.
func (l *Log) RecordSend(ctx context.Context, propertyID string, success bool, note string) error {
	if l == nil {
		return nil
	}
	if err := l.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, auditOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (property_id, success, note, recorded_at)
		VALUES ($1, $2, $3, NOW())`, quoteIdentifier(l.tableName))
	_, err := l.db.ExecContext(opCtx, query, propertyID, success, note)
	return err
}

// RecordBatch appends one aggregate row for a bulk send.
func (l *Log) RecordBatch(ctx context.Context, sent, failed int) error {
	if l == nil {
		return nil
	}
	if err := l.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, auditOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (property_id, success, note, recorded_at)
		VALUES ('', $1, $2, NOW())`, quoteIdentifier(l.tableName))
	note := fmt.Sprintf("batch sent=%d failed=%d", sent, failed)
	_, err := l.db.ExecContext(opCtx, query, failed == 0, note)
	return err
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Log) ensureReady() error {
	l.initOnce.Do(func() {
		db, err := l.openDB("postgres", l.dsn)
		if err != nil {
			l.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), auditOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				property_id TEXT NOT NULL,
				success BOOLEAN NOT NULL,
				note TEXT NOT NULL DEFAULT '',
				recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(l.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		l.db = db
	})
	return l.initErr
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
