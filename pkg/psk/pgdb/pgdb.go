// Package pgdb provides a psk.Store that keeps cached PMKs in a postgres database.
package pgdb

import (
	"context"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"code.wpakey.org/golang/pkg/psk"
)

// PGDB is implemented by pgx.Tx, pgx.Conn & pgxpool.Pool
// accessing a postgres database through this common interface simplifies testing
type PGDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PMKStore is a psk.Store backed by the pmk_cache table.
type PMKStore struct {
	DB PGDB
}

//go:embed pmk_cache_schema.sql
var schemaScriptTpl string

// Migrate creates the pmk_cache table in dbschema.
func Migrate(ctx context.Context, conn PGDB, dbschema string) error {
	schemaName := pgx.Identifier{dbschema}.Sanitize()
	schemaScript := strings.ReplaceAll(schemaScriptTpl, "${schema_name}", schemaName)

	_, err := conn.Exec(ctx, schemaScript)

	return wrapError(err, "failed db schema initialization") // nil if err is nil...
}

// New returns a PMKStore connected to the dsn database through a connection pool.
func New(ctx context.Context, dsn string) (*PMKStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if nil != err {
		return nil, wrapError(err, "failed connection pool creation")
	}

	return &PMKStore{DB: pool}, nil
}

// pmkRow holds pmk_cache columns, renamed to match struct fields.
type pmkRow struct {
	Id        []byte
	SSID      string
	PMK       []byte
	CreatedAt time.Time
}

// Load loads the Entry referenced by key into dst.
// It returns true if the Entry was found.
func (self *PMKStore) Load(ctx context.Context, key psk.Key, dst *psk.Entry) (bool, error) {
	rows, err := self.DB.Query(
		ctx,
		`SELECT
		   id as "Id",
		   ssid as "SSID",
		   pmk as "PMK",
		   created_at as "CreatedAt"
		 FROM
		   pmk_cache
		 WHERE
		   id = $1
		`,
		key[:],
	)
	if nil != err {
		return false, wrapError(err, "failed DB.Query")
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[pmkRow])
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, wrapError(err, "failed loading entry")
	}

	*dst = psk.Entry{Key: key, SSID: row.SSID, PMK: row.PMK, Created: row.CreatedAt}
	return true, nil
}

// Save saves entry into the PMKStore.
// It errors if entry is invalid or could not be saved.
func (self *PMKStore) Save(ctx context.Context, entry psk.Entry) error {
	err := entry.Check()
	if nil != err {
		return wrapError(err, "invalid entry")
	}
	_, err = self.DB.Exec(
		ctx,
		`INSERT INTO pmk_cache(id, ssid, pmk, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		 ssid = EXCLUDED.ssid,
		 pmk = EXCLUDED.pmk,
		 created_at = EXCLUDED.created_at`,
		entry.Key[:],
		entry.SSID,
		entry.PMK,
		entry.Created,
	)

	return wrapError(err, "failed saving entry") // nil if err is nil...
}

// Remove removes the Entry referenced by key from the PMKStore.
// It returns true if the Entry existed.
func (self *PMKStore) Remove(ctx context.Context, key psk.Key) (bool, error) {
	tag, err := self.DB.Exec(ctx, `DELETE FROM pmk_cache WHERE id = $1`, key[:])
	if nil != err {
		return false, wrapError(err, "failed removing entry")
	}
	return tag.RowsAffected() > 0, nil
}

// Purge removes the Entries created before t and returns how many were removed.
func (self *PMKStore) Purge(ctx context.Context, t time.Time) (int, error) {
	var count int
	err := self.DB.QueryRow(
		ctx,
		`WITH deleted AS (DELETE FROM pmk_cache WHERE created_at < $1 RETURNING id)
		 SELECT count(*) FROM deleted`,
		t,
	).Scan(&count)

	return count, wrapError(err, "failed purging entries") // nil if err is nil...
}

var _ psk.Store = &PMKStore{}
