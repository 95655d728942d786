// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package warehouse implements WarehouseConnector, a typed façade over a
// Postgres-wire SQL session (a managed warehouse cluster such as Redshift is
// wire-compatible with Postgres), parameterized by SQL templates loaded
// from configuration rather than hardcoded.
package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
)

// Credentials are short-lived cluster credentials, typically valid for one
// hour, plus the access-key/secret-key/session-token triple the COPY
// statement's credential clause embeds.
type Credentials struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// CredentialProvider is the external credential-acquisition capability;
// implementations MAY return rotating session credentials.
type CredentialProvider interface {
	GetCredentials(ctx context.Context) (Credentials, error)
}

// StaticCredentialProvider always returns the same Credentials. It exists
// for local development and tests, where the production credential
// acquisition service (cluster-scoped temporary credentials) is an external
// collaborator out of scope for this repository.
type StaticCredentialProvider struct {
	Credentials Credentials
}

func (p StaticCredentialProvider) GetCredentials(ctx context.Context) (Credentials, error) {
	return p.Credentials, nil
}

// Templates holds the SQL templates used to render every WarehouseConnector
// statement. Each is a fmt.Sprintf-style format string; callers never embed
// identifiers directly in Go code, matching the source system's rule that
// all SQL text lives in configuration.
type Templates struct {
	CreateEventTable    string // args: schema, table
	DropTable           string // args: schema, table
	CreateStagingTable  string // args: schema, table, like-table
	CopyFromManifest    string // args: schema, table, manifestURL, accessKeyID, secretAccessKey, sessionToken
	ListTables          string // args: schema, likePattern
	CreateUnionView     string // args: schema, viewName, unionBody
	UniqueYearMonthPairs string // args: schema, table
	AnalyzeTable        string // args: schema, table
	VacuumTable         string // args: schema, table
	VacuumTableReindex  string // args: schema, table
	DedupeInsert        string // args: dedupeSchema.dedupeTable, eventsSchema.eventsTable
	FinalInsert         string // args: eventsSchema.eventsTable, dedupeSchema.dedupeTable
	LastLoadErrorCount  string
	CopyCount           string
	InsertCount         string
}

// DefaultTemplates returns the out-of-the-box SQL templates, written against
// a generic Postgres-wire dialect. A real deployment overrides these via
// config.Resolver-supplied template strings to take advantage of
// warehouse-specific syntax (e.g. Redshift's DISTKEY/SORTKEY clauses).
func DefaultTemplates() Templates {
	return Templates{
		CreateEventTable:     `CREATE TABLE IF NOT EXISTS %[1]s.%[2]s (LIKE %[1]s.events_template)`,
		DropTable:            `DROP TABLE IF EXISTS %s.%s`,
		CreateStagingTable:   `CREATE TABLE IF NOT EXISTS %[1]s.%[2]s (LIKE %[1]s.%[3]s)`,
		CopyFromManifest:     `COPY %[1]s.%[2]s FROM '%[3]s' CREDENTIALS 'aws_access_key_id=%[4]s;aws_secret_access_key=%[5]s;token=%[6]s' FORMAT AS JSON 'auto' MANIFEST`,
		ListTables:           `SELECT table_name FROM information_schema.tables WHERE table_schema = '%[1]s' AND table_name LIKE '%[2]s'`,
		CreateUnionView:      `CREATE OR REPLACE VIEW %[1]s.%[2]s AS %[3]s`,
		UniqueYearMonthPairs: `SELECT DISTINCT EXTRACT(YEAR FROM event_timestamp)::int, EXTRACT(MONTH FROM event_timestamp)::int FROM %s.%s`,
		AnalyzeTable:         `ANALYZE %s.%s`,
		VacuumTable:          `VACUUM %s.%s`,
		VacuumTableReindex:   `VACUUM REINDEX %s.%s`,
		DedupeInsert:         `INSERT INTO %[1]s.%[2]s SELECT DISTINCT * FROM %[3]s.%[4]s`,
		FinalInsert:          `INSERT INTO %[1]s.%[2]s SELECT * FROM %[3]s.%[4]s`,
		LastLoadErrorCount:   `SELECT COUNT(*) FROM stl_load_errors WHERE starttime > DATEADD(minute, -10, GETDATE())`,
		CopyCount:            `SELECT pg_last_copy_count()`,
		InsertCount:          `SELECT pg_last_copy_count()`,
	}
}

// YearMonth is a calendar (year, month) pair, used for time-series table
// naming and retention-window comparisons.
type YearMonth struct {
	Year  int
	Month int
}

// TableName renders the zero-padded <prefix>_YYYY_MM table name.
func (ym YearMonth) TableName(prefix string) string {
	return fmt.Sprintf("%s_%04d_%02d", prefix, ym.Year, ym.Month)
}

// Session is the full Connector surface its collaborators (manifest loads,
// maintenance operations) depend on. Its purpose is purely testability:
// callers depend on Session rather than the concrete *Connector so a fake
// can stand in without a live SQL connection.
type Session interface {
	Close(ctx context.Context) error
	CreateEventTable(ctx context.Context, ym YearMonth, eventsPrefix string) error
	DropTable(ctx context.Context, name string) error
	CreateStagingTable(ctx context.Context, name, likeTable string) error
	CopyFromObjectStore(ctx context.Context, stagingTable, manifestURL string) error
	GetLastLoadErrorCount(ctx context.Context) int64
	GetCopyCount(ctx context.Context) int64
	GetInsertCount(ctx context.Context) int64
	ListTables(ctx context.Context, likePattern string) ([]string, error)
	CreateUnionView(ctx context.Context, viewName string, tables []string) error
	UniqueYearMonthPairs(ctx context.Context, table string) ([]YearMonth, error)
	AnalyzeTable(ctx context.Context, name string) error
	VacuumTable(ctx context.Context, name string, reindex bool) error
	DedupeInsert(ctx context.Context, dedupeTable, eventsTable string) error
	FinalInsert(ctx context.Context, dedupeTable, eventsTable string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connector is a stateful handle around one checked-out pool connection. It
// is not safe for concurrent use: at most one statement is in flight at a
// time, and each flush in the owning emitter opens and closes its own
// Connector, checking a connection out of the shared pool and releasing it
// back on Close rather than dialing its own.
type Connector struct {
	pool        *pgxpool.Pool
	credentials CredentialProvider
	templates   Templates
	schema      string

	conn            *pgxpool.Conn
	lastCredentials Credentials
}

// New builds a Connector bound to a shared pool, credentials (used for the
// COPY statement's credential clause, not for connecting), SQL templates,
// and a schema name. Call Open before issuing any statement.
func New(pool *pgxpool.Pool, credentials CredentialProvider, templates Templates, schema string) *Connector {
	return &Connector{pool: pool, credentials: credentials, templates: templates, schema: schema}
}

// Open acquires short-lived credentials for the COPY credential clause and
// checks out one connection from the shared pool for this Connector's
// lifetime.
func (c *Connector) Open(ctx context.Context) error {
	creds, err := c.credentials.GetCredentials(ctx)
	if err != nil {
		return fmt.Errorf("warehouse: credential acquisition failed: %w", err)
	}
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("warehouse: pool acquire failed: %w", err)
	}
	c.conn = conn
	c.lastCredentials = creds
	return nil
}

// Close releases the checked-out connection back to the pool.
func (c *Connector) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	c.conn.Release()
	c.conn = nil
	return nil
}

func (c *Connector) exec(ctx context.Context, sql string) error {
	_, err := c.conn.Exec(ctx, sql)
	return err
}

func (c *Connector) CreateEventTable(ctx context.Context, ym YearMonth, eventsPrefix string) error {
	return c.exec(ctx, fmt.Sprintf(c.templates.CreateEventTable, c.schema, ym.TableName(eventsPrefix)))
}

func (c *Connector) DropTable(ctx context.Context, name string) error {
	return c.exec(ctx, fmt.Sprintf(c.templates.DropTable, c.schema, name))
}

func (c *Connector) CreateStagingTable(ctx context.Context, name, likeTable string) error {
	return c.exec(ctx, fmt.Sprintf(c.templates.CreateStagingTable, c.schema, name, likeTable))
}

// CopyFromObjectStore renders a COPY statement that embeds the
// access-key/secret-key/session-token credential clause, and runs it
// against the given staging table.
func (c *Connector) CopyFromObjectStore(ctx context.Context, stagingTable, manifestURL string) error {
	sql := fmt.Sprintf(c.templates.CopyFromManifest, c.schema, stagingTable, manifestURL,
		c.lastCredentials.AccessKeyID, c.lastCredentials.SecretAccessKey, c.lastCredentials.SessionToken)
	return c.exec(ctx, sql)
}

// querySingleIntValue executes a single scalar query, returning -1 on any
// failure; this matches the source system's treatment of these values as
// non-fatal observability metrics, never as control flow.
func (c *Connector) querySingleIntValue(ctx context.Context, sql string) int64 {
	var v int64
	row := c.conn.QueryRow(ctx, sql)
	if err := row.Scan(&v); err != nil {
		tlog.Warn("warehouse: scalar query failed: %v", err)
		return -1
	}
	return v
}

func (c *Connector) GetLastLoadErrorCount(ctx context.Context) int64 {
	return c.querySingleIntValue(ctx, c.templates.LastLoadErrorCount)
}

func (c *Connector) GetCopyCount(ctx context.Context) int64 {
	return c.querySingleIntValue(ctx, c.templates.CopyCount)
}

func (c *Connector) GetInsertCount(ctx context.Context) int64 {
	return c.querySingleIntValue(ctx, c.templates.InsertCount)
}

// ListTables returns an ordered, deduplicated list of the names of tables
// in the connector's schema matching likePattern. Names are returned
// without the schema prefix.
func (c *Connector) ListTables(ctx context.Context, likePattern string) ([]string, error) {
	rows, err := c.conn.Query(ctx, fmt.Sprintf(c.templates.ListTables, c.schema, likePattern))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	return tables, rows.Err()
}

// CreateUnionView atomically replaces viewName with a SELECT * FROM t1
// UNION ALL SELECT * FROM t2 ... view over tables.
func (c *Connector) CreateUnionView(ctx context.Context, viewName string, tables []string) error {
	if len(tables) == 0 {
		return fmt.Errorf("warehouse: cannot create a union view over zero tables")
	}
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = fmt.Sprintf("SELECT * FROM %s.%s", c.schema, t)
	}
	body := parts[0]
	for _, p := range parts[1:] {
		body += " UNION ALL " + p
	}
	return c.exec(ctx, fmt.Sprintf(c.templates.CreateUnionView, c.schema, viewName, body))
}

// UniqueYearMonthPairs returns the distinct (year, month) pairs present in
// table, ordered oldest to newest.
func (c *Connector) UniqueYearMonthPairs(ctx context.Context, table string) ([]YearMonth, error) {
	rows, err := c.conn.Query(ctx, fmt.Sprintf(c.templates.UniqueYearMonthPairs, c.schema, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []YearMonth
	for rows.Next() {
		var ym YearMonth
		if err := rows.Scan(&ym.Year, &ym.Month); err != nil {
			return nil, err
		}
		pairs = append(pairs, ym)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Year != pairs[j].Year {
			return pairs[i].Year < pairs[j].Year
		}
		return pairs[i].Month < pairs[j].Month
	})
	return pairs, rows.Err()
}

func (c *Connector) AnalyzeTable(ctx context.Context, name string) error {
	return c.exec(ctx, fmt.Sprintf(c.templates.AnalyzeTable, c.schema, name))
}

func (c *Connector) VacuumTable(ctx context.Context, name string, reindex bool) error {
	tmpl := c.templates.VacuumTable
	if reindex {
		tmpl = c.templates.VacuumTableReindex
	}
	return c.exec(ctx, fmt.Sprintf(tmpl, c.schema, name))
}

func (c *Connector) DedupeInsert(ctx context.Context, dedupeTable, eventsTable string) error {
	return c.exec(ctx, fmt.Sprintf(c.templates.DedupeInsert, c.schema, dedupeTable, c.schema, eventsTable))
}

func (c *Connector) FinalInsert(ctx context.Context, dedupeTable, eventsTable string) error {
	return c.exec(ctx, fmt.Sprintf(c.templates.FinalInsert, c.schema, eventsTable, c.schema, dedupeTable))
}

// Commit and Rollback are best-effort: the session runs with per-statement
// autocommit outside of any explicit transaction the caller may have begun.
func (c *Connector) Commit(ctx context.Context) error {
	return nil
}

func (c *Connector) Rollback(ctx context.Context) error {
	return nil
}

// Factory builds and opens a fresh Connector on demand, each one checking
// out a connection from one pool shared across every shard worker and
// maintenance pass in the process. It satisfies emit.Opener structurally, so
// a ManifestEmitter can open and close its own connector on every flush
// without warehouse importing emit.
type Factory struct {
	credentials CredentialProvider
	templates   Templates
	schema      string

	poolMu sync.Mutex
	pool   *pgxpool.Pool
}

// NewFactory builds a Factory bound to the same arguments as New. The
// underlying pool is dialed lazily, on the first call to Open.
func NewFactory(credentials CredentialProvider, templates Templates, schema string) *Factory {
	return &Factory{credentials: credentials, templates: templates, schema: schema}
}

// Open constructs a new Connector against the Factory's shared pool and
// opens its session, checking out one pooled connection.
func (f *Factory) Open(ctx context.Context) (Session, error) {
	pool, err := f.ensurePool(ctx)
	if err != nil {
		return nil, err
	}
	c := New(pool, f.credentials, f.templates, f.schema)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ensurePool dials the shared pool on first use and reuses it on every
// subsequent call.
func (f *Factory) ensurePool(ctx context.Context) (*pgxpool.Pool, error) {
	f.poolMu.Lock()
	defer f.poolMu.Unlock()
	if f.pool != nil {
		return f.pool, nil
	}
	creds, err := f.credentials.GetCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("warehouse: credential acquisition failed: %w", err)
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=require",
		creds.Username, creds.Password, creds.Host, creds.Port, creds.Database)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("warehouse: pool dial failed: %w", err)
	}
	f.pool = pool
	return f.pool, nil
}

// ClampToRetentionWindow filters pairs to [now - retentionMonths, now],
// returning the in-window pairs and the skipped out-of-window pairs
// separately so the caller can log a warning for each skip.
func ClampToRetentionWindow(pairs []YearMonth, now time.Time, retentionMonths int) (inWindow, skipped []YearMonth) {
	earliest := now.AddDate(0, -retentionMonths, 0)
	for _, p := range pairs {
		t := time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
		if t.Before(time.Date(earliest.Year(), earliest.Month(), 1, 0, 0, 0, 0, time.UTC)) || t.After(now) {
			skipped = append(skipped, p)
			continue
		}
		inWindow = append(inWindow, p)
	}
	return inWindow, skipped
}
