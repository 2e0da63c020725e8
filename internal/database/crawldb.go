package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/a11ycrawl/internal/model"
)

// FileName is the database file created in the database directory.
const FileName = "a11ycrawl.db"

// timeLayout is fixed-width so stored times sort as text.
const timeLayout = "2006-01-02 15:04:05.000"

// CrawlDB stores finished crawls and their pages.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file; mode=rwc creates it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}
	dsn += "&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; batch crawls share this handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per finished crawl
	CREATE TABLE IF NOT EXISTS crawls (
		crawl_id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		test_name TEXT NOT NULL,
		root_url TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		pages INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		max_depth_reached INTEGER NOT NULL DEFAULT 0,
		stopped INTEGER NOT NULL DEFAULT 0,
		auth_completeness TEXT,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_crawls_domain ON crawls(domain);
	CREATE INDEX IF NOT EXISTS idx_crawls_start ON crawls(start_time);

	-- Pages discovered by a crawl
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id TEXT NOT NULL REFERENCES crawls(crawl_id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		depth INTEGER NOT NULL,
		parent_url TEXT,
		source TEXT NOT NULL,
		status_code INTEGER,
		content_type TEXT,
		title TEXT,
		word_count INTEGER NOT NULL DEFAULT 0,
		last_modified TEXT,
		UNIQUE(crawl_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_crawl ON pages(crawl_id);
	CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveCrawl stores report and its pages in one transaction. Saving the
// same crawl ID again replaces the earlier rows.
func (cdb *CrawlDB) SaveCrawl(ctx context.Context, report *model.CrawlReport) (err error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, q := range []string{
		`DELETE FROM pages WHERE crawl_id = ?`,
		`DELETE FROM crawls WHERE crawl_id = ?`,
	} {
		if _, err = tx.ExecContext(ctx, q, report.CrawlID); err != nil {
			return fmt.Errorf("failed to replace crawl: %w", err)
		}
	}

	var endTime sql.NullString
	if !report.EndTime.IsZero() {
		endTime = sql.NullString{String: formatTime(report.EndTime), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO crawls (crawl_id, domain, test_name, root_url, start_time, end_time, pages, errors, max_depth_reached, stopped, auth_completeness, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.CrawlID,
		Domain(report.RootURL),
		report.TestName,
		report.RootURL,
		formatTime(report.StartTime),
		endTime,
		len(report.Pages),
		len(report.Errors),
		report.Summary.MaxDepthReached,
		report.Stopped,
		string(report.Authentication.Completeness),
		string(reportJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save crawl: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO pages (crawl_id, url, depth, parent_url, source, status_code, content_type, title, word_count, last_modified)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(crawl_id, url) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare page insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range report.Pages {
		if _, err = stmt.ExecContext(ctx,
			report.CrawlID,
			p.URL,
			p.Depth,
			p.ParentURL,
			string(p.Source),
			p.StatusCode,
			p.ContentType,
			p.Title,
			p.WordCount,
			p.LastModified,
		); err != nil {
			return fmt.Errorf("failed to save page %s: %w", p.URL, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit crawl: %w", err)
	}
	return nil
}

// Persist stores report and returns "<db path>#<crawl id>".
func (cdb *CrawlDB) Persist(ctx context.Context, report *model.CrawlReport) (string, error) {
	if err := cdb.SaveCrawl(ctx, report); err != nil {
		return "", err
	}
	return cdb.dbPath + "#" + report.CrawlID, nil
}

// CrawlSummary is one row of crawl history, without the pages.
type CrawlSummary struct {
	CrawlID          string
	Domain           string
	TestName         string
	RootURL          string
	StartTime        time.Time
	EndTime          time.Time
	Pages            int
	Errors           int
	MaxDepthReached  int
	Stopped          bool
	AuthCompleteness model.AuthCompleteness
}

// ListCrawls returns the crawls of domain, newest first. An empty domain
// lists every crawl. limit <= 0 means no limit.
func (cdb *CrawlDB) ListCrawls(ctx context.Context, domain string, limit int) ([]CrawlSummary, error) {
	query := `
	SELECT crawl_id, domain, test_name, root_url, start_time, end_time, pages, errors, max_depth_reached, stopped, auth_completeness
	FROM crawls
	WHERE 1=1
	`
	args := make([]any, 0, 2)

	if domain != "" {
		query += " AND domain = ?"
		args = append(args, Domain(domain))
	}
	query += " ORDER BY start_time DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawls: %w", err)
	}
	defer rows.Close()

	var results []CrawlSummary
	for rows.Next() {
		var s CrawlSummary
		var start string
		var end, completeness sql.NullString

		if err := rows.Scan(
			&s.CrawlID,
			&s.Domain,
			&s.TestName,
			&s.RootURL,
			&start,
			&end,
			&s.Pages,
			&s.Errors,
			&s.MaxDepthReached,
			&s.Stopped,
			&completeness,
		); err != nil {
			return nil, fmt.Errorf("failed to scan crawl: %w", err)
		}
		s.StartTime = parseTimestamp(start)
		if end.Valid {
			s.EndTime = parseTimestamp(end.String)
		}
		s.AuthCompleteness = model.AuthCompleteness(completeness.String)
		results = append(results, s)
	}

	return results, rows.Err()
}

// GetCrawl returns the stored report of crawlID, or nil when there is none.
func (cdb *CrawlDB) GetCrawl(ctx context.Context, crawlID string) (*model.CrawlReport, error) {
	var reportJSON string
	err := cdb.db.QueryRowContext(ctx, `SELECT report_json FROM crawls WHERE crawl_id = ?`, crawlID).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl: %w", err)
	}

	var report model.CrawlReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}

// GetPages returns the pages of crawlID in discovery order.
func (cdb *CrawlDB) GetPages(ctx context.Context, crawlID string) ([]model.PageRecord, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT url, depth, parent_url, source, status_code, content_type, title, word_count, last_modified
	FROM pages
	WHERE crawl_id = ?
	ORDER BY id
	`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pages: %w", err)
	}
	defer rows.Close()

	var pages []model.PageRecord
	for rows.Next() {
		var p model.PageRecord
		var parent, source, contentType, title, lastModified sql.NullString
		var status sql.NullInt64

		if err := rows.Scan(&p.URL, &p.Depth, &parent, &source, &status, &contentType, &title, &p.WordCount, &lastModified); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.ParentURL = parent.String
		p.Source = model.Source(source.String)
		p.StatusCode = int(status.Int64)
		p.ContentType = contentType.String
		p.Title = title.String
		p.LastModified = lastModified.String
		pages = append(pages, p)
	}

	return pages, rows.Err()
}

// ListDomains returns every crawled domain.
func (cdb *CrawlDB) ListDomains(ctx context.Context) ([]string, error) {
	rows, err := cdb.db.QueryContext(ctx, `SELECT DISTINCT domain FROM crawls ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, d)
	}

	return domains, rows.Err()
}

// DeleteCrawl removes a crawl and its pages. It reports whether a crawl
// was removed.
func (cdb *CrawlDB) DeleteCrawl(ctx context.Context, crawlID string) (bool, error) {
	if _, err := cdb.db.ExecContext(ctx, `DELETE FROM pages WHERE crawl_id = ?`, crawlID); err != nil {
		return false, fmt.Errorf("failed to delete pages: %w", err)
	}
	result, err := cdb.db.ExecContext(ctx, `DELETE FROM crawls WHERE crawl_id = ?`, crawlID)
	if err != nil {
		return false, fmt.Errorf("failed to delete crawl: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete crawl: %w", err)
	}
	return n > 0, nil
}

// Domain reduces a root URL or bare host to the lower-case host name used
// as the history key.
func Domain(rootURL string) string {
	s := strings.TrimSpace(rootURL)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(strings.TrimSpace(rootURL))
	}
	return strings.ToLower(u.Hostname())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timeLayout,
	"2006-01-02 15:04:05",  // SQLite default datetime format
	"2006-01-02T15:04:05Z", // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",  // ISO 8601 without timezone
	time.RFC3339,
	time.RFC3339Nano,
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
