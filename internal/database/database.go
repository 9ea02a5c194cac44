package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/MiracleAig/IoT-WebUI/internal/logger"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

const driverName = "sqlite"

// MaxScanRows caps every scan history query.
const MaxScanRows = 200

// DB interface defines the methods our database should implement
type DB interface {
	GetProduct(ctx context.Context, barcode string) (*models.Product, error)
	UpsertProduct(ctx context.Context, p *models.Product) error
	InsertScan(ctx context.Context, scan *models.ScanRecord) error
	ListScans(ctx context.Context, filter models.ScanFilter) ([]*models.ScanRecord, error)
	SummarizeDay(ctx context.Context, day string) (*models.Summary, error)
	Ping(ctx context.Context) error
	Close() error
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db *sql.DB
}

// dsn enables WAL and a busy timeout on every pooled connection.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// NewSQLiteDB applies pending migrations to the database at dbPath and opens it.
func NewSQLiteDB(dbPath string, log *zap.Logger) (*SQLiteDB, error) {
	log = logger.OrNop(log)

	m, err := NewMigrator(dbPath, log)
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil {
		m.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}
	if err := m.Close(); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	log.Info("Database ready", zap.String("path", dbPath))
	return &SQLiteDB{db: db}, nil
}

// NewWithConn wraps an existing connection whose schema is already in place.
func NewWithConn(db *sql.DB) *SQLiteDB {
	return &SQLiteDB{db: db}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorage, err)
}

// GetProduct returns the cached product for barcode, or nil when there is none.
func (s *SQLiteDB) GetProduct(ctx context.Context, barcode string) (*models.Product, error) {
	query := `
		SELECT barcode, name, calories, protein, carbs, fat, image_url, source, updated_at
		FROM products WHERE barcode = ?
	`

	var (
		p                        models.Product
		name, imageURL           sql.NullString
		source, updatedAt        sql.NullString
		calories, protein, carbs sql.NullFloat64
		fat                      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, query, barcode).Scan(
		&p.Barcode, &name, &calories, &protein, &carbs, &fat,
		&imageURL, &source, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get product", err)
	}

	p.Name = stringPtr(name)
	p.Calories = floatPtr(calories)
	p.Protein = floatPtr(protein)
	p.Carbs = floatPtr(carbs)
	p.Fat = floatPtr(fat)
	p.ImageURL = stringPtr(imageURL)
	p.Source = source.String
	p.UpdatedAt = updatedAt.String
	return &p, nil
}

// UpsertProduct stores p, replacing every column of an existing row for the
// same barcode.
func (s *SQLiteDB) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (
			barcode, name, calories, protein, carbs, fat, image_url, source, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(barcode) DO UPDATE SET
			name = excluded.name,
			calories = excluded.calories,
			protein = excluded.protein,
			carbs = excluded.carbs,
			fat = excluded.fat,
			image_url = excluded.image_url,
			source = excluded.source,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		p.Barcode, p.Name, p.Calories, p.Protein, p.Carbs, p.Fat,
		p.ImageURL, p.Source, p.UpdatedAt,
	)
	if err != nil {
		return storageErr("upsert product", err)
	}
	return nil
}

// InsertScan appends a scan row and sets scan.ID.
func (s *SQLiteDB) InsertScan(ctx context.Context, scan *models.ScanRecord) error {
	query := `
		INSERT INTO scans (ts, barcode, name, calories, protein, carbs, fat, image_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		scan.Timestamp, scan.Barcode, scan.Name,
		scan.Calories, scan.Protein, scan.Carbs, scan.Fat, scan.ImageURL,
	)
	if err != nil {
		return storageErr("insert scan", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("insert scan", err)
	}
	scan.ID = id
	return nil
}

// ListScans returns scans matching filter, newest first, at most MaxScanRows.
func (s *SQLiteDB) ListScans(ctx context.Context, filter models.ScanFilter) ([]*models.ScanRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Date != "" {
		where = append(where, "substr(ts, 1, 10) = ?")
		args = append(args, filter.Date)
	}
	if filter.Barcode != "" {
		where = append(where, "barcode = ?")
		args = append(args, filter.Barcode)
	}

	limit := filter.Limit
	if limit <= 0 || limit > MaxScanRows {
		limit = MaxScanRows
	}

	var b strings.Builder
	b.WriteString("SELECT id, ts, barcode, name, calories, protein, carbs, fat, image_url FROM scans")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ts DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, storageErr("list scans", err)
	}
	defer rows.Close()

	results := make([]*models.ScanRecord, 0)
	for rows.Next() {
		var (
			rec                      models.ScanRecord
			name, imageURL           sql.NullString
			calories, protein, carbs sql.NullFloat64
			fat                      sql.NullFloat64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.Barcode, &name,
			&calories, &protein, &carbs, &fat, &imageURL,
		); err != nil {
			return nil, storageErr("scan row", err)
		}
		rec.Name = stringPtr(name)
		rec.Calories = floatPtr(calories)
		rec.Protein = floatPtr(protein)
		rec.Carbs = floatPtr(carbs)
		rec.Fat = floatPtr(fat)
		rec.ImageURL = stringPtr(imageURL)
		results = append(results, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list scans", err)
	}
	return results, nil
}

// SummarizeDay totals the macros of every scan logged on day (YYYY-MM-DD).
// Missing values count as zero.
func (s *SQLiteDB) SummarizeDay(ctx context.Context, day string) (*models.Summary, error) {
	query := `
		SELECT
			COALESCE(SUM(calories), 0),
			COALESCE(SUM(protein), 0),
			COALESCE(SUM(carbs), 0),
			COALESCE(SUM(fat), 0),
			COUNT(*)
		FROM scans
		WHERE substr(ts, 1, 10) = ?
	`

	sum := &models.Summary{Date: day}
	err := s.db.QueryRowContext(ctx, query, day).Scan(
		&sum.Calories, &sum.Protein, &sum.Carbs, &sum.Fat, &sum.Scans,
	)
	if err != nil {
		return nil, storageErr("summarize day", err)
	}
	return sum, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
