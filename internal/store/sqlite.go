package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// MemoryDSN opens a private in-memory database
const MemoryDSN = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS invoice_summaries (
	seq                       INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id               TEXT NOT NULL UNIQUE,
	source                    TEXT NOT NULL DEFAULT '',
	invoice_number            TEXT NOT NULL DEFAULT '',
	vendor                    TEXT NOT NULL DEFAULT '',
	invoice_date              TEXT,
	tolerance                 TEXT NOT NULL,
	total_items               INTEGER NOT NULL,
	items_with_variance       INTEGER NOT NULL,
	high_variance_items       INTEGER NOT NULL,
	total_variance            TEXT NOT NULL,
	total_variance_percentage TEXT NOT NULL,
	fields                    TEXT NOT NULL,
	validation_issues         TEXT NOT NULL,
	saved_at                  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoice_summaries_date ON invoice_summaries (invoice_date);

CREATE TABLE IF NOT EXISTS item_analyses (
	analysis_id         TEXT NOT NULL REFERENCES invoice_summaries (analysis_id) ON DELETE CASCADE,
	line                INTEGER NOT NULL,
	description         TEXT NOT NULL,
	quantity            TEXT NOT NULL,
	quantity_inferred   INTEGER NOT NULL,
	unit_price          TEXT NOT NULL,
	amount              TEXT NOT NULL,
	matched             INTEGER NOT NULL,
	item_code           TEXT NOT NULL DEFAULT '',
	expected_unit_price TEXT NOT NULL,
	expected_total      TEXT NOT NULL,
	variance            TEXT NOT NULL,
	variance_percentage TEXT NOT NULL,
	within_tolerance    INTEGER NOT NULL,
	notes               TEXT NOT NULL,
	PRIMARY KEY (analysis_id, line)
);
`

// SQLiteStore implements HistoryStore on an embedded SQLite database.
// Decimals are stored as their exact string form.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "open", err).WithContext("path", path)
	}
	// One connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "open", err).WithContext("path", path)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "migrate", err).WithContext("path", path)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.WithComponent("store").WithField("path", path),
		now:    time.Now,
	}
	s.logger.Debug("history store opened")
	return s, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.StorageError(errors.CodeStoreUnavailable, "close", err)
	}
	return nil
}

// Save writes one summary row and one row per item analysis in a single transaction
func (s *SQLiteStore) Save(ctx context.Context, result *models.ComparisonResult) error {
	fields, err := json.Marshal(result.Fields)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode fields", err)
	}
	issues, err := json.Marshal(result.ValidationIssues)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode validation issues", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStoreUnavailable, "save", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM invoice_summaries WHERE analysis_id = ?`, result.AnalysisID).Scan(&exists)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save", err)
	}
	if exists > 0 {
		return errors.StorageError(errors.CodeDuplicateRecord, "save", nil).
			WithContext("analysis_id", result.AnalysisID).
			WithContext("invoice_number", result.InvoiceNumber)
	}

	var invoiceDate sql.NullString
	if result.InvoiceDate != nil {
		invoiceDate = sql.NullString{String: result.InvoiceDate.Format(models.DateLayout), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoice_summaries (
			analysis_id, source, invoice_number, vendor, invoice_date, tolerance,
			total_items, items_with_variance, high_variance_items,
			total_variance, total_variance_percentage, fields, validation_issues, saved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.AnalysisID,
		result.Source,
		result.InvoiceNumber,
		result.Vendor,
		invoiceDate,
		result.Tolerance.String(),
		result.Summary.TotalItems,
		result.Summary.ItemsWithVariance,
		result.Summary.HighVarianceItems,
		result.Summary.TotalVariance.String(),
		result.Summary.TotalVariancePercentage.String(),
		string(fields),
		string(issues),
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save summary", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO item_analyses (
			analysis_id, line, description, quantity, quantity_inferred, unit_price, amount,
			matched, item_code, expected_unit_price, expected_total, variance,
			variance_percentage, within_tolerance, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save items", err)
	}
	defer stmt.Close()

	for i, a := range result.Items {
		notes, err := json.Marshal(a.Notes)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "encode notes", err)
		}
		_, err = stmt.ExecContext(ctx,
			result.AnalysisID,
			i,
			a.Item.Description,
			a.Item.Quantity.String(),
			a.Item.QuantityInferred,
			a.Item.UnitPrice.String(),
			a.Item.Amount.String(),
			a.Matched,
			a.ItemCode,
			a.ExpectedUnitPrice.String(),
			a.ExpectedTotal.String(),
			a.Variance.String(),
			a.VariancePercentage.String(),
			a.WithinTolerance,
			string(notes),
		)
		if err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "save items", err).WithContext("line", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "commit", err)
	}

	s.logger.WithFields(logger.Fields{
		"analysis_id": result.AnalysisID,
		"items":       len(result.Items),
	}).Debug("result saved")
	return nil
}

// History loads stored results in chronological order
func (s *SQLiteStore) History(ctx context.Context, filter HistoryFilter) ([]*models.ComparisonResult, error) {
	query := `
		SELECT analysis_id, source, invoice_number, vendor, invoice_date, tolerance,
			   total_items, items_with_variance, high_variance_items,
			   total_variance, total_variance_percentage, fields, validation_issues
		FROM invoice_summaries
		WHERE 1 = 1`
	var args []interface{}
	if filter.Bounded() {
		query += ` AND invoice_date IS NOT NULL`
	}
	if filter.Start != nil {
		query += ` AND invoice_date >= ?`
		args = append(args, filter.Start.Format(models.DateLayout))
	}
	if filter.End != nil {
		query += ` AND invoice_date <= ?`
		args = append(args, filter.End.Format(models.DateLayout))
	}
	query += ` ORDER BY invoice_date IS NULL, invoice_date, seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "history", err)
	}
	defer rows.Close()

	var results []*models.ComparisonResult
	for rows.Next() {
		r, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "history", err)
	}
	rows.Close()

	for _, r := range results {
		if r.Items, err = s.items(ctx, r.AnalysisID); err != nil {
			return nil, err
		}
	}

	s.logger.WithField("results", len(results)).Debug("history loaded")
	return results, nil
}

func scanSummary(rows *sql.Rows) (*models.ComparisonResult, error) {
	var (
		r           models.ComparisonResult
		invoiceDate sql.NullString
		fields      string
		issues      string
	)
	err := rows.Scan(
		&r.AnalysisID, &r.Source, &r.InvoiceNumber, &r.Vendor, &invoiceDate, &r.Tolerance,
		&r.Summary.TotalItems, &r.Summary.ItemsWithVariance, &r.Summary.HighVarianceItems,
		&r.Summary.TotalVariance, &r.Summary.TotalVariancePercentage, &fields, &issues,
	)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "scan summary", err)
	}

	if invoiceDate.Valid {
		d, err := time.Parse(models.DateLayout, invoiceDate.String)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "scan summary",
				fmt.Errorf("invalid stored date %q: %w", invoiceDate.String, err))
		}
		r.InvoiceDate = &d
	}
	if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "decode fields", err)
	}
	if err := json.Unmarshal([]byte(issues), &r.ValidationIssues); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "decode validation issues", err)
	}
	return &r, nil
}

func (s *SQLiteStore) items(ctx context.Context, analysisID string) ([]models.ItemAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT description, quantity, quantity_inferred, unit_price, amount,
			   matched, item_code, expected_unit_price, expected_total, variance,
			   variance_percentage, within_tolerance, notes
		FROM item_analyses
		WHERE analysis_id = ?
		ORDER BY line`, analysisID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "load items", err)
	}
	defer rows.Close()

	items := make([]models.ItemAnalysis, 0)
	for rows.Next() {
		var (
			a     models.ItemAnalysis
			notes string
		)
		if err := rows.Scan(
			&a.Item.Description, &a.Item.Quantity, &a.Item.QuantityInferred, &a.Item.UnitPrice, &a.Item.Amount,
			&a.Matched, &a.ItemCode, &a.ExpectedUnitPrice, &a.ExpectedTotal, &a.Variance,
			&a.VariancePercentage, &a.WithinTolerance, &notes,
		); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "scan item", err)
		}
		if err := json.Unmarshal([]byte(notes), &a.Notes); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "decode notes", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "load items", err)
	}
	return items, nil
}
