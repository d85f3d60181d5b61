package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// ErrorKind classifies persistence failures.
type ErrorKind string

const (
	ConstraintViolation ErrorKind = "CONSTRAINT_VIOLATION"
	IOFailure           ErrorKind = "IO_FAILURE"
)

// PersistenceError attributes a write failure to one of the contract's kinds.
type PersistenceError struct {
	Kind ErrorKind
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// KindOf returns the persistence error kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// InvoiceRepository persists normalized invoices with idempotent upsert
// semantics and serves the read-only collaborators (export, dashboard).
type InvoiceRepository interface {
	Upsert(ctx context.Context, inv entity.Invoice, items []entity.LineItem) error
	List(ctx context.Context, vendor string, from, to *time.Time) ([]*entity.Invoice, error)
	LineItems(ctx context.Context, invoiceNumber string) ([]*entity.LineItem, error)
}

type invoiceRepository struct {
	store  *Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-invoice-number write locks
}

func NewInvoiceRepository(store *Store, logger *slog.Logger) InvoiceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &invoiceRepository{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// keyLock serializes concurrent writers of the same invoice_number so the
// delete/insert sequence never interleaves; distinct invoices stay concurrent.
func (r *invoiceRepository) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// Upsert replaces the invoice row and the FULL set of its line items in one
// transaction: delete old items, upsert the header, insert new items.
// A failure mid-write rolls back, leaving the prior state intact.
func (r *invoiceRepository) Upsert(ctx context.Context, inv entity.Invoice, items []entity.LineItem) error {
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return &PersistenceError{Kind: ConstraintViolation, Err: errors.New("empty invoice_number")}
	}
	for _, it := range items {
		if it.InvoiceNumber != inv.InvoiceNumber {
			return &PersistenceError{
				Kind: ConstraintViolation,
				Err:  fmt.Errorf("line item %d references %q, invoice is %q", it.LineIndex, it.InvoiceNumber, inv.InvoiceNumber),
			}
		}
	}

	lock := r.keyLock(inv.InvoiceNumber)
	lock.Lock()
	defer lock.Unlock()

	tx, err := r.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Kind: IOFailure, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx,
		r.store.rebind(`DELETE FROM line_items WHERE invoice_number = ?`),
		inv.InvoiceNumber,
	); err != nil {
		return classify(err)
	}

	var dueDate *string
	if inv.DueDate != nil {
		d := inv.DueDate.Format("2006-01-02")
		dueDate = &d
	}

	if _, err := tx.ExecContext(ctx, r.store.rebind(`
		INSERT INTO invoices (
			invoice_number, vendor_name, customer_name, issue_date, due_date,
			subtotal, tax, total, currency_code, source_document_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (invoice_number) DO UPDATE SET
			vendor_name        = excluded.vendor_name,
			customer_name      = excluded.customer_name,
			issue_date         = excluded.issue_date,
			due_date           = excluded.due_date,
			subtotal           = excluded.subtotal,
			tax                = excluded.tax,
			total              = excluded.total,
			currency_code      = excluded.currency_code,
			source_document_id = excluded.source_document_id,
			updated_at         = excluded.updated_at`),
		inv.InvoiceNumber, inv.VendorName, inv.CustomerName,
		inv.IssueDate.Format("2006-01-02"), dueDate,
		inv.Subtotal, inv.Tax, inv.Total, inv.CurrencyCode,
		inv.SourceDocumentID, now, now,
	); err != nil {
		return classify(err)
	}

	for _, it := range items {
		if _, err := tx.ExecContext(ctx, r.store.rebind(`
			INSERT INTO line_items (
				invoice_number, line_index, description, quantity, unit_price, line_total
			) VALUES (?, ?, ?, ?, ?, ?)`),
			it.InvoiceNumber, it.LineIndex, it.Description,
			it.Quantity, it.UnitPrice, it.LineTotal,
		); err != nil {
			return classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}

	r.logger.Debug("repository.upsert.ok",
		"invoice_number", inv.InvoiceNumber,
		"line_items", len(items),
	)
	return nil
}

// List returns invoices filtered by vendor substring and issue-date range,
// ordered by issue date. Reads take no lock: rows are only ever replaced
// wholesale inside a committed transaction.
func (r *invoiceRepository) List(ctx context.Context, vendor string, from, to *time.Time) ([]*entity.Invoice, error) {
	q := `SELECT invoice_number, vendor_name, customer_name, issue_date, due_date,
		subtotal, tax, total, currency_code, source_document_id, created_at, updated_at
		FROM invoices`
	var conds []string
	var args []any
	if v := strings.TrimSpace(vendor); v != "" {
		conds = append(conds, "vendor_name LIKE ?")
		args = append(args, "%"+v+"%")
	}
	if from != nil {
		conds = append(conds, "issue_date >= ?")
		args = append(args, from.Format("2006-01-02"))
	}
	if to != nil {
		conds = append(conds, "issue_date <= ?")
		args = append(args, to.Format("2006-01-02"))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY issue_date, invoice_number"

	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(q), args...)
	if err != nil {
		r.logger.Error("failed to list invoices", "error", err)
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// LineItems returns an invoice's items in line_index order.
func (r *invoiceRepository) LineItems(ctx context.Context, invoiceNumber string) ([]*entity.LineItem, error) {
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(`
		SELECT invoice_number, line_index, description, quantity, unit_price, line_total
		FROM line_items WHERE invoice_number = ? ORDER BY line_index`),
		invoiceNumber,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.LineItem
	for rows.Next() {
		var it entity.LineItem
		if err := rows.Scan(&it.InvoiceNumber, &it.LineIndex, &it.Description,
			&it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, classify(err)
		}
		out = append(out, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func scanInvoice(rows *sql.Rows) (*entity.Invoice, error) {
	var (
		inv        entity.Invoice
		issueDate  string
		dueDate    sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := rows.Scan(&inv.InvoiceNumber, &inv.VendorName, &inv.CustomerName,
		&issueDate, &dueDate, &inv.Subtotal, &inv.Tax, &inv.Total,
		&inv.CurrencyCode, &inv.SourceDocumentID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t, err := time.Parse("2006-01-02", issueDate)
	if err != nil {
		return nil, fmt.Errorf("stored issue_date %q: %w", issueDate, err)
	}
	inv.IssueDate = t
	if dueDate.Valid && dueDate.String != "" {
		d, err := time.Parse("2006-01-02", dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("stored due_date %q: %w", dueDate.String, err)
		}
		inv.DueDate = &d
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		inv.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		inv.UpdatedAt = ts
	}
	return &inv, nil
}

// classify maps driver errors to the persistence contract's kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == 19 { // SQLITE_CONSTRAINT
		return &PersistenceError{Kind: ConstraintViolation, Err: err}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && strings.HasPrefix(pe.Code, "23") { // integrity_constraint_violation
		return &PersistenceError{Kind: ConstraintViolation, Err: err}
	}
	return &PersistenceError{Kind: IOFailure, Err: err}
}
