package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/connectq/internal/company"
)

// companyColumns is the column list shared by every Company SELECT.
const companyColumns = `id, user_id, name, email, description, industry, location,
    services, technologies, specializations, tagline, cost_range,
    delivery_duration, employee_count, social_links, logo_url,
    created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateCompany inserts c and records an "upserted" event in one transaction.
// An empty ID is replaced with a new UUID. CreatedAt and UpdatedAt are set by
// the store. Returns ErrDuplicateOwner when c.UserID already owns a Company.
func (s *SQLiteStore) CreateCompany(ctx context.Context, c company.Company) (company.Company, error) {
	if err := c.Validate(); err != nil {
		return company.Company{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	c.CreatedAt, c.UpdatedAt = now, now

	enc, err := encodeCompany(c)
	if err != nil {
		return company.Company{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		const q = `
INSERT INTO companies (` + companyColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q,
			c.ID, c.UserID, c.Name, c.Email, c.Description, c.Industry, c.Location,
			enc.services, enc.technologies, enc.specializations, c.Tagline, c.CostRange,
			c.DeliveryDuration, c.EmployeeCount, enc.socialLinks, c.LogoURL,
			now.Unix(), now.Unix(),
		); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateOwner
			}
			return fmt.Errorf("store: create company: %w", err)
		}
		return insertEvent(ctx, tx, c.ID, EventUpserted, now)
	})
	if err != nil {
		return company.Company{}, err
	}
	return c, nil
}

// UpdateCompany replaces every mutable field of the Company with c.ID and
// records an "upserted" event in one transaction. CreatedAt is preserved.
func (s *SQLiteStore) UpdateCompany(ctx context.Context, c company.Company) (company.Company, error) {
	if err := c.Validate(); err != nil {
		return company.Company{}, err
	}
	now := time.Now().UTC().Truncate(time.Second)

	enc, err := encodeCompany(c)
	if err != nil {
		return company.Company{}, err
	}

	var out company.Company
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		const q = `
UPDATE companies SET
    user_id = ?, name = ?, email = ?, description = ?, industry = ?, location = ?,
    services = ?, technologies = ?, specializations = ?, tagline = ?, cost_range = ?,
    delivery_duration = ?, employee_count = ?, social_links = ?, logo_url = ?,
    updated_at = ?
WHERE id = ?`
		res, err := tx.ExecContext(ctx, q,
			c.UserID, c.Name, c.Email, c.Description, c.Industry, c.Location,
			enc.services, enc.technologies, enc.specializations, c.Tagline, c.CostRange,
			c.DeliveryDuration, c.EmployeeCount, enc.socialLinks, c.LogoURL,
			now.Unix(), c.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateOwner
			}
			return fmt.Errorf("store: update company: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		row := tx.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, c.ID)
		if out, err = scanCompany(row); err != nil {
			return fmt.Errorf("store: update company: reload: %w", err)
		}
		return insertEvent(ctx, tx, c.ID, EventUpserted, now)
	})
	if err != nil {
		return company.Company{}, err
	}
	return out, nil
}

// DeleteCompany removes the Company and records a "deleted" event in one
// transaction. Returns ErrNotFound if no such Company exists.
func (s *SQLiteStore) DeleteCompany(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete company: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return insertEvent(ctx, tx, id, EventDeleted, time.Now().UTC())
	})
}

// GetCompany returns the Company with the given id, or ErrNotFound.
func (s *SQLiteStore) GetCompany(ctx context.Context, id string) (company.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id)
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return company.Company{}, ErrNotFound
	}
	if err != nil {
		return company.Company{}, fmt.Errorf("store: get company: %w", err)
	}
	return c, nil
}

// ListCompanies returns every Company ordered by creation time.
func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]company.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list companies: %w", err)
	}
	defer rows.Close()

	var out []company.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list companies scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list companies rows: %w", err)
	}
	return out, nil
}

// GetCompaniesByIDs loads the given ids with a single IN query and returns
// them keyed by id. Missing ids are simply absent from the map.
func (s *SQLiteStore) GetCompaniesByIDs(ctx context.Context, ids []string) (map[string]company.Company, error) {
	out := make(map[string]company.Company, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + companyColumns + ` FROM companies WHERE id IN (` + placeholders(len(ids)) + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get companies by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("store: get companies by ids scan: %w", err)
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get companies by ids rows: %w", err)
	}
	return out, nil
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// encodedCompany holds the JSON-encoded collection columns.
type encodedCompany struct {
	services        string
	technologies    string
	specializations string
	socialLinks     string
}

func encodeCompany(c company.Company) (encodedCompany, error) {
	var enc encodedCompany
	var err error
	if enc.services, err = encodeJSON(c.Services, "[]"); err != nil {
		return enc, err
	}
	if enc.technologies, err = encodeJSON(c.Technologies, "[]"); err != nil {
		return enc, err
	}
	if enc.specializations, err = encodeJSON(c.Specializations, "[]"); err != nil {
		return enc, err
	}
	if enc.socialLinks, err = encodeJSON(c.SocialLinks, "{}"); err != nil {
		return enc, err
	}
	return enc, nil
}

// encodeJSON marshals v, substituting empty when v is a nil slice or map.
func encodeJSON[T ~[]string | ~map[string]string](v T, empty string) (string, error) {
	if len(v) == 0 {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: encode column: %w", err)
	}
	return string(b), nil
}

// scanCompany reads one row selected with companyColumns.
func scanCompany(r rowScanner) (company.Company, error) {
	var c company.Company
	var services, techs, specs, links string
	var createdAt, updatedAt, employeeCount int64
	if err := r.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Email, &c.Description, &c.Industry, &c.Location,
		&services, &techs, &specs, &c.Tagline, &c.CostRange,
		&c.DeliveryDuration, &employeeCount, &links, &c.LogoURL,
		&createdAt, &updatedAt,
	); err != nil {
		return company.Company{}, err
	}
	c.EmployeeCount = int(employeeCount)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	for _, col := range []struct {
		raw string
		dst any
	}{
		{services, &c.Services},
		{techs, &c.Technologies},
		{specs, &c.Specializations},
		{links, &c.SocialLinks},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return company.Company{}, fmt.Errorf("decode column for %s: %w", c.ID, err)
		}
	}
	return c, nil
}
