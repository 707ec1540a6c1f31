package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"zigcheck/internal/store"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const packageColumns = "id, name, url, author, description, license, language, created_at"

// CreatePackage inserts a package and fills in its generated ID and CreatedAt.
func (s *Store) CreatePackage(ctx context.Context, pkg *store.Package) error {
	query := `
		INSERT INTO packages (name, url, author, description, license, language)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		pkg.Name,
		pkg.URL,
		pkg.Author,
		pkg.Description,
		pkg.License,
		pkg.Language,
	).Scan(&pkg.ID, &pkg.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("package %s: %w", pkg.URL, store.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create package %s: %w", pkg.URL, err)
	}
	return nil
}

func (s *Store) GetPackageByID(ctx context.Context, id int64) (*store.Package, error) {
	query := "SELECT " + packageColumns + " FROM packages WHERE id = $1"
	return scanPackage(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetPackageByURL(ctx context.Context, url string) (*store.Package, error) {
	query := "SELECT " + packageColumns + " FROM packages WHERE url = $1"
	return scanPackage(s.db.QueryRowContext(ctx, query, url))
}

func (s *Store) PackageExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM packages WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check package %d: %w", id, err)
	}
	return exists, nil
}

func (s *Store) ListPackages(ctx context.Context) ([]store.Package, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+packageColumns+" FROM packages ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var packages []store.Package
	for rows.Next() {
		var p store.Package
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.Author, &p.Description, &p.License, &p.Language, &p.CreatedAt); err != nil {
			return nil, err
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// DeletePackage removes a package; its build results go with it.
func (s *Store) DeletePackage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM packages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete package %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanPackage(row *sql.Row) (*store.Package, error) {
	var p store.Package
	err := row.Scan(&p.ID, &p.Name, &p.URL, &p.Author, &p.Description, &p.License, &p.Language, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
