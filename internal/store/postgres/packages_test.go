package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"zigcheck/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

var packageRowColumns = []string{"id", "name", "url", "author", "description", "license", "language", "created_at"}

func TestCreatePackage_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	createdAt := time.Now().Truncate(time.Second)
	pkg := &store.Package{
		Name:        "zap",
		URL:         "https://github.com/example/zap",
		Author:      "example",
		Description: "fast logging",
		License:     "MIT",
		Language:    "Zig",
	}

	mock.ExpectQuery(`INSERT INTO packages`).
		WithArgs(pkg.Name, pkg.URL, pkg.Author, pkg.Description, pkg.License, pkg.Language).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), createdAt))

	if err := s.CreatePackage(context.Background(), pkg); err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}
	if pkg.ID != 42 {
		t.Errorf("got ID %d, want 42", pkg.ID)
	}
	if !pkg.CreatedAt.Equal(createdAt) {
		t.Errorf("got CreatedAt %v, want %v", pkg.CreatedAt, createdAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreatePackage_DuplicateURL(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`INSERT INTO packages`).
		WillReturnError(&pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "packages_url_key"`})

	err := s.CreatePackage(context.Background(), &store.Package{Name: "zap", URL: "https://github.com/example/zap"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetPackageByID_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	createdAt := time.Now().Truncate(time.Second)
	mock.ExpectQuery(`SELECT id, name, url, author, description, license, language, created_at FROM packages WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(packageRowColumns).
			AddRow(int64(7), "zap", "https://github.com/example/zap", "example", "", "MIT", "Zig", createdAt))

	pkg, err := s.GetPackageByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetPackageByID failed: %v", err)
	}
	if pkg.Name != "zap" || pkg.License != "MIT" {
		t.Errorf("unexpected package: %+v", pkg)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetPackageByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM packages WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	pkg, err := s.GetPackageByID(context.Background(), 99)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
	if pkg != nil {
		t.Error("expected nil package")
	}
}

func TestGetPackageByURL_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM packages WHERE url = \$1`).
		WithArgs("https://github.com/example/none").
		WillReturnRows(sqlmock.NewRows(packageRowColumns))

	_, err := s.GetPackageByURL(context.Background(), "https://github.com/example/none")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestPackageExists(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM packages WHERE id = \$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(43)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := s.PackageExists(context.Background(), 42)
	if err != nil || !ok {
		t.Errorf("PackageExists(42) = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.PackageExists(context.Background(), 43)
	if err != nil || ok {
		t.Errorf("PackageExists(43) = %v, %v; want false, nil", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListPackages(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM packages ORDER BY id ASC`).
		WillReturnRows(sqlmock.NewRows(packageRowColumns).
			AddRow(int64(1), "a", "https://github.com/x/a", "", "", "", "", now).
			AddRow(int64(2), "b", "https://github.com/x/b", "", "", "", "", now))

	pkgs, err := s.ListPackages(context.Background())
	if err != nil {
		t.Fatalf("ListPackages failed: %v", err)
	}
	if len(pkgs) != 2 || pkgs[0].ID != 1 || pkgs[1].Name != "b" {
		t.Errorf("unexpected packages: %+v", pkgs)
	}
}

func TestDeletePackage(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`DELETE FROM packages WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM packages WHERE id = \$1`).
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeletePackage(context.Background(), 5); err != nil {
		t.Errorf("DeletePackage(5) failed: %v", err)
	}
	if err := s.DeletePackage(context.Background(), 6); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeletePackage(6) error = %v, want store.ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
