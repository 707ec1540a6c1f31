package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"zigcheck/internal/store"
)

// UpsertBuildResult writes the single row for (package_id, zig_version),
// replacing whatever was there.
func (s *Store) UpsertBuildResult(ctx context.Context, r *store.BuildResult) error {
	query := `
		INSERT INTO build_results (package_id, zig_version, build_status, test_status, error_log, last_checked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (package_id, zig_version) DO UPDATE SET
			build_status = EXCLUDED.build_status,
			test_status  = EXCLUDED.test_status,
			error_log    = EXCLUDED.error_log,
			last_checked = EXCLUDED.last_checked
	`

	if r.LastChecked.IsZero() {
		r.LastChecked = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		r.PackageID,
		r.ZigVersion,
		string(r.BuildStatus),
		nullableTestStatus(r.TestStatus),
		r.ErrorLog,
		r.LastChecked,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert build result %d/%s: %w", r.PackageID, r.ZigVersion, err)
	}
	return nil
}

func (s *Store) GetBuildResults(ctx context.Context, packageID int64) ([]store.BuildResult, error) {
	query := `
		SELECT package_id, zig_version, build_status, test_status, error_log, last_checked
		FROM build_results
		WHERE package_id = $1
		ORDER BY last_checked DESC
	`

	rows, err := s.db.QueryContext(ctx, query, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get build results for package %d: %w", packageID, err)
	}
	defer rows.Close()

	results := []store.BuildResult{}
	for rows.Next() {
		var (
			r          store.BuildResult
			status     string
			testStatus sql.NullString
		)
		if err := rows.Scan(&r.PackageID, &r.ZigVersion, &status, &testStatus, &r.ErrorLog, &r.LastChecked); err != nil {
			return nil, err
		}
		r.BuildStatus = store.BuildStatus(status)
		r.TestStatus = store.TestStatus(testStatus.String)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) RecordedVersions(ctx context.Context, packageID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT zig_version FROM build_results WHERE package_id = $1", packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get recorded versions for package %d: %w", packageID, err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ListStalledBuilds returns packages with at least one pending row whose
// last_checked is before olderThan.
func (s *Store) ListStalledBuilds(ctx context.Context, olderThan time.Time) ([]int64, error) {
	query := `
		SELECT DISTINCT package_id
		FROM build_results
		WHERE build_status = $1 AND last_checked < $2
		ORDER BY package_id
	`

	rows, err := s.db.QueryContext(ctx, query, string(store.BuildStatusPending), olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled builds: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableTestStatus(ts store.TestStatus) sql.NullString {
	if ts == store.TestStatusNone {
		return sql.NullString{}
	}
	return sql.NullString{String: string(ts), Valid: true}
}
