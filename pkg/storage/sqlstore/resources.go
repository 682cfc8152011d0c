package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/storage"
)

const resourceColumns = `id, type, owner_id, deleted, shared_with, version`

func scanResource(row rowScanner) (*authz.Resource, error) {
	var (
		r      authz.Resource
		shares []byte
	)
	if err := row.Scan(&r.ID, &r.Type, &r.OwnerID, &r.Deleted, &shares, &r.Version); err != nil {
		return nil, err
	}
	if len(shares) > 0 {
		if err := json.Unmarshal(shares, &r.SharedWith); err != nil {
			return nil, fmt.Errorf("decode shares of %s: %w", r.ID, err)
		}
	}
	if len(r.SharedWith) == 0 {
		r.SharedWith = nil
	}
	return &r, nil
}

// GetResource returns the resource with id, including soft-deleted ones
func (s *Store) GetResource(ctx context.Context, id string) (*authz.Resource, error) {
	query := s.dialect.rebind(`SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`)
	r, err := scanResource(s.cm.Primary().QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify("get resource "+id, err)
	}
	return r, nil
}

// UpsertResource writes resource guarded by its version and rewrites the
// share index in the same transaction
func (s *Store) UpsertResource(ctx context.Context, resource *authz.Resource, expectedVersion int64) (version int64, err error) {
	op := "upsert resource " + resource.ID

	shares := resource.SharedWith
	if shares == nil {
		shares = []authz.ShareEntry{}
	}
	sharesJSON, err := json.Marshal(shares)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	next := expectedVersion + 1
	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx, s.dialect.rebind(`
			INSERT INTO resources (id, type, owner_id, deleted, shared_with, version)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`), resource.ID, resource.Type, resource.OwnerID, resource.Deleted, string(sharesJSON), next)
	} else {
		res, err = tx.ExecContext(ctx, s.dialect.rebind(`
			UPDATE resources
			SET type = ?, owner_id = ?, deleted = ?, shared_with = ?, version = ?
			WHERE id = ? AND version = ?
		`), resource.Type, resource.OwnerID, resource.Deleted, string(sharesJSON), next, resource.ID, expectedVersion)
	}
	if err != nil {
		return 0, classify(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = &authz.ConflictError{ResourceID: resource.ID, Expected: expectedVersion}
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM resource_shares WHERE resource_id = ?`), resource.ID); err != nil {
		return 0, classify(op, err)
	}
	insertShare := s.dialect.rebind(`INSERT INTO resource_shares (resource_id, user_id) VALUES (?, ?)`)
	for _, sh := range shares {
		if _, err = tx.ExecContext(ctx, insertShare, resource.ID, sh.UserID); err != nil {
			return 0, classify(op, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, classify(op, err)
	}
	return next, nil
}

// QueryResources pages through resources ordered by ID
func (s *Store) QueryResources(ctx context.Context, q authz.ResourceQuery) (*authz.ResourcePage, error) {
	after, err := storage.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := storage.ClampLimit(q.Limit)

	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id > ?`
	args := []interface{}{after}
	if !q.IncludeDeleted {
		query += ` AND deleted = ?`
		args = append(args, false)
	}
	if q.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, q.OwnerID)
	}
	if q.SharedWithUser != "" {
		query += ` AND id IN (SELECT resource_id FROM resource_shares WHERE user_id = ?)`
		args = append(args, q.SharedWithUser)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.cm.Replica().QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, classify("query resources", err)
	}
	defer rows.Close()

	resources := make([]*authz.Resource, 0, limit)
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, classify("query resources", err)
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query resources", err)
	}

	page := &authz.ResourcePage{Resources: resources}
	if len(resources) > limit {
		page.Resources = resources[:limit]
		page.NextCursor = storage.EncodeCursor(page.Resources[limit-1].ID)
	}
	return page, nil
}
