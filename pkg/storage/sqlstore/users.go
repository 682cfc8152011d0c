package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/storage"
)

// getUsersBatch bounds the size of one IN list
const getUsersBatch = 500

const userColumns = `id, email, level, custom_permissions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*authz.User, error) {
	var (
		u     authz.User
		level int
		perms []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &level, &perms); err != nil {
		return nil, err
	}
	u.Level = authz.PermissionLevel(level)
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &u.CustomPermissions); err != nil {
			return nil, fmt.Errorf("decode custom permissions of %s: %w", u.ID, err)
		}
		if len(u.CustomPermissions) == 0 {
			u.CustomPermissions = nil
		}
	}
	return &u, nil
}

func encodeOverrides(o authz.Overrides) (string, error) {
	if o == nil {
		o = authz.Overrides{}
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// PutUser inserts or replaces a user row. History is left untouched.
func (s *Store) PutUser(ctx context.Context, u *authz.User) error {
	perms, err := encodeOverrides(u.CustomPermissions)
	if err != nil {
		return fmt.Errorf("put user %s: %w", u.ID, err)
	}
	query := s.dialect.rebind(`
		INSERT INTO users (id, email, level, custom_permissions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			level = excluded.level,
			custom_permissions = excluded.custom_permissions
	`)
	_, err = s.cm.Primary().ExecContext(ctx, query, u.ID, strings.ToLower(u.Email), int(u.Level), perms)
	return classify("put user "+u.ID, err)
}

// GetUser returns the user with id, including permission history
func (s *Store) GetUser(ctx context.Context, id string) (*authz.User, error) {
	query := s.dialect.rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	u, err := scanUser(s.cm.Primary().QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify("get user "+id, err)
	}
	if u.PermissionHistory, err = s.history(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByEmail looks a user up by lowercased email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authz.User, error) {
	query := s.dialect.rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	u, err := scanUser(s.cm.Primary().QueryRowContext(ctx, query, strings.ToLower(email)))
	if err != nil {
		return nil, classify("get user by email", err)
	}
	if u.PermissionHistory, err = s.history(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) history(ctx context.Context, userID string) ([]authz.PermissionChange, error) {
	query := s.dialect.rebind(`
		SELECT old_level, new_level, changed_by, changed_at
		FROM permission_history
		WHERE user_id = ?
		ORDER BY id
	`)
	rows, err := s.cm.Primary().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify("load history "+userID, err)
	}
	defer rows.Close()

	var out []authz.PermissionChange
	for rows.Next() {
		var oldLevel, newLevel int
		var changedAt int64
		c := authz.PermissionChange{UserID: userID}
		if err := rows.Scan(&oldLevel, &newLevel, &c.ChangedBy, &changedAt); err != nil {
			return nil, classify("scan history "+userID, err)
		}
		c.OldLevel = authz.PermissionLevel(oldLevel)
		c.NewLevel = authz.PermissionLevel(newLevel)
		c.ChangedAt = time.UnixMilli(changedAt).UTC()
		out = append(out, c)
	}
	return out, classify("iterate history "+userID, rows.Err())
}

// GetUsers returns known users among ids without their history. It reads the
// primary: results repopulate the permission cache right after writes.
func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]*authz.User, error) {
	out := make(map[string]*authz.User, len(ids))
	for start := 0; start < len(ids); start += getUsersBatch {
		end := min(start+getUsersBatch, len(ids))
		batch := ids[start:end]

		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := s.dialect.rebind(`SELECT ` + userColumns + ` FROM users WHERE id IN (` + placeholders(len(batch)) + `)`)
		if err := s.collectUsers(ctx, s.cm.Primary(), query, args, func(u *authz.User) { out[u.ID] = u }); err != nil {
			return nil, classify("get users", err)
		}
	}
	return out, nil
}

func (s *Store) collectUsers(ctx context.Context, db *sql.DB, query string, args []interface{}, fn func(*authz.User)) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return err
		}
		fn(u)
	}
	return rows.Err()
}

// UpdateUser applies patch in one transaction
func (s *Store) UpdateUser(ctx context.Context, id string, patch authz.UserPatch) (err error) {
	op := "update user " + id

	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var (
		sets []string
		args []interface{}
	)
	if patch.Level != nil {
		sets = append(sets, "level = ?")
		args = append(args, int(*patch.Level))
	}
	if patch.CustomPermissions != nil {
		perms, encErr := encodeOverrides(*patch.CustomPermissions)
		if encErr != nil {
			return fmt.Errorf("%s: %w", op, encErr)
		}
		sets = append(sets, "custom_permissions = ?")
		args = append(args, perms)
	}

	where, whereArgs := "id = ?", []interface{}{id}
	if patch.ExpectedLevel != nil {
		where += " AND level = ?"
		whereArgs = append(whereArgs, int(*patch.ExpectedLevel))
	}

	if len(sets) > 0 {
		query := s.dialect.rebind(`UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE ` + where)
		res, execErr := tx.ExecContext(ctx, query, append(args, whereArgs...)...)
		if execErr != nil {
			return classify(op, execErr)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return missingOrConflict(ctx, tx, s.dialect, op, id, patch.ExpectedLevel)
		}
	} else {
		var one int
		query := s.dialect.rebind(`SELECT 1 FROM users WHERE ` + where)
		if scanErr := tx.QueryRowContext(ctx, query, whereArgs...).Scan(&one); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return missingOrConflict(ctx, tx, s.dialect, op, id, patch.ExpectedLevel)
			}
			return classify(op, scanErr)
		}
	}

	if h := patch.AppendHistory; h != nil {
		query := s.dialect.rebind(`
			INSERT INTO permission_history (user_id, old_level, new_level, changed_by, changed_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if _, execErr := tx.ExecContext(ctx, query, id, int(h.OldLevel), int(h.NewLevel), h.ChangedBy, h.ChangedAt.UnixMilli()); execErr != nil {
			return classify(op, execErr)
		}
	}

	return classify(op, tx.Commit())
}

// missingOrConflict explains a conditional user write that matched no row
func missingOrConflict(ctx context.Context, tx *sql.Tx, d dialect, op, id string, expected *authz.PermissionLevel) error {
	if expected == nil {
		return classify(op, sql.ErrNoRows)
	}
	var level int
	err := tx.QueryRowContext(ctx, d.rebind(`SELECT level FROM users WHERE id = ?`), id).Scan(&level)
	if err != nil {
		return classify(op, err)
	}
	return fmt.Errorf("%s: level is %s, expected %s: %w", op, authz.PermissionLevel(level), *expected, authz.ErrConflict)
}

// CountByLevel tallies users per level
func (s *Store) CountByLevel(ctx context.Context) (map[authz.PermissionLevel]int, error) {
	rows, err := s.cm.Replica().QueryContext(ctx, `SELECT level, COUNT(*) FROM users GROUP BY level`)
	if err != nil {
		return nil, classify("count by level", err)
	}
	defer rows.Close()

	counts := make(map[authz.PermissionLevel]int)
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, classify("count by level", err)
		}
		counts[authz.PermissionLevel(level)] = n
	}
	return counts, classify("count by level", rows.Err())
}

// ListUsers pages through users ordered by ID
func (s *Store) ListUsers(ctx context.Context, q authz.UserQuery) (*authz.UserPage, error) {
	after, err := storage.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := storage.ClampLimit(q.Limit)

	query := `SELECT ` + userColumns + ` FROM users WHERE id > ?`
	args := []interface{}{after}
	if q.MinLevel != 0 {
		query += ` AND level >= ?`
		args = append(args, int(q.MinLevel))
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit+1)

	users := make([]*authz.User, 0, limit)
	err = s.collectUsers(ctx, s.cm.Replica(), s.dialect.rebind(query), args, func(u *authz.User) { users = append(users, u) })
	if err != nil {
		return nil, classify("list users", err)
	}

	page := &authz.UserPage{Users: users}
	if len(users) > limit {
		page.Users = users[:limit]
		page.NextCursor = storage.EncodeCursor(page.Users[limit-1].ID)
	}
	return page, nil
}
