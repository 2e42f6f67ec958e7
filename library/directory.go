package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const userColumns = `id,username,email,student_id,password_hash,full_name,phone,address,role,created_at,is_active`

func scanUser(s scanner) (*User, error) {
	var u User
	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.StudentID, &u.PasswordHash, &u.FullName,
		&u.Phone, &u.Address, &u.Role, &u.CreatedAt, &u.IsActive)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func activeUser(ctx context.Context, q queryer, id int64) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=? AND is_active=1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, nil
}

// identityTaken checks username, email and student id against other active users.
// An empty value is not checked.
func identityTaken(ctx context.Context, q queryer, exceptID int64, username, email, studentID string) error {
	checks := []struct{ col, val string }{
		{"username", username},
		{"email", email},
		{"student_id", studentID},
	}
	for _, c := range checks {
		if c.val == "" {
			continue
		}
		taken, err := exists(ctx, q, `SELECT 1 FROM users WHERE `+c.col+`=? AND is_active=1 AND id<>?`, c.val, exceptID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%s %q already exists: %w", c.col, c.val, ErrDuplicateKey)
		}
	}
	return nil
}

// NewUser is a registration with the password already hashed.
type NewUser struct {
	UserInput
	PasswordHash string
}

func (d *Database) insertUser(ctx context.Context, tx *sql.Tx, nu NewUser) (*User, error) {
	if err := identityTaken(ctx, tx, 0, nu.Username, nu.Email, nu.StudentID); err != nil {
		return nil, err
	}
	role := nu.Role
	if role == "" {
		role = RoleStudent
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO users(username,email,student_id,password_hash,full_name,
		phone,address,role,created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		nu.Username, nu.Email, nu.StudentID, nu.PasswordHash, nu.FullName, nu.Phone, nu.Address, role, d.clock())
	if err != nil {
		return nil, mapConstraint(err, ErrDuplicateKey)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return activeUser(ctx, tx, id)
}

// AddUser registers a user. Only administrators can register users.
func (d *Database) AddUser(ctx context.Context, c Caller, nu NewUser) (*User, error) {
	if !d.gate.IsAdmin(c) {
		return nil, forbidden("only administrators can add users")
	}
	var u *User
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		u, err = d.insertUser(ctx, tx, nu)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// HasAdmin reports whether an active administrator exists.
func (d *Database) HasAdmin(ctx context.Context) (bool, error) {
	return exists(ctx, d.db, `SELECT 1 FROM users WHERE role='admin' AND is_active=1`)
}

// EnsureAdmin creates nu as an administrator when no active administrator
// exists. It reports whether a user was created.
func (d *Database) EnsureAdmin(ctx context.Context, nu NewUser) (bool, error) {
	created := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, `SELECT 1 FROM users WHERE role='admin' AND is_active=1`)
		if err != nil || found {
			return err
		}
		nu.Role = RoleAdmin
		if _, err := d.insertUser(ctx, tx, nu); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// UpdateUser edits a profile. Users may edit themselves; only administrators
// may edit others or change roles.
func (d *Database) UpdateUser(ctx context.Context, c Caller, id int64, up UserUpdate) (*User, error) {
	if !adminOrOwner(d.gate, c, id) {
		return nil, forbidden("you can only edit your own profile")
	}
	if up.Role != nil && !d.gate.IsAdmin(c) {
		return nil, forbidden("only administrators can change roles")
	}
	var u *User
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		old, err := activeUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := identityTaken(ctx, tx, id, "", up.Email, up.StudentID); err != nil {
			return err
		}
		role := old.Role
		if up.Role != nil {
			role = *up.Role
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET email=?,student_id=?,full_name=?,phone=?,address=?,role=?
			WHERE id=?`, up.Email, up.StudentID, up.FullName, up.Phone, up.Address, role, id)
		if err != nil {
			return mapConstraint(err, ErrDuplicateKey)
		}
		u, err = activeUser(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SetPasswordHash stores a new password hash for the user.
func (d *Database) SetPasswordHash(ctx context.Context, c Caller, id int64, hash string) error {
	if !adminOrOwner(d.gate, c, id) {
		return forbidden("you can only change your own password")
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := activeUser(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, hash, id)
		return err
	})
}

// DeactivateUser soft-deletes a student with no open loans. Administrators
// and the acting user are protected.
func (d *Database) DeactivateUser(ctx context.Context, c Caller, id int64) error {
	if !d.gate.IsAdmin(c) {
		return forbidden("only administrators can delete users")
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		u, err := activeUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Role == RoleAdmin || u.ID == c.ID {
			return fmt.Errorf("deactivate user %d: %w", id, ErrProtectedUser)
		}
		open, err := exists(ctx, tx, `SELECT 1 FROM loans WHERE user_id=? AND status<>'returned'`, id)
		if err != nil {
			return err
		}
		if open {
			return fmt.Errorf("deactivate user %d: %w", id, ErrActiveLoans)
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET is_active=0 WHERE id=?`, id)
		return err
	})
}

// GetUser fetches an active user visible to the caller.
func (d *Database) GetUser(ctx context.Context, c Caller, id int64) (*User, error) {
	if !adminOrOwner(d.gate, c, id) {
		return nil, forbidden("you can only view your own profile")
	}
	return activeUser(ctx, d.db, id)
}

// UserByUsername looks up an active user for authentication.
func (d *Database) UserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username=? AND is_active=1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns active users ordered by name. Administrators only.
func (d *Database) ListUsers(ctx context.Context, c Caller, f UserFilter) ([]*User, error) {
	if !d.gate.IsAdmin(c) {
		return nil, forbidden("only administrators can view users list")
	}
	where := []string{"is_active=1"}
	var args []any
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + q + "%"
		where = append(where, "(username LIKE ? OR full_name LIKE ? OR email LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.Role != "" {
		where = append(where, "role=?")
		args = append(args, f.Role)
	}
	rows, err := d.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+
		strings.Join(where, " AND ")+` ORDER BY full_name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
