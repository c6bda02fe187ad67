package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medgate.org/internal/auth"
	"medgate.org/internal/ids"
)

// CreateUser inserts a credential record. The email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, fullName string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return auth.User{}, fmt.Errorf("%w: email and password hash are required", auth.ErrInvalidInput)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	user := auth.User{ID: ids.New(), Email: email, PasswordHash: passwordHash, FullName: fullName}
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, full_name)
		values ($1, $2, $3, $4)
		returning created_at
	`, user.ID, user.Email, user.PasswordHash, nullIfEmpty(fullName)).Scan(&user.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrInvalidInput)
		}
		return auth.User{}, err
	}
	return user, nil
}

// UserByEmail loads a credential record by its lower-cased email.
func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var (
		user     auth.User
		fullName sql.NullString
		globalID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select u.id, u.email, u.password_hash, u.full_name, g.global_id, u.created_at
		from users u
		left join global_ids g on g.user_id = u.id
		where u.email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &fullName, &globalID, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrNotFound
		}
		return auth.User{}, fmt.Errorf("load user: %w", err)
	}
	user.FullName = fullName.String
	user.GlobalID = globalID.String
	return user, nil
}

// DeleteUser removes the credential record in one statement. Roles,
// profiles and global ids are removed by their foreign key cascades.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if s.db == nil {
		return errNoDB
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
