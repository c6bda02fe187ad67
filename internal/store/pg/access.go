package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medgate.org/internal/auth"
	"medgate.org/internal/ids"
	"medgate.org/internal/obs"
)

// ListRoles returns the known roles assigned to userID. Unrecognised role
// strings are skipped with a warning and never widen access.
func (s *Store) ListRoles(ctx context.Context, userID string) (auth.RoleSet, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `select role from user_roles where user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	set := auth.NewRoleSet()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		role, err := auth.ParseRole(raw)
		if err != nil {
			obs.Logger().Warn().Str("user_id", userID).Str("role", raw).Msg("skipping unknown role")
			continue
		}
		set[role] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return set, nil
}

// AssignRole records a role assignment. Assigning twice is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID string, role auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, role)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role) values ($1, $2)
		on conflict (user_id, role) do nothing
	`, userID, string(role))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

// Profile loads the doctor or partner profile owned by userID.
func (s *Store) Profile(ctx context.Context, role auth.Role, userID string) (auth.Profile, error) {
	if s.db == nil {
		return auth.Profile{}, errNoDB
	}
	var query string
	switch role {
	case auth.RoleDoctor:
		query = `
			select id, user_id, is_active, specialty, hospital, '', ''
			from doctor_profiles where user_id = $1`
	case auth.RolePartner:
		query = `
			select id, user_id, is_active, '', '', partner_code, coalesce(logo_url, '')
			from partner_profiles where user_id = $1`
	case auth.RoleUser, auth.RoleSuperAdmin:
		return auth.Profile{}, fmt.Errorf("%w: role %s has no profile", auth.ErrInvalidInput, role)
	default:
		return auth.Profile{}, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, role)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	p := auth.Profile{Role: role}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.ID, &p.UserID, &p.IsActive, &p.Specialty, &p.Hospital, &p.PartnerCode, &p.LogoURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Profile{}, auth.ErrNotFound
		}
		return auth.Profile{}, fmt.Errorf("load %s profile: %w", role, err)
	}
	return p, nil
}

// LookupGlobalID resolves an upper-case global id to its owner.
func (s *Store) LookupGlobalID(ctx context.Context, globalID string) (auth.GlobalIDRecord, error) {
	if s.db == nil {
		return auth.GlobalIDRecord{}, errNoDB
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rec auth.GlobalIDRecord
	err := s.db.QueryRowContext(ctx, `
		select g.global_id, u.email, u.id
		from global_ids g
		join users u on u.id = g.user_id
		where g.global_id = $1
	`, strings.ToUpper(globalID)).Scan(&rec.GlobalID, &rec.Email, &rec.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.GlobalIDRecord{}, auth.ErrNotFound
		}
		return auth.GlobalIDRecord{}, fmt.Errorf("lookup global id: %w", err)
	}
	return rec, nil
}

// PutProfile inserts or replaces the profile p.UserID holds for p.Role.
func (s *Store) PutProfile(ctx context.Context, p auth.Profile) (auth.Profile, error) {
	if s.db == nil {
		return auth.Profile{}, errNoDB
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var err error
	switch p.Role {
	case auth.RoleDoctor:
		_, err = s.db.ExecContext(ctx, `
			insert into doctor_profiles (id, user_id, is_active, specialty, hospital)
			values ($1, $2, $3, $4, $5)
			on conflict (user_id) do update
			set is_active = excluded.is_active, specialty = excluded.specialty, hospital = excluded.hospital
		`, p.ID, p.UserID, p.IsActive, p.Specialty, p.Hospital)
	case auth.RolePartner:
		_, err = s.db.ExecContext(ctx, `
			insert into partner_profiles (id, user_id, is_active, partner_code, logo_url)
			values ($1, $2, $3, $4, $5)
			on conflict (user_id) do update
			set is_active = excluded.is_active, partner_code = excluded.partner_code, logo_url = excluded.logo_url
		`, p.ID, p.UserID, p.IsActive, p.PartnerCode, nullIfEmpty(p.LogoURL))
	default:
		return auth.Profile{}, fmt.Errorf("%w: role %s has no profile", auth.ErrInvalidInput, p.Role)
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.Profile{}, auth.ErrNotFound
		}
		return auth.Profile{}, fmt.Errorf("put %s profile: %w", p.Role, err)
	}
	return p, nil
}

// AssignGlobalID maps an upper-cased global id to userID.
func (s *Store) AssignGlobalID(ctx context.Context, userID, globalID string) error {
	if s.db == nil {
		return errNoDB
	}
	globalID = strings.ToUpper(strings.TrimSpace(globalID))
	if globalID == "" {
		return fmt.Errorf("%w: global id is required", auth.ErrInvalidInput)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `insert into global_ids (global_id, user_id) values ($1, $2)`, globalID, userID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: global id already assigned", auth.ErrInvalidInput)
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}
