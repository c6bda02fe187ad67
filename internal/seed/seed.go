// Package seed provisions demo principals for local development.
package seed

import (
	"context"
	"errors"
	"fmt"

	"medgate.org/internal/auth"
)

// Store is the provisioning surface shared by the pg and memory stores.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash, fullName string) (auth.User, error)
	AssignRole(ctx context.Context, userID string, role auth.Role) error
	PutProfile(ctx context.Context, p auth.Profile) (auth.Profile, error)
	AssignGlobalID(ctx context.Context, userID, globalID string) error
}

// Principal describes one seeded account.
type Principal struct {
	Email    string
	FullName string
	Roles    []auth.Role
	GlobalID string
	Profile  *auth.Profile
}

// Demo is the default development fixture set.
var Demo = []Principal{
	{
		Email:    "admin@example.com",
		FullName: "Platform Admin",
		Roles:    []auth.Role{auth.RoleUser, auth.RoleSuperAdmin},
		GlobalID: "ABC-012345",
	},
	{
		Email:    "doctor@example.com",
		FullName: "Dana Doctor",
		Roles:    []auth.Role{auth.RoleUser, auth.RoleDoctor},
		GlobalID: "DOC-0A1B2C",
		Profile:  &auth.Profile{Role: auth.RoleDoctor, IsActive: true, Specialty: "cardiology", Hospital: "City General"},
	},
	{
		Email:    "retired@example.com",
		FullName: "Rory Retired",
		Roles:    []auth.Role{auth.RoleUser, auth.RoleDoctor},
		Profile:  &auth.Profile{Role: auth.RoleDoctor, IsActive: false, Specialty: "radiology"},
	},
	{
		Email:    "partner@example.com",
		FullName: "Pat Partner",
		Roles:    []auth.Role{auth.RoleUser, auth.RolePartner},
		Profile:  &auth.Profile{Role: auth.RolePartner, IsActive: true, PartnerCode: "PARTNER-01"},
	},
	{
		Email:    "patient@example.com",
		FullName: "Sam Patient",
		Roles:    []auth.Role{auth.RoleUser},
	},
}

// Apply creates every principal with the shared password.
func Apply(ctx context.Context, store Store, password string, principals []Principal) ([]auth.User, error) {
	if password == "" {
		return nil, errors.New("seed: password is required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	users := make([]auth.User, 0, len(principals))
	for _, p := range principals {
		u, err := store.CreateUser(ctx, p.Email, hash, p.FullName)
		if err != nil {
			return users, fmt.Errorf("seed %s: %w", p.Email, err)
		}
		for _, role := range p.Roles {
			if err := store.AssignRole(ctx, u.ID, role); err != nil {
				return users, fmt.Errorf("seed %s role %s: %w", p.Email, role, err)
			}
		}
		if p.GlobalID != "" {
			if err := store.AssignGlobalID(ctx, u.ID, p.GlobalID); err != nil {
				return users, fmt.Errorf("seed %s global id: %w", p.Email, err)
			}
			u.GlobalID = p.GlobalID
		}
		if p.Profile != nil {
			profile := *p.Profile
			profile.UserID = u.ID
			if _, err := store.PutProfile(ctx, profile); err != nil {
				return users, fmt.Errorf("seed %s profile: %w", p.Email, err)
			}
		}
		users = append(users, u)
	}
	return users, nil
}
