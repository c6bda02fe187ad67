package auth

import "time"

// Principal is the authenticated identity evaluated by guards and services.
// It is produced by the session provider and never mutated afterwards.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// User is the primary credential record of a principal.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name,omitempty"`
	GlobalID     string    `json:"global_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser holds the fields of a user that may be returned to a client.
type PublicUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	GlobalID string `json:"global_id,omitempty"`
	Roles    []Role `json:"roles"`
}

// Public strips credential material from the user.
func (u User) Public(roles RoleSet) PublicUser {
	return PublicUser{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		GlobalID: u.GlobalID,
		Roles:    roles.Sorted(),
	}
}

// Principal returns the session identity for the user.
func (u User) Principal() Principal {
	return Principal{ID: u.ID, Email: u.Email}
}

// Profile is a tier-specific record owned by a principal. Doctor profiles
// carry Specialty and Hospital, partner profiles carry PartnerCode and LogoURL.
type Profile struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
	IsActive    bool   `json:"is_active"`
	Specialty   string `json:"specialty,omitempty"`
	Hospital    string `json:"hospital,omitempty"`
	PartnerCode string `json:"partner_code,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
}

// Session is the result of a successful sign-in.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// GlobalIDRecord maps a normalized global id to its owner's credential handle.
type GlobalIDRecord struct {
	GlobalID string
	Email    string
	UserID   string
}
