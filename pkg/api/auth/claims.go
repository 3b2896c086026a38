// Package auth provides JWT bearer credentials for the AudioVault API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/audiovault/audiovault/pkg/models"
)

// Claims are the JWT claims carried by an API bearer token. The token is a
// pointer into server-side state: SessionID resolves to a database session
// row that can be revoked at any time, so possession of a signed token is
// never sufficient on its own.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the unique identifier (UUID) for the user.
	UserID string `json:"uid"`

	// Email is the login email.
	Email string `json:"email"`

	// Role is the user's role ("admin" or "user").
	Role string `json:"role"`

	// SessionID is the device-bound login session this token belongs to.
	SessionID string `json:"sid"`

	// DeviceID is the device the session was issued to.
	DeviceID string `json:"did"`
}

// IsAdmin returns true if the user has admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == string(models.RoleAdmin)
}
