package session

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"watergb/internal/api"
)

// User is the logged-in identity.
type User struct {
	ID        string    `json:"id,omitempty"`
	Username  string    `json:"username"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// tokenClaims are the claims the backend is known to put in its tokens.
type tokenClaims struct {
	UserID    any    `json:"id,omitempty"`
	AltUserID any    `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// userFromToken decodes the token's claims without verifying the
// signature; the server is the only party that verifies tokens. Opaque
// tokens yield a user named fallback.
func userFromToken(token, fallback string) User {
	u := User{Username: fallback}

	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return u
	}

	switch {
	case claims.UserID != nil:
		u.ID = stringify(claims.UserID)
	case claims.AltUserID != nil:
		u.ID = stringify(claims.AltUserID)
	default:
		u.ID = claims.Subject
	}
	if claims.Username != "" {
		u.Username = claims.Username
	}
	u.Role = claims.Role
	if claims.ExpiresAt != nil {
		u.ExpiresAt = claims.ExpiresAt.Time
	}
	return u
}

// userFromResponse prefers the user object in the response, then the
// token's claims, then the name typed at login.
func userFromResponse(resp *api.AuthResponse, username string) User {
	u := userFromToken(resp.Token, username)
	if resp.User != nil {
		if resp.User.ID != "" {
			u.ID = resp.User.ID.String()
		}
		if resp.User.Username != "" {
			u.Username = resp.User.Username
		}
		if resp.User.Role != "" {
			u.Role = resp.User.Role
		}
	}
	return u
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
