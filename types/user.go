package types

import (
	"fmt"
	"time"
)

// Role is the authorization level of a user account.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
)

// ParseRole maps a literal role name to a Role. Unknown names are rejected.
func ParseRole(name string) (Role, error) {
	switch Role(name) {
	case RoleUser, RoleAdmin, RoleModerator:
		return Role(name), nil
	default:
		return "", fmt.Errorf("unknown role: %q", name)
	}
}

// User represents an account in the system.
// It contains identity, role, status flags, and audit metadata.
type User struct {
	// ID is the unique identifier of the user, assigned by the store.
	ID int64 `json:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username"`

	// Email is the user's unique email address.
	Email string `json:"email"`

	// Password stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	Password string `json:"-"`

	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`

	// Role indicates the user's authorization level within the system.
	Role Role `json:"role"`

	// IsEnabled gates whether the account may be used at all.
	IsEnabled bool `json:"isEnabled"`

	// The three flags below are reserved for the authentication flow.
	IsAccountNonLocked      bool `json:"-"`
	IsAccountNonExpired     bool `json:"-"`
	IsCredentialsNonExpired bool `json:"-"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updatedAt"`

	// LastLogin is the timestamp of the most recent login, if any.
	LastLogin *time.Time `json:"lastLogin"`
}

// UserView is the outbound projection of a User. It carries everything a
// client may see: the password hash and the lock/expiry flags are excluded.
type UserView struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Role      Role       `json:"role"`
	IsEnabled bool       `json:"isEnabled"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	LastLogin *time.Time `json:"lastLogin"`
}

// NewUserView projects a User into its outbound view.
func NewUserView(user User) UserView {
	return UserView{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
		IsEnabled: user.IsEnabled,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
		LastLogin: user.LastLogin,
	}
}
