package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"USER", "ADMIN", "MODERATOR"} {
		role, err := ParseRole(name)
		if err != nil {
			t.Fatalf("ParseRole(%q) error: %v", name, err)
		}
		if string(role) != name {
			t.Fatalf("ParseRole(%q) = %q", name, role)
		}
	}

	for _, name := range []string{"", "user", "ROOT", "Admin"} {
		if _, err := ParseRole(name); err == nil {
			t.Fatalf("ParseRole(%q) accepted", name)
		}
	}
}

func TestUserViewProjection(t *testing.T) {
	t.Parallel()

	now := time.Now()
	login := now.Add(time.Hour)
	user := User{
		ID:                      7,
		Username:                "alice",
		Email:                   "a@x.io",
		Password:                "$2a$10$secret",
		FirstName:               "Alice",
		LastName:                "Smith",
		Role:                    RoleModerator,
		IsEnabled:               true,
		IsAccountNonLocked:      true,
		IsAccountNonExpired:     true,
		IsCredentialsNonExpired: true,
		CreatedAt:               now,
		UpdatedAt:               now,
		LastLogin:               &login,
	}

	view := NewUserView(user)
	if view.ID != 7 || view.Username != "alice" || view.Email != "a@x.io" {
		t.Fatalf("identity fields lost: %+v", view)
	}
	if view.Role != RoleModerator || !view.IsEnabled {
		t.Fatalf("role/status fields lost: %+v", view)
	}
	if view.LastLogin == nil || !view.LastLogin.Equal(login) {
		t.Fatalf("lastLogin lost: %+v", view.LastLogin)
	}
}

func TestSerializedOutputExcludesSecrets(t *testing.T) {
	t.Parallel()

	user := User{ID: 1, Username: "alice", Password: "$2a$10$secret"}

	for _, value := range []any{user, NewUserView(user)} {
		encoded, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}
		body := string(encoded)
		if strings.Contains(body, "password") || strings.Contains(body, "secret") {
			t.Fatalf("serialized output leaks password: %s", body)
		}
		if strings.Contains(body, "NonLocked") || strings.Contains(body, "nonLocked") {
			t.Fatalf("serialized output leaks lock flags: %s", body)
		}
	}
}

func TestViewFieldNames(t *testing.T) {
	t.Parallel()

	encoded, err := json.Marshal(UserView{})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	for _, key := range []string{"id", "username", "email", "firstName", "lastName", "role", "isEnabled", "createdAt", "updatedAt", "lastLogin"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing field %q in %s", key, encoded)
		}
	}
	if len(decoded) != 10 {
		t.Fatalf("unexpected field count %d: %s", len(decoded), encoded)
	}
}
