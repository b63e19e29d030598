package domain

import "time"

// Principal is an authenticated entity. The ID is opaque and immutable;
// Email is stored case-normalized and is unique across principals.
// Principal fields are mutated only through named store operations
// (create, verify-email, change-password).
type Principal struct {
	ID            string
	Email         string
	FullName      string
	Role          string
	EmailVerified bool
	PasswordHash  string
	CreatedAt     time.Time
}

// RoleUser is the role assigned to self-registered principals.
const RoleUser = "user"
