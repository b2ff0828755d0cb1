// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// Role is the coarse permission level of a user.
type Role string

const (
	// RoleUser is the default role for registered members.
	RoleUser Role = "user"
	// RoleStaff can help with tickets.
	RoleStaff Role = "staff"
	// RoleAdmin has full access to the admin surface.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleStaff:
		return 2
	case RoleUser:
		return 1
	}
	return 0
}

// Satisfies reports whether r grants at least the permissions of required.
func (r Role) Satisfies(required Role) bool {
	return r.rank() > 0 && r.rank() >= required.rank()
}

// User represents a member of the Codexverse platform.
type User struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Username   string     `gorm:"size:80;uniqueIndex;not null" json:"username"`
	Email      string     `gorm:"size:120;uniqueIndex;not null" json:"email"`
	Password   string     `gorm:"not null" json:"-"`
	Role       Role       `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	IsBanned   bool       `gorm:"not null;default:false" json:"is_banned"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasRole reports whether the user holds role or a stronger one.
func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	return u.Role.Satisfies(role)
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// IsMuted reports whether the user is muted at the given instant.
func (u *User) IsMuted(now time.Time) bool {
	return u != nil && u.MutedUntil != nil && now.Before(*u.MutedUntil)
}
