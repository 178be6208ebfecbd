package models

import "time"

// UserRole is carried in access tokens. FloodBuddy has one role today;
// reports stay anonymous whatever the role.
type UserRole string

const UserRoleReporter UserRole = "reporter"

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	Role         UserRole
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) Active() bool {
	return u.Status == UserStatusActive
}

// Session is the server-side record behind a signed-in device. It lives
// until ExpiresAt, the refresh-token expiry.
type Session struct {
	ID               string
	UserID           string
	DeviceID         string
	DeviceName       string
	RefreshTokenHash []byte
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	LastSeenAt       time.Time
	ExpiresAt        time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
