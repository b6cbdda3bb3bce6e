package domain

import "time"

// UserRole separates the customer surface from the back office.
type UserRole string

const (
	// RoleUser is a regular storefront customer.
	RoleUser UserRole = "user"
	// RoleAdmin grants access to the admin routes.
	RoleAdmin UserRole = "admin"
)

// User is a storefront account. Accounts start unverified and are activated
// by confirming the emailed OTP.
type User struct {
	ID           string
	UserName     string
	Email        string
	PasswordHash string
	Role         UserRole
	Verified     bool
	OTPHash      string
	OTPExpiresAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
