package domain

import "time"

// User represents a marketplace account. A user may sell through listings
// and buy by posting tasks.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  *string
	AvatarURL    *string
	CreatedAt    time.Time
}

// Name returns the display name, falling back to the email address.
func (u *User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Email
}
