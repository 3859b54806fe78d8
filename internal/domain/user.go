package domain

import "time"

// User is the account a ticket belongs to. Only the fields the automation needs are mapped.
type User struct {
	ID          string
	Email       string
	Username    string
	FirstName   string
	LastName    string
	Department  string
	SlackUserID *string
	IsActive    bool
	CreatedAt   time.Time
}

// DisplayName returns the full name, falling back to the username.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}
