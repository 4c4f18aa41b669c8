package user

import "time"

// User represents a messenger account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public snapshot of a user shown next to a conversation.
type Profile struct {
	ID          string
	Username    string
	DisplayName string
}

// Name returns the display name, falling back to the username.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// Profile returns the public part of the account.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

// DeletedProfile is shown for a counterpart whose profile no longer resolves.
func DeletedProfile(id string) Profile {
	return Profile{ID: id, Username: "deleted", DisplayName: "Deleted user"}
}
