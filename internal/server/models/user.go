package models

import "strings"

// User is the read-only view of an account needed to address notifications.
type User struct {
	ID        int64
	UserName  string
	Email     string
	FirstName string
	LastName  string
}

func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}
