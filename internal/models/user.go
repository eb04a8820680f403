package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownUserName is shown when a profile is missing or has no name.
const UnknownUserName = "Unknown User"

// User is a KrewUp profile row. Accounts live with the hosted auth provider;
// this service only reads the profile fields it needs for display.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FirstName string    `json:"firstName" db:"first_name"`
	LastName  string    `json:"lastName" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// PublicUser is the safe representation returned via APIs.
type PublicUser struct {
	ID          uuid.UUID `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	DisplayName string    `json:"displayName"`
}

func (u *User) ToPublicUser() *PublicUser {
	return &PublicUser{
		ID:          u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: DisplayName(u.FirstName, u.LastName),
	}
}

// DisplayName joins the name parts, falling back to UnknownUserName when both are blank.
func DisplayName(firstName, lastName string) string {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		return UnknownUserName
	}
	return name
}
