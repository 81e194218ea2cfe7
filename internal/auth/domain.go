package auth

import (
	"time"

	"github.com/stvsoc/internal-site/internal/rbac"
)

// Identity sources reported on rbac.Identity.
const (
	SourceSession = "session"
	SourceLegacy  = "legacy"
)

// User represents a member account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity converts the account into the actor handed to authorization.
func (u User) Identity(source string) rbac.Identity {
	return rbac.Identity{UserID: u.ID, Email: u.Email, Name: u.Name, Source: source}
}
