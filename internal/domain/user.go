package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// User is owned by account management; the scheduler only reads it.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID         int64     `bun:"id,pk"`
	Name       string    `bun:"name,notnull"`
	Email      string    `bun:"email,notnull"`
	IsProvider bool      `bun:"is_provider,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}
