package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	FullName  string    `bun:"full_name,notnull" json:"full_name"`
	StudentID string    `bun:"student_id,nullzero,unique" json:"student_id,omitempty"`
	Role      Role      `bun:"role,notnull" json:"role"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}
