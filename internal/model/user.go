package model

import "time"

type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// UserSummary is the owner information embedded in aggregated sleep rows.
type UserSummary struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
