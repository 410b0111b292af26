package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// FollowRepository is the read side of the follow graph.
type FollowRepository interface {
	FollowedIDs(ctx context.Context, followerID string) ([]string, error)
}

type followRepo struct {
	db *sqlx.DB
}

func NewFollowRepository(db *sqlx.DB) FollowRepository {
	return &followRepo{db: db}
}

func (r *followRepo) FollowedIDs(ctx context.Context, followerID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `
		SELECT followed_id FROM followings WHERE follower_id = $1
	`, followerID)
	return ids, err
}
