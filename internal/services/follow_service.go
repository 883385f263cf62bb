// Package services implements the business logic of the activity feed
// platform. This file manages the follow graph that drives both write-fanout
// targeting and actor classification.
package services

import (
	"context"

	"gorm.io/gorm"
)

// FollowRepo defines the repository contract required by FollowService.
type FollowRepo interface {
	// CreateFollow records a follow edge; re-following is a no-op.
	CreateFollow(ctx context.Context, db *gorm.DB, userID, actorID string) error

	// DeleteFollow removes a follow edge; unfollowing a non-followed actor
	// is a no-op.
	DeleteFollow(ctx context.Context, db *gorm.DB, userID, actorID string) error

	// ListFollowedActors returns every actor the user follows.
	ListFollowedActors(ctx context.Context, db *gorm.DB, userID string) ([]string, error)
}

// FollowService maintains follow edges between users and actors.
type FollowService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the follow repository.
	Repo FollowRepo
}

// NewFollowService constructs a FollowService.
func NewFollowService(db *gorm.DB, r FollowRepo) *FollowService {
	return &FollowService{DB: db, Repo: r}
}

// Follow records that userID follows actorID. Idempotent.
func (s *FollowService) Follow(ctx context.Context, userID, actorID string) error {
	if err := validateEdge(userID, actorID); err != nil {
		return err
	}
	return s.Repo.CreateFollow(ctx, s.DB, userID, actorID)
}

// Unfollow removes the edge. Idempotent.
func (s *FollowService) Unfollow(ctx context.Context, userID, actorID string) error {
	if err := validateEdge(userID, actorID); err != nil {
		return err
	}
	return s.Repo.DeleteFollow(ctx, s.DB, userID, actorID)
}

// Following returns the actors userID follows, in insertion order.
func (s *FollowService) Following(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return s.Repo.ListFollowedActors(ctx, s.DB, userID)
}

func validateEdge(userID, actorID string) error {
	if userID == "" {
		return ErrMissingUser
	}
	if actorID == "" {
		return ErrMissingActor
	}
	if userID == actorID {
		return ErrSelfFollow
	}
	return nil
}
