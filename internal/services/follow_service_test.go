package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"
)

type fakeFollowRepo struct {
	created [][2]string
	deleted [][2]string
	listing map[string][]string
}

func (f *fakeFollowRepo) CreateFollow(_ context.Context, _ *gorm.DB, userID, actorID string) error {
	f.created = append(f.created, [2]string{userID, actorID})
	return nil
}

func (f *fakeFollowRepo) DeleteFollow(_ context.Context, _ *gorm.DB, userID, actorID string) error {
	f.deleted = append(f.deleted, [2]string{userID, actorID})
	return nil
}

func (f *fakeFollowRepo) ListFollowedActors(_ context.Context, _ *gorm.DB, userID string) ([]string, error) {
	return f.listing[userID], nil
}

func TestFollow_RecordsEdge(t *testing.T) {
	r := &fakeFollowRepo{}
	s := NewFollowService(nil, r)

	if err := s.Follow(context.Background(), "u1", "a1"); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if len(r.created) != 1 || r.created[0] != [2]string{"u1", "a1"} {
		t.Fatalf("edge not recorded: %+v", r.created)
	}
}

func TestFollow_Validation(t *testing.T) {
	s := NewFollowService(nil, &fakeFollowRepo{})
	ctx := context.Background()

	if err := s.Follow(ctx, "", "a1"); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("err = %v; want ErrMissingUser", err)
	}
	if err := s.Follow(ctx, "u1", ""); !errors.Is(err, ErrMissingActor) {
		t.Fatalf("err = %v; want ErrMissingActor", err)
	}
	if err := s.Follow(ctx, "u1", "u1"); !errors.Is(err, ErrSelfFollow) {
		t.Fatalf("err = %v; want ErrSelfFollow", err)
	}
	if err := s.Unfollow(ctx, "u1", "u1"); !errors.Is(err, ErrSelfFollow) {
		t.Fatalf("unfollow err = %v; want ErrSelfFollow", err)
	}
}

func TestUnfollow_RemovesEdge(t *testing.T) {
	r := &fakeFollowRepo{}
	s := NewFollowService(nil, r)

	if err := s.Unfollow(context.Background(), "u1", "a1"); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	if len(r.deleted) != 1 || r.deleted[0] != [2]string{"u1", "a1"} {
		t.Fatalf("edge not removed: %+v", r.deleted)
	}
}

func TestFollowing(t *testing.T) {
	r := &fakeFollowRepo{listing: map[string][]string{"u1": {"a1", "a2"}}}
	s := NewFollowService(nil, r)

	got, err := s.Following(context.Background(), "u1")
	if err != nil || len(got) != 2 {
		t.Fatalf("Following = %v %v", got, err)
	}
	if _, err := s.Following(context.Background(), ""); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("err = %v; want ErrMissingUser", err)
	}
}
