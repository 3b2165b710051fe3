package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidTag is returned when a tag input is missing its display name.
var ErrInvalidTag = errors.New("tag display name is required")

// TagService wraps TagAdmin with the multi-call tag operations: draining
// pages, member add/remove batches and duplication.
type TagService struct {
	admin  TagAdmin
	logger *zap.Logger
}

func NewTagService(admin TagAdmin, logger *zap.Logger) *TagService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagService{admin: admin, logger: logger}
}

// UpdateResult lists the member changes the provider rejected. The tag
// itself was updated when Update returns a nil error.
type UpdateResult struct {
	FailedAdds    []string `json:"failedAdds,omitempty"`
	FailedRemoves []string `json:"failedRemoves,omitempty"`
}

func (s *TagService) List(ctx context.Context, teamID string) ([]Tag, error) {
	return CollectTags(ctx, s.admin, teamID)
}

func (s *TagService) Get(ctx context.Context, teamID, tagID string) (Tag, error) {
	return s.admin.GetTag(ctx, teamID, tagID)
}

func (s *TagService) Members(ctx context.Context, teamID, tagID string) ([]Member, error) {
	return CollectMembers(ctx, s.admin, teamID, tagID)
}

func (s *TagService) Create(ctx context.Context, teamID string, in TagInput) (Tag, error) {
	if strings.TrimSpace(in.DisplayName) == "" {
		return Tag{}, ErrInvalidTag
	}
	return s.admin.CreateTag(ctx, teamID, in)
}

// Update patches name and description, then adds and removes members one at
// a time. A rejected member change is logged and skipped.
func (s *TagService) Update(ctx context.Context, teamID, tagID string, in TagInput) (UpdateResult, error) {
	if strings.TrimSpace(in.DisplayName) == "" {
		return UpdateResult{}, ErrInvalidTag
	}
	if err := s.admin.PatchTag(ctx, teamID, tagID, in.DisplayName, in.Description); err != nil {
		return UpdateResult{}, fmt.Errorf("patching tag %s: %w", tagID, err)
	}

	var res UpdateResult
	for _, userID := range in.AddUserIDs {
		if err := s.admin.AddTagMember(ctx, teamID, tagID, userID); err != nil {
			s.logger.Warn("tag member not added",
				zap.String("tag_id", tagID), zap.String("user_id", userID), zap.Error(err))
			res.FailedAdds = append(res.FailedAdds, userID)
		}
	}
	for _, memberID := range in.RemoveMemberIDs {
		if err := s.admin.RemoveTagMember(ctx, teamID, tagID, memberID); err != nil {
			s.logger.Warn("tag member not removed",
				zap.String("tag_id", tagID), zap.String("member_id", memberID), zap.Error(err))
			res.FailedRemoves = append(res.FailedRemoves, memberID)
		}
	}
	return res, nil
}

func (s *TagService) Delete(ctx context.Context, teamID, tagID string) error {
	return s.admin.DeleteTag(ctx, teamID, tagID)
}

// Duplicate creates a copy of a tag named "<name> (1)" with the same
// description and members. The tag and its members are fetched concurrently.
func (s *TagService) Duplicate(ctx context.Context, teamID, tagID string) (Tag, error) {
	var (
		src     Tag
		members []Member
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.admin.GetTag(gCtx, teamID, tagID)
		if err != nil {
			return fmt.Errorf("getting tag %s: %w", tagID, err)
		}
		src = t
		return nil
	})
	g.Go(func() error {
		m, err := CollectMembers(gCtx, s.admin, teamID, tagID)
		if err != nil {
			return err
		}
		members = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return Tag{}, err
	}

	in := TagInput{
		DisplayName: src.DisplayName + " (1)",
		Description: src.Description,
	}
	for _, m := range members {
		in.AddUserIDs = append(in.AddUserIDs, m.UserID)
	}
	return s.admin.CreateTag(ctx, teamID, in)
}
