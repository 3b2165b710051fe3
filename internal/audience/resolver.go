// Package audience resolves the people a question can be delivered to.
package audience

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tagask/internal/directory"
)

// DefaultFanout bounds concurrent membership and presence lookups.
const DefaultFanout = 4

var ErrNoTags = errors.New("audience: at least one tag is required")

// Directory is the part of the provider the resolver reads.
type Directory interface {
	directory.MemberLister
	GetPresence(ctx context.Context, userID string) (directory.Presence, error)
}

type Resolver struct {
	dir    Directory
	fanout int
	logger *zap.Logger
}

func NewResolver(dir Directory, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{dir: dir, fanout: DefaultFanout, logger: logger}
}

// Resolve returns the members holding every tag in tags, minus the
// requester. With onlyOnline, members whose presence is not "Available" (or
// could not be read) are dropped. The result keeps the order of the first
// tag's member list. An empty audience is not an error; a failed membership
// fetch is.
func (r *Resolver) Resolve(ctx context.Context, teamID string, tags []string, requesterID string, onlyOnline bool) ([]directory.Member, error) {
	tags = dedupe(tags)
	if len(tags) == 0 {
		return nil, ErrNoTags
	}

	perTag := make([][]directory.Member, len(tags))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for i, tag := range tags {
		g.Go(func() error {
			members, err := directory.CollectMembers(gCtx, r.dir, teamID, tag)
			if err != nil {
				return err
			}
			perTag[i] = members
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := intersect(perTag, requesterID)
	if !onlyOnline || len(result) == 0 {
		return result, nil
	}
	return r.filterOnline(ctx, result), nil
}

// intersect keeps members present in every set, in first-set order, with
// the requester removed from each set first.
func intersect(perTag [][]directory.Member, requesterID string) []directory.Member {
	sets := make([]map[string]struct{}, len(perTag))
	for i, members := range perTag {
		s := make(map[string]struct{}, len(members))
		for _, m := range members {
			if m.UserID == "" || m.UserID == requesterID {
				continue
			}
			s[m.UserID] = struct{}{}
		}
		sets[i] = s
	}

	seen := make(map[string]struct{})
	result := []directory.Member{}
	for _, m := range perTag[0] {
		if _, ok := sets[0][m.UserID]; !ok {
			continue
		}
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		inAll := true
		for _, s := range sets[1:] {
			if _, ok := s[m.UserID]; !ok {
				inAll = false
				break
			}
		}
		if !inAll {
			continue
		}
		seen[m.UserID] = struct{}{}
		result = append(result, directory.Member{UserID: m.UserID, DisplayName: m.DisplayName})
	}
	return result
}

// filterOnline keeps members whose presence reads "Available". Lookup
// failures drop the member.
func (r *Resolver) filterOnline(ctx context.Context, members []directory.Member) []directory.Member {
	online := make([]bool, len(members))
	var g errgroup.Group
	g.SetLimit(r.fanout)
	for i, m := range members {
		g.Go(func() error {
			p, err := r.dir.GetPresence(ctx, m.UserID)
			if err != nil {
				r.logger.Debug("presence lookup failed, dropping member",
					zap.String("user_id", m.UserID), zap.Error(err))
				return nil
			}
			online[i] = p.IsAvailable()
			return nil
		})
	}
	_ = g.Wait()

	out := []directory.Member{}
	for i, m := range members {
		if online[i] {
			out = append(out, m)
		}
	}
	return out
}

func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
