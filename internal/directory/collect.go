package directory

import (
	"context"
	"fmt"
)

// maxPages bounds page draining so a provider that keeps handing out
// continuation tokens cannot loop forever.
const maxPages = 1000

// CollectMembers drains every page of a tag's membership. A failure on any
// page fails the whole call; a partial member list is never returned.
func CollectMembers(ctx context.Context, l MemberLister, teamID, tagID string) ([]Member, error) {
	var all []Member
	token := ""
	for page := 1; page <= maxPages; page++ {
		p, err := l.ListTagMembers(ctx, teamID, tagID, token)
		if err != nil {
			return nil, fmt.Errorf("listing members of tag %s (page %d): %w", tagID, page, err)
		}
		all = append(all, p.Members...)
		if p.NextPageToken == "" {
			return all, nil
		}
		token = p.NextPageToken
	}
	return nil, fmt.Errorf("listing members of tag %s: more than %d pages", tagID, maxPages)
}

// CollectTags drains every page of a team's tag list.
func CollectTags(ctx context.Context, a TagAdmin, teamID string) ([]Tag, error) {
	var all []Tag
	token := ""
	for page := 1; page <= maxPages; page++ {
		p, err := a.ListTags(ctx, teamID, token)
		if err != nil {
			return nil, fmt.Errorf("listing tags of team %s (page %d): %w", teamID, page, err)
		}
		all = append(all, p.Tags...)
		if p.NextPageToken == "" {
			return all, nil
		}
		token = p.NextPageToken
	}
	return nil, fmt.Errorf("listing tags of team %s: more than %d pages", teamID, maxPages)
}
