package graph

import (
	"context"
	"net/http"

	"github.com/kalambet/tagask/internal/directory"
)

type tagList struct {
	Value    []directory.Tag `json:"value"`
	NextLink string          `json:"@odata.nextLink"`
}

func (c *Client) ListTags(ctx context.Context, teamID, pageToken string) (directory.TagPage, error) {
	u, err := c.pageURL(c.url("/teams/%s/tags", teamID), pageToken)
	if err != nil {
		return directory.TagPage{}, err
	}
	var list tagList
	if err := c.do(ctx, http.MethodGet, u, nil, &list); err != nil {
		return directory.TagPage{}, err
	}
	return directory.TagPage{Tags: list.Value, NextPageToken: list.NextLink}, nil
}

func (c *Client) GetTag(ctx context.Context, teamID, tagID string) (directory.Tag, error) {
	var t directory.Tag
	if err := c.do(ctx, http.MethodGet, c.url("/teams/%s/tags/%s", teamID, tagID), nil, &t); err != nil {
		return directory.Tag{}, err
	}
	return t, nil
}

type tagMemberRef struct {
	UserID string `json:"userId"`
}

func (c *Client) CreateTag(ctx context.Context, teamID string, in directory.TagInput) (directory.Tag, error) {
	body := struct {
		DisplayName string         `json:"displayName"`
		Description string         `json:"description,omitempty"`
		Members     []tagMemberRef `json:"members"`
	}{DisplayName: in.DisplayName, Description: in.Description, Members: []tagMemberRef{}}
	for _, id := range in.AddUserIDs {
		body.Members = append(body.Members, tagMemberRef{UserID: id})
	}
	var t directory.Tag
	if err := c.do(ctx, http.MethodPost, c.url("/teams/%s/tags", teamID), body, &t); err != nil {
		return directory.Tag{}, err
	}
	return t, nil
}

func (c *Client) PatchTag(ctx context.Context, teamID, tagID, displayName, description string) error {
	body := map[string]string{"displayName": displayName, "description": description}
	return c.do(ctx, http.MethodPatch, c.url("/teams/%s/tags/%s", teamID, tagID), body, nil)
}

func (c *Client) AddTagMember(ctx context.Context, teamID, tagID, userID string) error {
	return c.do(ctx, http.MethodPost, c.url("/teams/%s/tags/%s/members", teamID, tagID), tagMemberRef{UserID: userID}, nil)
}

func (c *Client) RemoveTagMember(ctx context.Context, teamID, tagID, memberID string) error {
	return c.do(ctx, http.MethodDelete, c.url("/teams/%s/tags/%s/members/%s", teamID, tagID, memberID), nil, nil)
}

func (c *Client) DeleteTag(ctx context.Context, teamID, tagID string) error {
	return c.do(ctx, http.MethodDelete, c.url("/teams/%s/tags/%s", teamID, tagID), nil, nil)
}

var _ directory.Provider = (*Client)(nil)
