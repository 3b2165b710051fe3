package directory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tagask/internal/directory"
	"github.com/kalambet/tagask/internal/directory/directorytest"
)

func userIDs(members []directory.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.UserID)
	}
	return out
}

func TestCollectMembersDrainsPages(t *testing.T) {
	f := directorytest.NewFake()
	f.PageSize = 2
	f.AddTag("t1", "a", "b", "c", "d", "e")

	members, err := directory.CollectMembers(context.Background(), f, "team", "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, userIDs(members))
	assert.Equal(t, 3, f.MemberCalls)
}

func TestCollectMembersFailsWholeCall(t *testing.T) {
	f := directorytest.NewFake()
	boom := errors.New("throttled")
	f.MemberErr["t1"] = boom
	f.AddTag("t1", "a")

	members, err := directory.CollectMembers(context.Background(), f, "team", "t1")
	require.ErrorIs(t, err, boom)
	assert.Nil(t, members)
}

type endlessLister struct{ calls int }

func (e *endlessLister) ListTagMembers(context.Context, string, string, string) (directory.MemberPage, error) {
	e.calls++
	return directory.MemberPage{Members: []directory.Member{{UserID: "x"}}, NextPageToken: "again"}, nil
}

func TestCollectMembersStopsRunawayPaging(t *testing.T) {
	l := &endlessLister{}
	_, err := directory.CollectMembers(context.Background(), l, "team", "t1")
	require.Error(t, err)
	assert.Equal(t, 1000, l.calls)
}

func TestCollectTags(t *testing.T) {
	f := directorytest.NewFake()
	f.PageSize = 1
	f.AddTag("t1", "a")
	f.AddTag("t2", "b")

	tags, err := directory.CollectTags(context.Background(), f, "team")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "t1", tags[0].ID)
	assert.Equal(t, "t2", tags[1].ID)
}

func TestPresenceIsAvailable(t *testing.T) {
	assert.True(t, directory.Presence{Availability: "Available"}.IsAvailable())
	assert.False(t, directory.Presence{Availability: "Busy"}.IsAvailable())
	assert.False(t, directory.Presence{Availability: "available"}.IsAvailable())
	assert.False(t, directory.Presence{}.IsAvailable())
}

func TestTagServiceCreateRequiresName(t *testing.T) {
	svc := directory.NewTagService(directorytest.NewFake(), nil)
	_, err := svc.Create(context.Background(), "team", directory.TagInput{DisplayName: "  "})
	require.ErrorIs(t, err, directory.ErrInvalidTag)
}

func TestTagServiceUpdateSkipsRejectedMembers(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "a", "b")
	f.AddMemberErr["bad"] = errors.New("no such user")
	svc := directory.NewTagService(f, nil)

	res, err := svc.Update(context.Background(), "team", "t1", directory.TagInput{
		DisplayName:     "Backend",
		Description:     "server folks",
		AddUserIDs:      []string{"bad", "c"},
		RemoveMemberIDs: []string{"m-t1-a", "m-unknown"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, res.FailedAdds)
	assert.Equal(t, []string{"m-unknown"}, res.FailedRemoves)

	tag, err := svc.Get(context.Background(), "team", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Backend", tag.DisplayName)
	assert.Equal(t, "server folks", tag.Description)

	members, err := svc.Members(context.Background(), "team", "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, userIDs(members))
}

func TestTagServiceUpdateUnknownTag(t *testing.T) {
	svc := directory.NewTagService(directorytest.NewFake(), nil)
	_, err := svc.Update(context.Background(), "team", "nope", directory.TagInput{DisplayName: "x"})
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestTagServiceDuplicate(t *testing.T) {
	f := directorytest.NewFake()
	f.PageSize = 1
	f.AddTag("t1", "a", "b", "c")
	svc := directory.NewTagService(f, nil)

	dup, err := svc.Duplicate(context.Background(), "team", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Tag t1 (1)", dup.DisplayName)
	assert.Equal(t, 3, dup.MemberCount)
	require.Len(t, f.CreatedTags, 1)
	assert.Equal(t, []string{"a", "b", "c"}, f.CreatedTags[0].AddUserIDs)
}

func TestTagServiceDuplicateMissingTag(t *testing.T) {
	f := directorytest.NewFake()
	svc := directory.NewTagService(f, nil)

	_, err := svc.Duplicate(context.Background(), "team", "missing")
	require.ErrorIs(t, err, directory.ErrNotFound)
	assert.Empty(t, f.CreatedTags)
}

func TestTagServiceDelete(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "a")
	svc := directory.NewTagService(f, nil)

	require.NoError(t, svc.Delete(context.Background(), "team", "t1"))
	tags, err := svc.List(context.Background(), "team")
	require.NoError(t, err)
	assert.Empty(t, tags)
}
