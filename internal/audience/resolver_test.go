package audience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tagask/internal/directory"
	"github.com/kalambet/tagask/internal/directory/directorytest"
)

func ids(members []directory.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.UserID)
	}
	return out
}

func TestResolveIntersection(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "u1", "u2", "u3")
	f.AddTag("t2", "u2", "u3", "u4")
	r := NewResolver(f, nil)

	got, err := r.Resolve(context.Background(), "T", []string{"t1", "t2"}, "u0", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, ids(got))
	assert.Equal(t, "Name u2", got[0].DisplayName)
}

func TestResolveExcludesRequester(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "u0", "u1")
	r := NewResolver(f, nil)

	got, err := r.Resolve(context.Background(), "T", []string{"t1"}, "u0", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids(got))
}

func TestResolveEmptyTagYieldsEmptyAudience(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "u1", "u2")
	f.AddTag("t3")
	r := NewResolver(f, nil)

	got, err := r.Resolve(context.Background(), "T", []string{"t1", "t3"}, "u0", false)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestResolveOnlyRequesterYieldsEmptyAudience(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "u0")
	r := NewResolver(f, nil)

	got, err := r.Resolve(context.Background(), "T", []string{"t1"}, "u0", false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveDuplicateTagsAndMembers(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "u1", "u2", "u1")
	r := NewResolver(f, nil)

	got, err := r.Resolve(context.Background(), "T", []string{"t1", "t1"}, "u0", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids(got))
	assert.Equal(t, 1, f.MemberCalls, "duplicate tag ids are fetched once")
}

func TestResolveDrainsAllPages(t *testing.T) {
	f := directorytest.NewFake()
	f.PageSize = 2
	f.AddTag("t1", "u1", "u2", "u3", "u4", "u5")
	f.AddTag("t2", "u5", "u1")
	r := NewResolver(f, nil)

	got, err := r.Resolve(context.Background(), "T", []string{"t1", "t2"}, "u0", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u5"}, ids(got))
}

func TestResolveMembershipFailureFails(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "u1")
	f.AddTag("t2", "u1")
	boom := errors.New("graph down")
	f.MemberErr["t2"] = boom
	r := NewResolver(f, nil)

	_, err := r.Resolve(context.Background(), "T", []string{"t1", "t2"}, "u0", false)
	require.ErrorIs(t, err, boom)
}

func TestResolveNoTags(t *testing.T) {
	r := NewResolver(directorytest.NewFake(), nil)
	_, err := r.Resolve(context.Background(), "T", nil, "u0", false)
	require.ErrorIs(t, err, ErrNoTags)
}

func TestResolveOnlyOnlineFailsClosed(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "u1", "u2", "u3", "u4", "u5")
	f.Presence["u1"] = directory.Presence{Availability: "Available"}
	f.Presence["u2"] = directory.Presence{Availability: "Busy"}
	f.Presence["u3"] = directory.Presence{Availability: "Available"}
	f.PresenceErr["u3"] = errors.New("timeout")
	f.Presence["u5"] = directory.Presence{Availability: "Available"}
	// u4 has no presence data at all.
	r := NewResolver(f, nil)

	got, err := r.Resolve(context.Background(), "T", []string{"t1"}, "u0", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u5"}, ids(got))
	assert.Len(t, f.PresenceCalls, 5)
}

func TestResolveSkipsPresenceWhenNotRequested(t *testing.T) {
	f := directorytest.NewFake()
	f.AddTag("t1", "u1")
	r := NewResolver(f, nil)

	_, err := r.Resolve(context.Background(), "T", []string{"t1"}, "u0", false)
	require.NoError(t, err)
	assert.Empty(t, f.PresenceCalls)
}

// TestResolveProperties checks the requester, intersection and idempotence
// properties over randomly generated memberships.
func TestResolveProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}

	for iter := range 200 {
		f := directorytest.NewFake()
		f.PageSize = 1 + rng.IntN(3)
		nTags := 1 + rng.IntN(4)
		tags := make([]string, nTags)
		membership := make(map[string]map[string]bool, nTags)
		for i := range nTags {
			tag := fmt.Sprintf("t%d", i)
			tags[i] = tag
			membership[tag] = map[string]bool{}
			var members []string
			for _, u := range users {
				if rng.IntN(2) == 0 {
					members = append(members, u)
					membership[tag][u] = true
				}
			}
			f.AddTag(tag, members...)
		}
		r := NewResolver(f, nil)

		first, err := r.Resolve(context.Background(), "T", tags, "u0", false)
		require.NoError(t, err, "iteration %d", iter)
		for _, m := range first {
			assert.NotEqual(t, "u0", m.UserID, "iteration %d", iter)
			for _, tag := range tags {
				assert.True(t, membership[tag][m.UserID], "iteration %d: %s not in %s", iter, m.UserID, tag)
			}
		}

		// Every user in all tags (other than the requester) is present.
		var want []string
		for _, u := range users[1:] {
			inAll := true
			for _, tag := range tags {
				inAll = inAll && membership[tag][u]
			}
			if inAll {
				want = append(want, u)
			}
		}
		sortStrings := cmpopts.SortSlices(func(a, b string) bool { return a < b })
		if diff := cmp.Diff(want, ids(first), sortStrings, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("iteration %d: audience mismatch (-want +got):\n%s", iter, diff)
		}

		second, err := r.Resolve(context.Background(), "T", tags, "u0", false)
		require.NoError(t, err)
		if diff := cmp.Diff(ids(first), ids(second), sortStrings, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("iteration %d: re-resolution differs (-first +second):\n%s", iter, diff)
		}
	}
}
