// Package directorytest provides an in-memory directory provider for tests.
package directorytest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/kalambet/tagask/internal/directory"
)

// GroupCall records one CreateGroupConversation call.
type GroupCall struct {
	Topic     string
	MemberIDs []string
	OwnerID   string
}

// DirectCall records one CreateDirectConversation call.
type DirectCall struct {
	MemberID string
	OwnerID  string
}

// PostCall records one PostMessage call.
type PostCall struct {
	ConversationID string
	Text           string
}

// Fake implements directory.Gateway and directory.TagAdmin in memory. The
// exported maps are fixtures; the *Err fields inject failures. It is safe
// for concurrent use once populated.
type Fake struct {
	mu sync.Mutex

	// PageSize splits member and tag listings into pages; 0 means one page.
	PageSize int

	Tags       map[string]directory.Tag
	TagOrder   []string
	TagMembers map[string][]directory.Member
	Presence   map[string]directory.Presence
	Mail       map[string]string
	Messages   map[string][]directory.ChatMessage

	MemberErr    map[string]error
	PresenceErr  map[string]error
	MailErr      map[string]error
	AddMemberErr map[string]error
	CreateErr    error
	PostErr      error
	SendErr      error
	MessagesErr  error

	Groups        []GroupCall
	Directs       []DirectCall
	Posts         []PostCall
	Emails        []directory.Email
	PresenceCalls []string
	MemberCalls   int
	CreatedTags   []directory.TagInput

	nextID int
}

func NewFake() *Fake {
	return &Fake{
		Tags:         map[string]directory.Tag{},
		TagMembers:   map[string][]directory.Member{},
		Presence:     map[string]directory.Presence{},
		Mail:         map[string]string{},
		Messages:     map[string][]directory.ChatMessage{},
		MemberErr:    map[string]error{},
		PresenceErr:  map[string]error{},
		MailErr:      map[string]error{},
		AddMemberErr: map[string]error{},
	}
}

// AddTag registers a tag and its members, keyed by user id with the display
// name "Name <id>".
func (f *Fake) AddTag(tagID string, userIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]directory.Member, 0, len(userIDs))
	for _, u := range userIDs {
		members = append(members, directory.Member{ID: "m-" + tagID + "-" + u, UserID: u, DisplayName: "Name " + u})
	}
	if _, ok := f.Tags[tagID]; !ok {
		f.TagOrder = append(f.TagOrder, tagID)
	}
	f.Tags[tagID] = directory.Tag{ID: tagID, DisplayName: "Tag " + tagID, MemberCount: len(members)}
	f.TagMembers[tagID] = members
}

func (f *Fake) newID(prefix string) string {
	f.nextID++
	return prefix + "-" + strconv.Itoa(f.nextID)
}

func page[T any](items []T, token string, size int) ([]T, string, error) {
	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(items) {
			return nil, "", fmt.Errorf("bad page token %q", token)
		}
		start = n
	}
	if size <= 0 || start+size >= len(items) {
		return items[start:], "", nil
	}
	return items[start : start+size], strconv.Itoa(start + size), nil
}

func (f *Fake) ListTagMembers(_ context.Context, _, tagID, pageToken string) (directory.MemberPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MemberCalls++
	if err := f.MemberErr[tagID]; err != nil {
		return directory.MemberPage{}, err
	}
	members, ok := f.TagMembers[tagID]
	if !ok {
		return directory.MemberPage{}, directory.ErrNotFound
	}
	items, next, err := page(members, pageToken, f.PageSize)
	if err != nil {
		return directory.MemberPage{}, err
	}
	return directory.MemberPage{Members: append([]directory.Member(nil), items...), NextPageToken: next}, nil
}

func (f *Fake) GetPresence(_ context.Context, userID string) (directory.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PresenceCalls = append(f.PresenceCalls, userID)
	if err := f.PresenceErr[userID]; err != nil {
		return directory.Presence{}, err
	}
	p, ok := f.Presence[userID]
	if !ok {
		return directory.Presence{}, directory.ErrNotFound
	}
	return p, nil
}

func (f *Fake) ResolveMailAddress(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.MailErr[userID]; err != nil {
		return "", err
	}
	addr, ok := f.Mail[userID]
	if !ok {
		return "", directory.ErrNotFound
	}
	return addr, nil
}

func (f *Fake) CreateGroupConversation(_ context.Context, topic string, memberIDs []string, ownerID string) (directory.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return directory.Conversation{}, f.CreateErr
	}
	f.Groups = append(f.Groups, GroupCall{Topic: topic, MemberIDs: append([]string(nil), memberIDs...), OwnerID: ownerID})
	id := f.newID("chat")
	return directory.Conversation{ID: id, WebURL: "https://chat.example/" + id}, nil
}

func (f *Fake) CreateDirectConversation(_ context.Context, memberID, ownerID string) (directory.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return directory.Conversation{}, f.CreateErr
	}
	f.Directs = append(f.Directs, DirectCall{MemberID: memberID, OwnerID: ownerID})
	id := f.newID("chat")
	return directory.Conversation{ID: id, WebURL: "https://chat.example/" + id}, nil
}

func (f *Fake) PostMessage(_ context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PostErr != nil {
		return f.PostErr
	}
	f.Posts = append(f.Posts, PostCall{ConversationID: conversationID, Text: text})
	return nil
}

func (f *Fake) SendEmail(_ context.Context, email directory.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Emails = append(f.Emails, email)
	return nil
}

func (f *Fake) GetConversationMessages(_ context.Context, conversationID string) ([]directory.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MessagesErr != nil {
		return nil, f.MessagesErr
	}
	return append([]directory.ChatMessage(nil), f.Messages[conversationID]...), nil
}

func (f *Fake) ListTags(_ context.Context, _, pageToken string) (directory.TagPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tags := make([]directory.Tag, 0, len(f.TagOrder))
	for _, id := range f.TagOrder {
		tags = append(tags, f.Tags[id])
	}
	items, next, err := page(tags, pageToken, f.PageSize)
	if err != nil {
		return directory.TagPage{}, err
	}
	return directory.TagPage{Tags: items, NextPageToken: next}, nil
}

func (f *Fake) GetTag(_ context.Context, _, tagID string) (directory.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tags[tagID]
	if !ok {
		return directory.Tag{}, directory.ErrNotFound
	}
	return t, nil
}

func (f *Fake) CreateTag(_ context.Context, _ string, in directory.TagInput) (directory.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreatedTags = append(f.CreatedTags, in)
	id := f.newID("tag")
	t := directory.Tag{ID: id, DisplayName: in.DisplayName, Description: in.Description, MemberCount: len(in.AddUserIDs)}
	f.Tags[id] = t
	f.TagOrder = append(f.TagOrder, id)
	members := make([]directory.Member, 0, len(in.AddUserIDs))
	for _, u := range in.AddUserIDs {
		members = append(members, directory.Member{ID: "m-" + id + "-" + u, UserID: u, DisplayName: "Name " + u})
	}
	f.TagMembers[id] = members
	return t, nil
}

func (f *Fake) PatchTag(_ context.Context, _, tagID, displayName, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tags[tagID]
	if !ok {
		return directory.ErrNotFound
	}
	t.DisplayName = displayName
	t.Description = description
	f.Tags[tagID] = t
	return nil
}

func (f *Fake) AddTagMember(_ context.Context, _, tagID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.AddMemberErr[userID]; err != nil {
		return err
	}
	f.TagMembers[tagID] = append(f.TagMembers[tagID], directory.Member{ID: "m-" + tagID + "-" + userID, UserID: userID, DisplayName: "Name " + userID})
	return nil
}

func (f *Fake) RemoveTagMember(_ context.Context, _, tagID, memberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.TagMembers[tagID]
	for i, m := range members {
		if m.ID == memberID {
			f.TagMembers[tagID] = append(members[:i:i], members[i+1:]...)
			return nil
		}
	}
	return directory.ErrNotFound
}

func (f *Fake) DeleteTag(_ context.Context, _, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Tags[tagID]; !ok {
		return directory.ErrNotFound
	}
	delete(f.Tags, tagID)
	delete(f.TagMembers, tagID)
	for i, id := range f.TagOrder {
		if id == tagID {
			f.TagOrder = append(f.TagOrder[:i:i], f.TagOrder[i+1:]...)
			break
		}
	}
	return nil
}

var (
	_ directory.Gateway  = (*Fake)(nil)
	_ directory.TagAdmin = (*Fake)(nil)
)
