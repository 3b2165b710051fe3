package directory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when the provider has no record of the requested
// user, tag, address or presence.
var ErrNotFound = errors.New("directory: not found")

// AvailabilityAvailable is the only presence value treated as online.
const AvailabilityAvailable = "Available"

type Tag struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	MemberCount int    `json:"membersCount"`
}

// Member is one tag membership. ID is the provider's membership record id,
// used only to remove the member from the tag; UserID identifies the person.
type Member struct {
	ID          string `json:"id,omitempty"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// MemberPage is a single page of a tag's membership. An empty NextPageToken
// marks the last page.
type MemberPage struct {
	Members       []Member
	NextPageToken string
}

// TagPage is a single page of a team's tags.
type TagPage struct {
	Tags          []Tag
	NextPageToken string
}

type Presence struct {
	Availability string `json:"availability"`
	Activity     string `json:"activity,omitempty"`
}

// IsAvailable reports whether the presence snapshot says the user is online.
func (p Presence) IsAvailable() bool {
	return p.Availability == AvailabilityAvailable
}

// Conversation identifies a chat created by the provider.
type Conversation struct {
	ID     string `json:"id"`
	WebURL string `json:"webUrl,omitempty"`
}

// ChatMessage is one message of a conversation as returned by the provider.
// ContentType is "text" or "html".
type ChatMessage struct {
	ID          string
	SenderName  string
	Content     string
	ContentType string
	CreatedAt   time.Time
}

type Email struct {
	Subject string
	Body    string
	To      []string
}

// TagInput carries the mutable fields of a tag. AddUserIDs are user ids to
// add; RemoveMemberIDs are membership record ids to remove.
type TagInput struct {
	DisplayName     string   `json:"displayName"`
	Description     string   `json:"description"`
	AddUserIDs      []string `json:"membersToBeAdded,omitempty"`
	RemoveMemberIDs []string `json:"membersToBeDeleted,omitempty"`
}
