// Package directory describes the external directory provider: tag
// membership, presence, user lookup, conversations and mail. Every call is a
// remote call that can fail on its own.
package directory

import "context"

// MemberLister lists one page of a tag's members.
type MemberLister interface {
	ListTagMembers(ctx context.Context, teamID, tagID, pageToken string) (MemberPage, error)
}

// Gateway is the capability set the question flow and the summarizer consume.
type Gateway interface {
	MemberLister
	GetPresence(ctx context.Context, userID string) (Presence, error)
	// ResolveMailAddress returns ErrNotFound when the user has no mailable address.
	ResolveMailAddress(ctx context.Context, userID string) (string, error)
	// CreateGroupConversation creates a group chat with memberIDs plus ownerID.
	CreateGroupConversation(ctx context.Context, topic string, memberIDs []string, ownerID string) (Conversation, error)
	CreateDirectConversation(ctx context.Context, memberID, ownerID string) (Conversation, error)
	PostMessage(ctx context.Context, conversationID, text string) error
	SendEmail(ctx context.Context, email Email) error
	// GetConversationMessages returns messages in provider order, which may
	// be newest first.
	GetConversationMessages(ctx context.Context, conversationID string) ([]ChatMessage, error)
}

// TagAdmin is the tag management surface of the provider.
type TagAdmin interface {
	MemberLister
	ListTags(ctx context.Context, teamID, pageToken string) (TagPage, error)
	GetTag(ctx context.Context, teamID, tagID string) (Tag, error)
	CreateTag(ctx context.Context, teamID string, in TagInput) (Tag, error)
	PatchTag(ctx context.Context, teamID, tagID, displayName, description string) error
	AddTagMember(ctx context.Context, teamID, tagID, userID string) error
	RemoveTagMember(ctx context.Context, teamID, tagID, memberID string) error
	DeleteTag(ctx context.Context, teamID, tagID string) error
}

// Provider is the full provider surface: question flow plus tag administration.
type Provider interface {
	Gateway
	TagAdmin
}
