package graph

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/tagask/internal/directory"
)

const (
	memberODataType = "#microsoft.graph.aadUserConversationMember"
	userBindFormat  = "https://graph.microsoft.com/v1.0/users('%s')"
)

type memberDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type memberList struct {
	Value    []memberDTO `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

func (c *Client) ListTagMembers(ctx context.Context, teamID, tagID, pageToken string) (directory.MemberPage, error) {
	u, err := c.pageURL(c.url("/teams/%s/tags/%s/members", teamID, tagID), pageToken)
	if err != nil {
		return directory.MemberPage{}, err
	}
	var list memberList
	if err := c.do(ctx, http.MethodGet, u, nil, &list); err != nil {
		return directory.MemberPage{}, err
	}
	page := directory.MemberPage{NextPageToken: list.NextLink}
	for _, m := range list.Value {
		page.Members = append(page.Members, directory.Member{ID: m.ID, UserID: m.UserID, DisplayName: m.DisplayName})
	}
	return page, nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (directory.Presence, error) {
	var p directory.Presence
	if err := c.do(ctx, http.MethodGet, c.url("/users/%s/presence", userID), nil, &p); err != nil {
		return directory.Presence{}, err
	}
	return p, nil
}

// ResolveMailAddress prefers the user principal name and falls back to the
// mail attribute.
func (c *Client) ResolveMailAddress(ctx context.Context, userID string) (string, error) {
	var u struct {
		UserPrincipalName string `json:"userPrincipalName"`
		Mail              string `json:"mail"`
	}
	if err := c.do(ctx, http.MethodGet, c.url("/users/%s", userID)+"?$select=userPrincipalName,mail", nil, &u); err != nil {
		return "", err
	}
	switch {
	case u.UserPrincipalName != "":
		return u.UserPrincipalName, nil
	case u.Mail != "":
		return u.Mail, nil
	}
	return "", fmt.Errorf("user %s has no mail address: %w", userID, directory.ErrNotFound)
}

type chatMember struct {
	ODataType string   `json:"@odata.type"`
	Roles     []string `json:"roles"`
	UserBind  string   `json:"user@odata.bind"`
}

type createChat struct {
	ChatType string       `json:"chatType"`
	Topic    string       `json:"topic,omitempty"`
	Members  []chatMember `json:"members"`
}

// chatMembers binds every id as an owner; ownerID is appended when absent.
func chatMembers(memberIDs []string, ownerID string) []chatMember {
	seen := make(map[string]bool, len(memberIDs)+1)
	var out []chatMember
	for _, id := range append(append([]string(nil), memberIDs...), ownerID) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, chatMember{
			ODataType: memberODataType,
			Roles:     []string{"owner"},
			UserBind:  fmt.Sprintf(userBindFormat, id),
		})
	}
	return out
}

func (c *Client) createChat(ctx context.Context, body createChat) (directory.Conversation, error) {
	var conv directory.Conversation
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/chats", body, &conv); err != nil {
		return directory.Conversation{}, err
	}
	return conv, nil
}

func (c *Client) CreateGroupConversation(ctx context.Context, topic string, memberIDs []string, ownerID string) (directory.Conversation, error) {
	return c.createChat(ctx, createChat{ChatType: "group", Topic: topic, Members: chatMembers(memberIDs, ownerID)})
}

func (c *Client) CreateDirectConversation(ctx context.Context, memberID, ownerID string) (directory.Conversation, error) {
	return c.createChat(ctx, createChat{ChatType: "oneOnOne", Members: chatMembers([]string{memberID}, ownerID)})
}

func (c *Client) PostMessage(ctx context.Context, conversationID, text string) error {
	body := map[string]any{"body": map[string]string{"content": text}}
	return c.do(ctx, http.MethodPost, c.url("/chats/%s/messages", conversationID), body, nil)
}

type emailAddress struct {
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type mailBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type mailMessage struct {
	Subject      string      `json:"subject"`
	Body         mailBody    `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
}

func (c *Client) SendEmail(ctx context.Context, email directory.Email) error {
	msg := mailMessage{
		Subject: email.Subject,
		Body:    mailBody{ContentType: "Text", Content: email.Body},
	}
	for _, to := range email.To {
		msg.ToRecipients = append(msg.ToRecipients, recipient{EmailAddress: emailAddress{Address: to}})
	}
	u := c.baseURL + "/me/sendMail"
	if c.mailSender != "" {
		u = c.url("/users/%s/sendMail", c.mailSender)
	}
	body := map[string]any{"message": msg, "saveToSentItems": true}
	return c.do(ctx, http.MethodPost, u, body, nil)
}

type messageDTO struct {
	ID              string    `json:"id"`
	CreatedDateTime time.Time `json:"createdDateTime"`
	From            *struct {
		User *struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// GetConversationMessages returns messages as Graph lists them, newest first.
func (c *Client) GetConversationMessages(ctx context.Context, conversationID string) ([]directory.ChatMessage, error) {
	var out []directory.ChatMessage
	u := c.url("/chats/%s/messages", conversationID)
	for range maxMessagePages {
		var list struct {
			Value    []messageDTO `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, http.MethodGet, u, nil, &list); err != nil {
			return nil, err
		}
		for _, m := range list.Value {
			msg := directory.ChatMessage{
				ID:          m.ID,
				Content:     m.Body.Content,
				ContentType: m.Body.ContentType,
				CreatedAt:   m.CreatedDateTime,
			}
			if m.From != nil && m.From.User != nil {
				msg.SenderName = m.From.User.DisplayName
			}
			out = append(out, msg)
		}
		if list.NextLink == "" {
			break
		}
		next, err := c.pageURL("", list.NextLink)
		if err != nil {
			return nil, err
		}
		u = next
	}
	return out, nil
}
