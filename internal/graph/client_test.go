package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kalambet/tagask/internal/directory"
)

func newTestClient(t *testing.T, mux *http.ServeMux, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL), WithBackoff(time.Millisecond)}, opts...)
	return New(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}), opts...), srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListTagMembersFollowsNextLink(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("GET /teams/team-1/tags/tag-1/members", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.URL.Query().Get("$skiptoken") == "" {
			writeJSON(w, 200, map[string]any{
				"value":           []map[string]string{{"id": "m1", "userId": "u1", "displayName": "Ann"}},
				"@odata.nextLink": srvURL + "/teams/team-1/tags/tag-1/members?$skiptoken=abc",
			})
			return
		}
		writeJSON(w, 200, map[string]any{
			"value": []map[string]string{{"id": "m2", "userId": "u2", "displayName": "Bob"}},
		})
	})
	c, srv := newTestClient(t, mux)
	srvURL = srv.URL

	members, err := directory.CollectMembers(context.Background(), c, "team-1", "tag-1")
	require.NoError(t, err)
	assert.Equal(t, []directory.Member{
		{ID: "m1", UserID: "u1", DisplayName: "Ann"},
		{ID: "m2", UserID: "u2", DisplayName: "Bob"},
	}, members)
}

func TestListTagMembersRejectsForeignPageToken(t *testing.T) {
	c, _ := newTestClient(t, http.NewServeMux())
	_, err := c.ListTagMembers(context.Background(), "team", "tag", "https://evil.example/next")
	require.Error(t, err)
}

func TestNotFoundMapsToErrNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/u1/presence", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, map[string]any{"error": map[string]string{"code": "NotFound", "message": "no presence"}})
	})
	c, _ := newTestClient(t, mux)

	_, err := c.GetPresence(context.Background(), "u1")
	require.ErrorIs(t, err, directory.ErrNotFound)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.Status)
	assert.Equal(t, "NotFound", se.Code)
	assert.Equal(t, "no presence", se.Message)
}

func TestServerErrorIsNotNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /teams/t/tags/g", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.GetTag(context.Background(), "t", "g")
	require.Error(t, err)
	assert.False(t, errors.Is(err, directory.ErrNotFound))
}

func TestRateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/u1/presence", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, 200, map[string]string{"availability": "Available", "activity": "Available"})
	})
	c, _ := newTestClient(t, mux)

	p, err := c.GetPresence(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, p.IsAvailable())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitGivesUp(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/u1/presence", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.GetPresence(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, isRateLimit(err))
	assert.Equal(t, int32(maxRetries), calls.Load())
}

func TestResolveMailAddress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "userPrincipalName,mail", r.URL.Query().Get("$select"))
		switch r.PathValue("id") {
		case "upn":
			writeJSON(w, 200, map[string]string{"userPrincipalName": "ann@corp.example", "mail": "ann.alt@corp.example"})
		case "mail":
			writeJSON(w, 200, map[string]string{"mail": "bob@corp.example"})
		default:
			writeJSON(w, 200, map[string]string{})
		}
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	addr, err := c.ResolveMailAddress(ctx, "upn")
	require.NoError(t, err)
	assert.Equal(t, "ann@corp.example", addr)

	addr, err = c.ResolveMailAddress(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, "bob@corp.example", addr)

	_, err = c.ResolveMailAddress(ctx, "none")
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestCreateGroupConversationBindsOwners(t *testing.T) {
	var got createChat
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, 201, map[string]string{"id": "chat-1", "webUrl": "https://teams.example/chat-1"})
	})
	c, _ := newTestClient(t, mux)

	conv, err := c.CreateGroupConversation(context.Background(), "Deploys", []string{"u1", "u2", "req"}, "req")
	require.NoError(t, err)
	assert.Equal(t, directory.Conversation{ID: "chat-1", WebURL: "https://teams.example/chat-1"}, conv)

	assert.Equal(t, "group", got.ChatType)
	assert.Equal(t, "Deploys", got.Topic)
	require.Len(t, got.Members, 3)
	assert.Equal(t, "https://graph.microsoft.com/v1.0/users('u1')", got.Members[0].UserBind)
	assert.Equal(t, "https://graph.microsoft.com/v1.0/users('req')", got.Members[2].UserBind)
	for _, m := range got.Members {
		assert.Equal(t, []string{"owner"}, m.Roles)
		assert.Equal(t, memberODataType, m.ODataType)
	}
}

func TestCreateDirectConversation(t *testing.T) {
	var got createChat
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, 201, map[string]string{"id": "chat-2"})
	})
	c, _ := newTestClient(t, mux)

	_, err := c.CreateDirectConversation(context.Background(), "u1", "req")
	require.NoError(t, err)
	assert.Equal(t, "oneOnOne", got.ChatType)
	assert.Empty(t, got.Topic)
	assert.Len(t, got.Members, 2)
}

func TestPostMessage(t *testing.T) {
	var got map[string]map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats/chat-1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, 201, map[string]string{"id": "msg-1"})
	})
	c, _ := newTestClient(t, mux)

	require.NoError(t, c.PostMessage(context.Background(), "chat-1", "how do I deploy?"))
	assert.Equal(t, "how do I deploy?", got["body"]["content"])
}

func TestSendEmailAsConfiguredSender(t *testing.T) {
	var got struct {
		Message         mailMessage `json:"message"`
		SaveToSentItems bool        `json:"saveToSentItems"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/sender-1/sendMail", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})
	c, _ := newTestClient(t, mux, WithMailSender("sender-1"))

	err := c.SendEmail(context.Background(), directory.Email{
		Subject: "Call for aid - Deploys - Backend",
		Body:    "help",
		To:      []string{"a@corp.example", "b@corp.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Call for aid - Deploys - Backend", got.Message.Subject)
	assert.Equal(t, "Text", got.Message.Body.ContentType)
	require.Len(t, got.Message.ToRecipients, 2)
	assert.Equal(t, "b@corp.example", got.Message.ToRecipients[1].EmailAddress.Address)
	assert.True(t, got.SaveToSentItems)
}

func TestGetConversationMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats/chat-1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[
			{"id":"2","createdDateTime":"2026-01-02T10:00:00Z","from":{"user":{"displayName":"Bob"}},"body":{"contentType":"html","content":"<p>try this</p>"}},
			{"id":"1","createdDateTime":"2026-01-02T09:00:00Z","from":null,"body":{"contentType":"text","content":"hello"}}
		]}`))
	})
	c, _ := newTestClient(t, mux)

	msgs, err := c.GetConversationMessages(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bob", msgs[0].SenderName)
	assert.Equal(t, "html", msgs[0].ContentType)
	assert.Empty(t, msgs[1].SenderName)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestTagAdminRoundTrip(t *testing.T) {
	var created map[string]any
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /teams/t/tags", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		writeJSON(w, 201, map[string]any{"id": "tag-9", "displayName": created["displayName"], "membersCount": 2})
	})
	mux.HandleFunc("DELETE /teams/t/tags/{tag}/members/{member}", func(w http.ResponseWriter, r *http.Request) {
		deleted = append(deleted, r.PathValue("member"))
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	tag, err := c.CreateTag(ctx, "t", directory.TagInput{DisplayName: "Backend", AddUserIDs: []string{"u1", "u2"}})
	require.NoError(t, err)
	assert.Equal(t, "tag-9", tag.ID)
	assert.Equal(t, 2, tag.MemberCount)
	assert.Len(t, created["members"], 2)

	require.NoError(t, c.RemoveTagMember(ctx, "t", "tag-9", "m-1"))
	assert.Equal(t, []string{"m-1"}, deleted)
}

func TestFactory(t *testing.T) {
	f := NewFactory(nil)
	_, err := f.Provider("")
	require.ErrorIs(t, err, ErrNoCredentials)

	p, err := f.Provider("caller-token")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestAppCredentialsTokenSource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, defaultScope, r.Form.Get("scope"))
		writeJSON(w, 200, map[string]any{"access_token": "app-tok", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("GET /users/u1/presence", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer app-tok", r.Header.Get("Authorization"))
		writeJSON(w, 200, map[string]string{"availability": "Busy"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	creds := AppCredentials{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL + "/token"}
	require.True(t, creds.Configured())

	f := NewFactory(creds.TokenSource(context.Background()), WithBaseURL(srv.URL))
	p, err := f.Provider("")
	require.NoError(t, err)

	pres, err := p.GetPresence(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Busy", pres.Availability)
}
