package graph

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kalambet/tagask/internal/directory"
)

const defaultScope = "https://graph.microsoft.com/.default"

// AppCredentials identify the application for app-only Graph access.
type AppCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the tenant token endpoint.
	TokenURL string
}

func (a AppCredentials) tokenURL() string {
	if a.TokenURL != "" {
		return a.TokenURL
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", a.TenantID)
}

// TokenSource returns a caching client-credentials token source.
func (a AppCredentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	cfg := clientcredentials.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     a.tokenURL(),
		Scopes:       []string{defaultScope},
	}
	return cfg.TokenSource(ctx)
}

// Configured reports whether enough is set to request app tokens.
func (a AppCredentials) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != "" && (a.TenantID != "" || a.TokenURL != "")
}

// Factory hands out providers bound to either the app identity or a
// caller-supplied delegated token.
type Factory struct {
	app  oauth2.TokenSource
	opts []Option
}

// NewFactory builds a factory. app may be nil, in which case only
// caller tokens work.
func NewFactory(app oauth2.TokenSource, opts ...Option) *Factory {
	if app != nil {
		app = oauth2.ReuseTokenSource(nil, app)
	}
	return &Factory{app: app, opts: opts}
}

// ErrNoCredentials is returned when neither a caller token nor app
// credentials are available.
var ErrNoCredentials = errors.New("graph: no app credentials configured and no caller token supplied")

// Provider returns a provider for token, or for the app identity when token
// is empty.
func (f *Factory) Provider(token string) (directory.Provider, error) {
	if token != "" {
		return New(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), f.opts...), nil
	}
	if f.app == nil {
		return nil, ErrNoCredentials
	}
	return New(f.app, f.opts...), nil
}
