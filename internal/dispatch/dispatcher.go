// Package dispatch delivers a question to a resolved audience by group chat,
// one-to-one chat or email.
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tagask/internal/directory"
)

type Delivery string

const (
	DeliveryEmail Delivery = "email"
	DeliveryTeams Delivery = "teams"
)

type Target string

const (
	TargetAll       Target = "all"
	TargetOneRandom Target = "one_random"
)

// Strategy is the concrete channel an Intent selects.
type Strategy string

const (
	StrategyEmail  Strategy = "email"
	StrategyGroup  Strategy = "group"
	StrategyDirect Strategy = "direct"
)

// Intent describes how a question should be delivered. TagNames feed the
// email subject.
type Intent struct {
	Delivery Delivery
	Target   Target
	TagNames []string
}

// Strategy maps delivery and target to a channel. Email ignores the target.
func (i Intent) Strategy() Strategy {
	switch {
	case i.Delivery == DeliveryEmail:
		return StrategyEmail
	case i.Target == TargetOneRandom:
		return StrategyDirect
	default:
		return StrategyGroup
	}
}

type Recipient struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Receipt describes a completed delivery. Conversation fields are empty for
// email. Recipients never include the requester.
type Receipt struct {
	ConversationID  string      `json:"conversationId,omitempty"`
	ConversationURL string      `json:"conversationUrl,omitempty"`
	Recipients      []Recipient `json:"recipients"`
	ViaEmail        bool        `json:"viaEmail"`
}

// Names returns recipient display names in receipt order.
func (r Receipt) Names() []string {
	out := make([]string, 0, len(r.Recipients))
	for _, rc := range r.Recipients {
		out = append(out, rc.DisplayName)
	}
	return out
}

// Rand picks an index in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Channel is the part of the provider the dispatcher writes to.
type Channel interface {
	ResolveMailAddress(ctx context.Context, userID string) (string, error)
	CreateGroupConversation(ctx context.Context, topic string, memberIDs []string, ownerID string) (directory.Conversation, error)
	CreateDirectConversation(ctx context.Context, memberID, ownerID string) (directory.Conversation, error)
	PostMessage(ctx context.Context, conversationID, text string) error
	SendEmail(ctx context.Context, email directory.Email) error
}

type Dispatcher struct {
	ch     Channel
	rnd    Rand
	logger *zap.Logger
}

type Option func(*Dispatcher)

// WithRand replaces the random source used for one-random targeting.
func WithRand(r Rand) Option {
	return func(d *Dispatcher) { d.rnd = r }
}

func NewDispatcher(ch Channel, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{ch: ch, rnd: globalRand{}, logger: logger}
	for _, o := range opts {
		o(d)
	}
	return d
}

// EmailSubject builds the subject line for an emailed question.
func EmailSubject(topic string, tagNames []string) string {
	return fmt.Sprintf("Call for aid - %s - %s", topic, strings.Join(tagNames, ", "))
}

// Dispatch delivers body to audience using the strategy intent selects.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent, audience []directory.Member, requesterID, topic, body string) (Receipt, error) {
	if len(audience) == 0 {
		return Receipt{}, ErrEmptyAudience
	}
	switch intent.Strategy() {
	case StrategyEmail:
		return d.email(ctx, intent, audience, topic, body)
	case StrategyDirect:
		pick := audience[d.rnd.IntN(len(audience))]
		conv, err := d.ch.CreateDirectConversation(ctx, pick.UserID, requesterID)
		if err != nil {
			return Receipt{}, &DeliveryError{Strategy: StrategyDirect, Err: err}
		}
		return d.post(ctx, StrategyDirect, conv, []directory.Member{pick}, body)
	default:
		memberIDs := make([]string, 0, len(audience))
		for _, m := range audience {
			memberIDs = append(memberIDs, m.UserID)
		}
		conv, err := d.ch.CreateGroupConversation(ctx, topic, memberIDs, requesterID)
		if err != nil {
			return Receipt{}, &DeliveryError{Strategy: StrategyGroup, Err: err}
		}
		return d.post(ctx, StrategyGroup, conv, audience, body)
	}
}

func (d *Dispatcher) post(ctx context.Context, s Strategy, conv directory.Conversation, members []directory.Member, body string) (Receipt, error) {
	if err := d.ch.PostMessage(ctx, conv.ID, body); err != nil {
		return Receipt{}, &PartialDispatchError{Strategy: s, Conversation: conv, Err: err}
	}
	return Receipt{
		ConversationID:  conv.ID,
		ConversationURL: conv.WebURL,
		Recipients:      recipients(members),
	}, nil
}

func (d *Dispatcher) email(ctx context.Context, intent Intent, audience []directory.Member, topic, body string) (Receipt, error) {
	addrs := make([]string, len(audience))
	var g errgroup.Group
	g.SetLimit(4)
	for i, m := range audience {
		g.Go(func() error {
			addr, err := d.ch.ResolveMailAddress(ctx, m.UserID)
			if err != nil {
				d.logger.Debug("mail address not resolved, skipping member",
					zap.String("user_id", m.UserID), zap.Error(err))
				return nil
			}
			addrs[i] = addr
			return nil
		})
	}
	_ = g.Wait()

	var (
		to      []string
		reached []directory.Member
	)
	for i, addr := range addrs {
		if addr == "" {
			continue
		}
		to = append(to, addr)
		reached = append(reached, audience[i])
	}
	if len(to) == 0 {
		return Receipt{}, &DeliveryError{Strategy: StrategyEmail, Err: ErrNoMailAddresses}
	}

	msg := directory.Email{Subject: EmailSubject(topic, intent.TagNames), Body: body, To: to}
	if err := d.ch.SendEmail(ctx, msg); err != nil {
		return Receipt{}, &DeliveryError{Strategy: StrategyEmail, Err: err}
	}
	return Receipt{Recipients: recipients(reached), ViaEmail: true}, nil
}

func recipients(members []directory.Member) []Recipient {
	out := make([]Recipient, 0, len(members))
	for _, m := range members {
		out = append(out, Recipient{UserID: m.UserID, DisplayName: m.DisplayName})
	}
	return out
}
