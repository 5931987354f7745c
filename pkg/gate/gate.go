// Package gate decides whether link parsing is switched on for a chat.
package gate

import (
	"context"
	"strings"
)

// Gate is consulted before any extraction work is done for a message.
type Gate interface {
	Allowed(ctx context.Context, chatID string) (bool, error)
}

type Rules struct {
	// Enabled is the global switch.
	Enabled bool
	// AllowPrivate lets direct messages through. Group toggles never apply to them.
	AllowPrivate bool
	// DefaultEnabled is the state of a group with no stored toggle.
	DefaultEnabled bool
}

// Policy combines the static rules with per-group toggles from a Store.
type Policy struct {
	rules Rules
	store *Store
}

var _ Gate = (*Policy)(nil)

func NewPolicy(store *Store, rules Rules) *Policy {
	return &Policy{rules: rules, store: store}
}

func (p *Policy) Allowed(ctx context.Context, chatID string) (bool, error) {
	if !p.rules.Enabled {
		return false, nil
	}

	groupID, isGroup := GroupID(chatID)
	if !isGroup {
		return p.rules.AllowPrivate && strings.HasPrefix(chatID, "private:"), nil
	}
	if p.store == nil {
		return p.rules.DefaultEnabled, nil
	}

	enabled, found, err := p.store.Enabled(ctx, groupID)
	if err != nil {
		return false, err
	}
	if !found {
		return p.rules.DefaultEnabled, nil
	}
	return enabled, nil
}

// GroupID extracts the numeric group id from a "group:<id>" chat id.
func GroupID(chatID string) (string, bool) {
	if !strings.HasPrefix(chatID, "group:") {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimPrefix(chatID, "group:"))
	return id, id != ""
}

// Static allows or denies every chat. Used when no store is configured.
type Static bool

func (s Static) Allowed(context.Context, string) (bool, error) {
	return bool(s), nil
}
