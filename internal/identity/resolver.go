// Package identity reconciles the ways an order can reference a delivery
// agent: the issued agent key, or on legacy records a raw display name or
// phone number.
package identity

import (
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

type MatchKind string

const (
	MatchNone        MatchKind = "none"
	MatchKey         MatchKind = "key"
	MatchDisplayName MatchKind = "display_name"
	MatchPhone       MatchKind = "phone"
)

// Match is the tagged result of matching one order against one agent.
type Match struct {
	Kind MatchKind
}

func (m Match) Matched() bool { return m.Kind != MatchNone }

// Fallback is true for alias matches, which carry lower confidence than a key match.
func (m Match) Fallback() bool { return m.Kind == MatchDisplayName || m.Kind == MatchPhone }

type Observer interface {
	ObserveMatch(matchedBy string)
}

type Resolver struct {
	log    *zap.Logger
	obs    Observer
	legacy bool
}

// NewResolver builds a resolver. With legacy=false only canonical keys match.
func NewResolver(log *zap.Logger, obs Observer, legacy bool) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log, obs: obs, legacy: legacy}
}

// CanonicalKey is always the issued identifier.
func (r *Resolver) CanonicalKey(a orders.Agent) string {
	return a.Key
}

// Match reports whether o is assigned to a and by which rule. Alias matching
// only applies to records that lack a canonical key.
func (r *Resolver) Match(o *orders.Order, a orders.Agent) Match {
	if key := deref(o.AssignedAgentKey); key != "" {
		if key == r.CanonicalKey(a) {
			r.observe(MatchKey)
			return Match{Kind: MatchKey}
		}
		return Match{Kind: MatchNone}
	}
	if !r.legacy {
		return Match{Kind: MatchNone}
	}

	// Aliases compare exactly; case or formatting differences do not match.
	alias := deref(o.AssignedAgentDisplayName)
	if alias == "" {
		return Match{Kind: MatchNone}
	}
	kind := MatchNone
	switch {
	case alias == a.Name:
		kind = MatchDisplayName
	case alias == a.Phone:
		kind = MatchPhone
	}
	if kind == MatchNone {
		return Match{Kind: MatchNone}
	}

	r.observe(kind)
	r.log.Warn("order matched to agent by alias",
		zap.String("order_id", o.OrderID),
		zap.String("agent_key", a.Key),
		zap.String("matched_by", string(kind)),
	)
	return Match{Kind: kind}
}

// Owns is the authorization check for status changes: only a canonical key
// match counts, aliases never authorize.
func (r *Resolver) Owns(o *orders.Order, a orders.Agent) bool {
	key := deref(o.AssignedAgentKey)
	return key != "" && key == r.CanonicalKey(a)
}

func (r *Resolver) observe(k MatchKind) {
	if r.obs != nil {
		r.obs.ObserveMatch(string(k))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
