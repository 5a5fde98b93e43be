// Package permission decides whether a set of roles may perform an action.
package permission

import (
	"sort"
	"strings"
)

type Action int

const (
	StrikeManage Action = iota
	ApplicationReview
	SuggestionModerate
	TicketManage
	RestrictedPost
)

func (a Action) String() string {
	switch a {
	case StrikeManage:
		return "strike_manage"
	case ApplicationReview:
		return "application_review"
	case SuggestionModerate:
		return "suggestion_moderate"
	case TicketManage:
		return "ticket_manage"
	case RestrictedPost:
		return "restricted_post"
	default:
		return "unknown"
	}
}

// Policy is a flat allowlist of role names or IDs per action. There is no
// hierarchy: an actor is authorized when any of its roles is listed.
type Policy struct {
	allowed map[Action]map[string]struct{}
}

// NewPolicy grants every action to the given admin roles.
func NewPolicy(adminRoles []string) *Policy {
	p := &Policy{allowed: make(map[Action]map[string]struct{})}
	for _, a := range []Action{StrikeManage, ApplicationReview, SuggestionModerate, TicketManage, RestrictedPost} {
		p.Allow(a, adminRoles...)
	}
	return p
}

func (p *Policy) Allow(action Action, roles ...string) {
	set, ok := p.allowed[action]
	if !ok {
		set = make(map[string]struct{})
		p.allowed[action] = set
	}
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			set[r] = struct{}{}
		}
	}
}

func (p *Policy) IsAuthorized(roles []string, action Action) bool {
	if p == nil {
		return false
	}
	set := p.allowed[action]
	if len(set) == 0 {
		return false
	}
	for _, r := range roles {
		if _, ok := set[strings.TrimSpace(r)]; ok {
			return true
		}
	}
	return false
}

// Roles lists the roles allowed to perform action, sorted by name.
func (p *Policy) Roles(action Action) []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.allowed[action]))
	for r := range p.allowed[action] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
