package access

import "strings"

// Policy decides whether a user may run administrator operations.
type Policy interface {
	IsAdmin(userID string) bool
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(userID string) bool

func (f PolicyFunc) IsAdmin(userID string) bool { return f(userID) }

// StaticPolicy grants admin rights to a fixed set of user ids.
type StaticPolicy struct {
	ids map[string]struct{}
}

func NewStaticPolicy(ids ...string) *StaticPolicy {
	p := &StaticPolicy{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		p.ids[id] = struct{}{}
	}
	return p
}

func (p *StaticPolicy) IsAdmin(userID string) bool {
	if p == nil {
		return false
	}
	_, ok := p.ids[userID]
	return ok
}
