// Package ability maps a role to the (action, subject) grants that decide
// which affordances the client shows. Presence of a matching grant is the
// only check: there is no inheritance, precedence or deny rule.
package ability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vidfriends/toptop/internal/models"
)

// Action is what the viewer wants to do.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Subject is what the action applies to.
type Subject string

const (
	SubjectPage       Subject = "Page"
	SubjectAnalytics  Subject = "Analytics"
	SubjectProfile    Subject = "Profile"
	SubjectShortVideo Subject = "ShortVideo"
	// SubjectAll in a grant matches every subject.
	SubjectAll Subject = "all"
)

// Grant is one permitted (action, subject) pair.
type Grant struct {
	Action  Action  `json:"action"`
	Subject Subject `json:"subject"`
}

func (g Grant) String() string {
	return string(g.Action) + ":" + string(g.Subject)
}

// Ability is the set of grants held by one role.
type Ability struct {
	role   string
	grants map[Grant]struct{}
}

var table = map[string][]Grant{
	models.RoleGuest: {
		{ActionRead, SubjectPage},
		{ActionRead, SubjectShortVideo},
	},
	models.RoleUser: {
		{ActionRead, SubjectPage},
		{ActionRead, SubjectProfile},
		{ActionCreate, SubjectShortVideo},
	},
}

// GrantsFor builds the ability for role. Unknown roles get no grants.
func GrantsFor(role string) Ability {
	a := Ability{role: role, grants: make(map[Grant]struct{})}
	for _, g := range table[role] {
		a.grants[g] = struct{}{}
	}
	return a
}

// Role returns the role the ability was built for.
func (a Ability) Role() string {
	return a.role
}

// Grants lists the grants in a stable order.
func (a Ability) Grants() []Grant {
	out := make([]Grant, 0, len(a.grants))
	for g := range a.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Can reports whether the ability holds (action, subject), either directly or
// through an explicit grant on SubjectAll.
func (a Ability) Can(action Action, subject Subject) bool {
	if _, ok := a.grants[Grant{action, subject}]; ok {
		return true
	}
	_, ok := a.grants[Grant{action, SubjectAll}]
	return ok
}

// CanRender is the rendering guard: it shows an affordance only when the
// ability holds the grant.
func CanRender(a Ability, action Action, subject Subject) bool {
	return a.Can(action, subject)
}

// RoleFor picks the role used for gating: guest when logged out, otherwise
// the user's role, defaulting to user.
func RoleFor(loggedIn bool, userRole string) string {
	if !loggedIn {
		return models.RoleGuest
	}
	if r := strings.TrimSpace(userRole); r != "" {
		return r
	}
	return models.RoleUser
}

// ParseGrant reads "action:subject" as used on the command line.
func ParseGrant(s string) (Grant, error) {
	action, subject, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || action == "" || subject == "" {
		return Grant{}, fmt.Errorf("grant %q must look like action:subject", s)
	}
	return Grant{Action: Action(action), Subject: Subject(subject)}, nil
}
