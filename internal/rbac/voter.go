package rbac

import (
	"context"
	"strings"
)

// Decision is the outcome of an authorization vote.
type Decision int

const (
	// Abstain means the attribute is outside this voter's scope.
	Abstain Decision = iota
	// Granted means the principal holds the requested permission.
	Granted
	// Denied means the principal does not hold the requested permission.
	Denied
)

func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "abstain"
	}
}

// AttributePrefix marks the attributes this voter handles.
const AttributePrefix = "PERMISSION_"

// Voter maps an authorization request to grant/deny/abstain by
// consulting the Manager. It holds no state and performs no caching, so
// a decision is fully determined by the persisted assignments.
type Voter struct {
	manager *Manager
}

// NewVoter constructs a Voter over the given manager.
func NewVoter(manager *Manager) *Voter {
	return &Voter{manager: manager}
}

// Supports reports whether the attribute falls within this voter's scope.
func (v *Voter) Supports(attribute string) bool {
	return strings.HasPrefix(attribute, AttributePrefix)
}

// Decide votes on the attribute for the acting principal. Attributes
// without the PERMISSION_ prefix get Abstain; an absent or anonymous
// principal gets Denied; otherwise the decision follows HasPermission.
func (v *Voter) Decide(ctx context.Context, attribute string, principal Principal) (Decision, error) {
	if !v.Supports(attribute) {
		return Abstain, nil
	}
	if principal == nil || principal.Identifier() == "" {
		return Denied, nil
	}
	ok, err := v.manager.HasPermission(ctx, principal.Identifier(), attribute)
	if err != nil {
		return Denied, err
	}
	if ok {
		return Granted, nil
	}
	return Denied, nil
}
