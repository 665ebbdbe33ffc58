// ABOUTME: Authorization evaluation of ANY/ALL requirements against live roles
// ABOUTME: Items may name roles or permissions; both are matched against the same held set

package auth

// Mode selects how a Requirement's items combine.
type Mode int

const (
	// ModeAny is satisfied when at least one item is held.
	ModeAny Mode = iota
	// ModeAll is satisfied when every item is held.
	ModeAll
)

func (m Mode) String() string {
	if m == ModeAll {
		return "all"
	}
	return "any"
}

// Requirement is an ordered list of role names or permission strings.
type Requirement struct {
	Mode  Mode
	Items []string
}

// Any requires at least one of items. Any() with no items denies everyone.
func Any(items ...string) Requirement {
	return Requirement{Mode: ModeAny, Items: items}
}

// All requires every one of items. All() with no items allows any
// authenticated identity.
func All(items ...string) Requirement {
	return Requirement{Mode: ModeAll, Items: items}
}

// Authenticated requires only that the caller be authenticated.
func Authenticated() Requirement {
	return All()
}

// Authorize decides req against the live roles in ac. It returns nil when
// allowed, *PermissionDeniedError when denied, and ErrGatesMisordered when ac is nil.
func Authorize(ac *AuthContext, req Requirement) error {
	if ac == nil {
		return ErrGatesMisordered
	}
	held := ac.held()

	switch req.Mode {
	case ModeAll:
		for _, item := range req.Items {
			if _, ok := held[item]; !ok {
				return &PermissionDeniedError{Mode: ModeAll, Items: req.Items, Missing: item}
			}
		}
		return nil
	default:
		for _, item := range req.Items {
			if _, ok := held[item]; ok {
				return nil
			}
		}
		return &PermissionDeniedError{Mode: ModeAny, Items: req.Items}
	}
}
