package authz

// Reason explains an access decision.
type Reason int

const (
	ReasonOwner Reason = iota
	ReasonShared
	ReasonDeleted
	ReasonInsufficientShare
	ReasonNotShared
	ReasonInvalidLevel
)

func (r Reason) String() string {
	switch r {
	case ReasonOwner:
		return "owner"
	case ReasonShared:
		return "shared"
	case ReasonDeleted:
		return "resource deleted"
	case ReasonInsufficientShare:
		return "share level too low"
	case ReasonNotShared:
		return "not shared"
	case ReasonInvalidLevel:
		return "invalid required level"
	default:
		return "unknown"
	}
}

// Decision is the outcome of an access check. Denial is a normal result,
// not an error.
type Decision struct {
	Allowed bool
	Reason  Reason

	// Granted is the level the user holds, when any.
	Granted *AccessLevel
}

// CheckAccess decides whether user may act on resource at the required
// share level. Evaluation order is fixed: deleted resources deny everyone,
// owners are always allowed, and everyone else needs a sufficient share.
func CheckAccess(userID string, resource *Resource, required ShareLevel) Decision {
	if resource.Deleted {
		return Decision{Reason: ReasonDeleted}
	}
	if userID != "" && userID == resource.OwnerID {
		return Decision{Allowed: true, Reason: ReasonOwner, Granted: &AccessLevel{Owner: true}}
	}
	if !required.Valid() {
		return Decision{Reason: ReasonInvalidLevel}
	}
	i := resource.FindShare(userID)
	if userID == "" || i < 0 {
		return Decision{Reason: ReasonNotShared}
	}
	held := resource.SharedWith[i].Level
	if !held.Satisfies(required) {
		return Decision{Reason: ReasonInsufficientShare, Granted: &AccessLevel{Share: held}}
	}
	return Decision{Allowed: true, Reason: ReasonShared, Granted: &AccessLevel{Share: held}}
}

// ResolveUserLevel reports what userID holds on resource, using the same
// precedence as CheckAccess. Deleted resources resolve to nothing.
func ResolveUserLevel(resource *Resource, userID string) (AccessLevel, bool) {
	if resource.Deleted || userID == "" {
		return AccessLevel{}, false
	}
	if userID == resource.OwnerID {
		return AccessLevel{Owner: true}, true
	}
	if i := resource.FindShare(userID); i >= 0 {
		return AccessLevel{Share: resource.SharedWith[i].Level}, true
	}
	return AccessLevel{}, false
}
