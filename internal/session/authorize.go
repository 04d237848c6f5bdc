package session

// Decision is the outcome of a route guard check.
type Decision int

const (
	DecisionAllow Decision = iota
	// DecisionWait means Initialize has not resolved yet.
	DecisionWait
	DecisionLogin
	DecisionPendingApproval
	DecisionHome
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionWait:
		return "wait"
	case DecisionLogin:
		return "login"
	case DecisionPendingApproval:
		return "pending-approval"
	case DecisionHome:
		return "home"
	default:
		return "unknown"
	}
}

// Target is where a denied caller should be sent.
func (d Decision) Target() string {
	switch d {
	case DecisionLogin:
		return "/login"
	case DecisionPendingApproval:
		return "/pending-approval"
	case DecisionHome:
		return "/"
	default:
		return ""
	}
}

// Authorize decides whether the current user may access something requiring
// required ("" for any signed-in user).
func (s *Service) Authorize(required Role) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loading {
		return DecisionWait
	}
	u := s.user
	if u == nil {
		return DecisionLogin
	}
	if !u.Role.Satisfies(required) {
		if required == RoleAgencyAdmin && u.IsPendingAgency {
			return DecisionPendingApproval
		}
		return DecisionHome
	}
	if u.Role.IsAgency() && !u.IsApproved {
		return DecisionPendingApproval
	}
	return DecisionAllow
}
