package ratelimit

import "fmt"

// KeyForDecision builds a limiter key for the resolved scope.
func KeyForDecision(companyID uint64, decision Decision) string {
	if companyID == 0 || decision.Limit <= 0 {
		return ""
	}
	switch decision.Scope {
	case ScopeCompany:
		return fmt.Sprintf("c:%d", companyID)
	default:
		return ""
	}
}
