package kg

import "fmt"

// CallerRole distinguishes a human operator from an automated agent for the
// purposes of tier-protection checks.
type CallerRole string

const (
	RoleHuman CallerRole = "human"
	RoleAgent CallerRole = "agent"
)

// checkWriteAccess implements the tier-protection algorithm from the
// component design: humans may write any tier; quality tier is always
// agent-writable; architecture tier requires changeApproved; untiered
// entities are treated as quality (freely writable). Returns a non-empty
// reason string naming the blocking tier when denied.
func checkWriteAccess(tier Tier, hasTier bool, role CallerRole, changeApproved bool) (bool, string) {
	if role == RoleHuman {
		return true, ""
	}
	if !hasTier {
		return true, ""
	}
	switch tier {
	case TierQuality:
		return true, ""
	case TierArchitecture:
		if changeApproved {
			return true, ""
		}
		return false, "Architecture-tier entities require human-approved changes. Submit a change_proposal first."
	case TierVision:
		return false, "Vision-tier entities are immutable by agents. Only humans can modify vision standards."
	default:
		return true, ""
	}
}

// checkDeleteAccess implements the delete-specific tier rule: any tier is
// deletable by a human; only quality-tier entities are agent-deletable.
func checkDeleteAccess(tier Tier, hasTier bool, role CallerRole) (bool, string) {
	if role == RoleHuman {
		return true, ""
	}
	if !hasTier {
		return true, ""
	}
	if tier == TierVision || tier == TierArchitecture {
		return false, fmt.Sprintf("Cannot delete %s-tier entity without human approval.", tier)
	}
	return true, ""
}
