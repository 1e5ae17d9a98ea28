package engagement

// ResolveStatus derives the overall status from the two approval tracks and
// the current allowance. It is applied after every approval and every
// balance change so that status never drifts from its inputs. A request
// whose expiry passes before both approvals land is expired, not pending.
func ResolveStatus(coach, staff Approval, quota Quota, lapsed bool) Status {
	if coach == ApprovalRejected || staff == ApprovalRejected {
		return StatusDisconnected
	}
	if lapsed {
		return StatusExpired
	}
	if coach != ApprovalApproved || staff != ApprovalApproved {
		return StatusPending
	}
	if n, limited := quota.Count(); limited && n <= 0 {
		return StatusExpired
	}
	return StatusActive
}

func (e *Engagement) resolve(lapsed bool) Status {
	return ResolveStatus(e.CoachApproval, e.StaffApproval, e.Quota(), lapsed)
}
