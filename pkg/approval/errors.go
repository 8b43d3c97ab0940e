package approval

import "errors"

var (
	// ErrApprovalResolved indicates the request is no longer pending.
	ErrApprovalResolved = errors.New("approval request already resolved")

	// ErrNotApprover indicates the user may not resolve the request.
	ErrNotApprover = errors.New("user is not an approver for this request")

	// ErrApprovalExpired indicates the request passed its deadline before it was resolved.
	ErrApprovalExpired = errors.New("approval request expired")
)
