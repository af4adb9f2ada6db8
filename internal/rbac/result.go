package rbac

// BulkFailure records one item of a bulk operation that could not be
// applied, keyed as "userID:roleCode" or "roleCode:permissionCode".
type BulkFailure struct {
	Item string `json:"item"`
	Err  string `json:"error"`
}

// BulkResult is the immutable outcome of a bulk operation. Idempotent
// no-ops count as neither success nor failure.
type BulkResult struct {
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Failures     []BulkFailure `json:"failures,omitempty"`
}

// FullSuccess reports whether no item failed.
func (r BulkResult) FullSuccess() bool { return r.FailureCount == 0 }

// TotalCount returns successes plus failures.
func (r BulkResult) TotalCount() int { return r.SuccessCount + r.FailureCount }
