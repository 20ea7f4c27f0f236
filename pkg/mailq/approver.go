package mailq

import "context"

// Approver handles user interaction for approval workflows,
// particularly for bulk operations such as cancelling every pending
// entry of a scope.
//
// Implementations:
//   - ForcedApprover: Shows countdown and automatically approves
//   - InteractiveApprover: Prompts user to type the target name for confirmation
type Approver interface {
	// RequestApproval prompts for confirmation before the operation described
	// by action runs against target. Returns true if approved.
	RequestApproval(ctx context.Context, action, target string) (bool, error)
}
