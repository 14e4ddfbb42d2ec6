package clientstore

import "github.com/dethon/agentrt/internal/contracts"

// ApprovalState is the Approval slice. currentRequest and topicId are null
// together (spec.md §3 invariant): there is never a pending request without
// knowing which topic it belongs to, or vice versa.
type ApprovalState struct {
	CurrentRequest *contracts.ApprovalRequest
	TopicID        string
	IsResponding   bool
}

type (
	ShowApproval struct {
		TopicID string
		Request contracts.ApprovalRequest
	}
	ApprovalResponding struct{}
	ApprovalResolved    struct{}
	ClearApproval       struct{}
)

// ApprovalReducer implements the Approval slice transition.
func ApprovalReducer(prev *ApprovalState, action Action) *ApprovalState {
	switch a := action.(type) {
	case ShowApproval:
		next := *prev
		req := a.Request
		next.CurrentRequest = &req
		next.TopicID = a.TopicID
		next.IsResponding = false
		return &next

	case ApprovalResponding:
		if prev.IsResponding {
			return prev
		}
		next := *prev
		next.IsResponding = true
		return &next

	case ApprovalResolved, ClearApproval:
		if prev.CurrentRequest == nil && !prev.IsResponding {
			return prev
		}
		next := *prev
		next.CurrentRequest = nil
		next.TopicID = ""
		next.IsResponding = false
		return &next

	default:
		return prev
	}
}
