// Package model defines the provider-agnostic value types shared across the
// relay pipeline.
package model

// Usage is the normalized token accounting for one upstream call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add merges later-arriving usage into u: non-zero fields overwrite earlier
// values so the accumulator stays monotonic across stream fragments.
func (u *Usage) Add(other Usage) {
	if other.PromptTokens > 0 {
		u.PromptTokens = other.PromptTokens
	}
	if other.CompletionTokens > 0 {
		u.CompletionTokens = other.CompletionTokens
	}
	if other.TotalTokens > 0 {
		u.TotalTokens = other.TotalTokens
	}
}

// BackfillTotal computes TotalTokens from the parts when the provider never
// reported a total.
func (u *Usage) BackfillTotal() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// FinishReason is the canonical reason a model stopped generating.
//
// The canonical vocabulary is closed, but unrecognized provider values are
// carried through unchanged rather than coerced to FinishReasonUnknown, so
// provider-specific diagnostic detail is never silently lost.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content-filter"
	FinishReasonToolCalls     FinishReason = "tool-calls"
	FinishReasonError         FinishReason = "error"
	FinishReasonOther         FinishReason = "other"
	FinishReasonUnknown       FinishReason = "unknown"
)

// Canonical reports whether r belongs to the canonical vocabulary, as
// opposed to a raw provider value passed through.
func (r FinishReason) Canonical() bool {
	switch r {
	case FinishReasonStop, FinishReasonLength, FinishReasonContentFilter,
		FinishReasonToolCalls, FinishReasonError, FinishReasonOther,
		FinishReasonUnknown:
		return true
	}
	return false
}
