// Package params defines the shared model-state records served by the
// parameter holder. Concurrent workers may read stale versions; that is the
// accepted consistency relaxation of asynchronous parameter updates, not a
// bug.
package params

import "time"

// Parameter is one named parameter blob with its version metadata. Blob
// contents are opaque to the holder.
type Parameter struct {
	Key       string    `json:"key"`
	Blob      []byte    `json:"blob"`
	Step      uint64    `json:"step"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ParameterPage struct {
	Offset     uint64      `json:"offset"`
	Limit      uint64      `json:"limit"`
	Total      uint64      `json:"total"`
	Parameters []Parameter `json:"parameters"`
}
