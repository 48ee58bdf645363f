// Package session tracks live transfer sessions and folds decoded chunk
// records into per-session state: declared totals, received indices, and
// accumulated metadata. The registry owns every Session; readers get
// clones, never live pointers.
package session

import (
	"time"

	"github.com/justapithecus/mosaic/types"
)

// Session is the mutable aggregate for one file transfer. Owned
// exclusively by the Registry; all mutation happens under its lock.
type Session struct {
	// ID is the session identifier chunks route by.
	ID string `json:"id"`
	// Filename is the declared transfer filename, empty until known.
	Filename string `json:"filename,omitempty"`
	// DeclaredSize is the declared file size, types.SizeUnknown until known.
	DeclaredSize int64 `json:"declared_size"`
	// DeclaredChecksum is the file-level hash (lowercase hex, possibly a
	// truncated prefix), empty until a verification record declares it.
	DeclaredChecksum string `json:"declared_checksum,omitempty"`
	// TotalChunks is the declared chunk count, 0 until known.
	TotalChunks int `json:"total_chunks"`
	// Received is the set of chunk indices successfully ingested.
	Received map[int]struct{} `json:"-"`
	// BytesReceived sums the payload lengths of distinct received chunks.
	BytesReceived int64 `json:"bytes_received"`
	// Status is the session lifecycle state.
	Status types.SessionStatus `json:"status"`
	// Protocol is the wire grammar tag of the first chunk seen.
	Protocol string `json:"protocol,omitempty"`
	// Metadata is the last-known-good merge of format metadata across all
	// chunks; header and verification records refine it.
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is when the first chunk arrived.
	CreatedAt time.Time `json:"created_at"`
	// LastActivity is bumped on every ingested chunk and status change.
	LastActivity time.Time `json:"last_activity"`
}

// Progress returns received/total in [0,1], 0 while the total is unknown.
func (s *Session) Progress() float64 {
	if s.TotalChunks <= 0 {
		return 0
	}
	return float64(len(s.Received)) / float64(s.TotalChunks)
}

// IsComplete returns true once every declared chunk has been received.
func (s *Session) IsComplete() bool {
	return s.TotalChunks > 0 && len(s.Received) == s.TotalChunks
}

// MissingChunks returns the ascending indices in [0,TotalChunks) not yet
// received. Nil while the total is unknown.
func (s *Session) MissingChunks() []int {
	if s.TotalChunks <= 0 {
		return nil
	}

	var missing []int
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.Received[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Clone returns a deep copy safe to hand to readers.
func (s *Session) Clone() *Session {
	out := *s
	out.Received = make(map[int]struct{}, len(s.Received))
	for i := range s.Received {
		out.Received[i] = struct{}{}
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
