package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CandidateBuffer holds remote ICE candidates that arrived before the remote
// description was installed. It is owned by a single Session and is not safe
// for concurrent use.
type CandidateBuffer struct {
	pending []webrtc.ICECandidateInit
}

func (b *CandidateBuffer) Enqueue(c webrtc.ICECandidateInit) {
	b.pending = append(b.pending, c)
}

func (b *CandidateBuffer) Len() int { return len(b.pending) }

// Flush applies every buffered candidate in enqueue order and empties the
// buffer. A failing candidate does not stop the flush; its error, wrapped in
// ErrCandidateApply, is returned alongside the others.
func (b *CandidateBuffer) Flush(apply func(webrtc.ICECandidateInit) error) []error {
	pending := b.pending
	b.pending = nil

	var errs []error
	for i, c := range pending {
		if err := apply(c); err != nil {
			errs = append(errs, fmt.Errorf("%w: candidate %d (%q): %v", ErrCandidateApply, i, c.Candidate, err))
		}
	}
	return errs
}

// Reset drops buffered candidates without applying them.
func (b *CandidateBuffer) Reset() {
	b.pending = nil
}
