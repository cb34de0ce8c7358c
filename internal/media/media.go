// Package media holds the local and remote track handles a call session
// attaches to its peer connection.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

var ErrMediaAcquisition = errors.New("media acquisition failed")

// Track is a local track handle with a mutable enabled flag. Disabling a track
// does not remove it from the connection; samples written while disabled are
// dropped.
type Track struct {
	kind    Kind
	local   webrtc.TrackLocal
	enabled atomic.Bool
}

func NewTrack(kind Kind, local webrtc.TrackLocal) *Track {
	t := &Track{kind: kind, local: local}
	t.enabled.Store(true)
	return t
}

func (t *Track) Kind() Kind { return t.kind }

func (t *Track) ID() string {
	if t.local == nil {
		return ""
	}
	return t.local.ID()
}

func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// WriteSample forwards s to the underlying sample track when the track is
// enabled. It is a no-op for disabled tracks.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if !t.Enabled() {
		return nil
	}
	w, ok := t.local.(interface {
		WriteSample(pionmedia.Sample) error
	})
	if !ok {
		return fmt.Errorf("track %s does not accept samples", t.ID())
	}
	return w.WriteSample(s)
}

type TrackSet struct {
	audio []*Track
	video []*Track
}

func NewTrackSet(tracks ...*Track) *TrackSet {
	ts := &TrackSet{}
	for _, t := range tracks {
		switch t.Kind() {
		case KindAudio:
			ts.audio = append(ts.audio, t)
		case KindVideo:
			ts.video = append(ts.video, t)
		}
	}
	return ts
}

func (ts *TrackSet) AudioTracks() []*Track {
	if ts == nil {
		return nil
	}
	return ts.audio
}

func (ts *TrackSet) VideoTracks() []*Track {
	if ts == nil {
		return nil
	}
	return ts.video
}

func (ts *TrackSet) All() []*Track {
	if ts == nil {
		return nil
	}
	out := make([]*Track, 0, len(ts.audio)+len(ts.video))
	out = append(out, ts.audio...)
	return append(out, ts.video...)
}

// RemoteTrack describes a track received from the peer.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     Kind
	MimeType string

	// Remote is nil for tracks produced by test doubles.
	Remote *webrtc.TrackRemote
}

func RemoteTrackFromPion(t *webrtc.TrackRemote) RemoteTrack {
	kind := KindVideo
	if t.Kind() == webrtc.RTPCodecTypeAudio {
		kind = KindAudio
	}
	return RemoteTrack{
		ID:       t.ID(),
		StreamID: t.StreamID(),
		Kind:     kind,
		MimeType: t.Codec().MimeType,
		Remote:   t,
	}
}

type Constraints struct {
	Audio bool
	Video bool
}

// Source acquires local tracks. Implementations return errors wrapping
// ErrMediaAcquisition.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (*TrackSet, error)
}

type SourceFunc func(ctx context.Context, c Constraints) (*TrackSet, error)

func (f SourceFunc) Acquire(ctx context.Context, c Constraints) (*TrackSet, error) {
	return f(ctx, c)
}

// Cached acquires from an underlying Source once and hands the same TrackSet
// to every later caller. A failed acquisition is not cached.
//
// Acquisitions are serialised among themselves; Tracks never waits on one.
type Cached struct {
	src Source

	acquireMu sync.Mutex
	tracks    atomic.Pointer[TrackSet]
}

func NewCached(src Source) *Cached {
	return &Cached{src: src}
}

func (c *Cached) Acquire(ctx context.Context, cons Constraints) (*TrackSet, error) {
	if ts := c.tracks.Load(); ts != nil {
		return ts, nil
	}
	c.acquireMu.Lock()
	defer c.acquireMu.Unlock()
	if ts := c.tracks.Load(); ts != nil {
		return ts, nil
	}
	ts, err := c.src.Acquire(ctx, cons)
	if err != nil {
		return nil, err
	}
	c.tracks.Store(ts)
	return ts, nil
}

// Tracks returns the acquired set, or nil before the first successful Acquire.
func (c *Cached) Tracks() *TrackSet {
	return c.tracks.Load()
}
