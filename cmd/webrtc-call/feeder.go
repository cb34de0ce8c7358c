package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
)

const opusFrameDuration = 20 * time.Millisecond

// opusSilence is a single 20ms Opus frame that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// silenceFeeder writes Opus silence to the acquired audio tracks so the remote
// side sees RTP flowing. Muting a track stops its samples.
type silenceFeeder struct {
	log *slog.Logger

	mu     sync.Mutex
	tracks []*media.Track
}

func newSilenceFeeder(log *slog.Logger) *silenceFeeder {
	return &silenceFeeder{log: log}
}

func (f *silenceFeeder) wrap(src media.Source) media.Source {
	return media.SourceFunc(func(ctx context.Context, c media.Constraints) (*media.TrackSet, error) {
		ts, err := src.Acquire(ctx, c)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.tracks = ts.AudioTracks()
		f.mu.Unlock()
		return ts, nil
	})
}

func (f *silenceFeeder) run(ctx context.Context) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			tracks := f.tracks
			f.mu.Unlock()
			for _, t := range tracks {
				if err := t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: opusFrameDuration}); err != nil {
					f.log.Debug("write sample failed", "track", t.ID(), "err", err)
				}
			}
		}
	}
}
