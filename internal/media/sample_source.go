package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SampleSource produces pion sample tracks (Opus audio, VP8 video) that an
// application feeds through Track.WriteSample.
type SampleSource struct {
	StreamID string
}

func (s SampleSource) Acquire(ctx context.Context, c Constraints) (*TrackSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: no audio or video requested", ErrMediaAcquisition)
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "local"
	}

	var tracks []*Track
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: audio: %v", ErrMediaAcquisition, err)
		}
		tracks = append(tracks, NewTrack(KindAudio, t))
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: video: %v", ErrMediaAcquisition, err)
		}
		tracks = append(tracks, NewTrack(KindVideo, t))
	}
	return NewTrackSet(tracks...), nil
}
