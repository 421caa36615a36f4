package pionengine

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type trackState int32

const (
	trackLive trackState = iota
	trackMuted
	trackDeleted
)

// outTrack is one consumer's output on a producer relay.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	st    atomic.Int32
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (o *outTrack) state() trackState {
	return trackState(o.st.Load())
}

// markLive never revives a deleted track.
func (o *outTrack) markLive() {
	o.st.CompareAndSwap(int32(trackMuted), int32(trackLive))
}

func (o *outTrack) markMuted() {
	o.st.CompareAndSwap(int32(trackLive), int32(trackMuted))
}

func (o *outTrack) markDelete() {
	o.st.Store(int32(trackDeleted))
}
