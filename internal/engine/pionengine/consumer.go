package pionengine

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
)

var errConsumerClosed = errors.New("pionengine: consumer closed")

type consumer struct {
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       domain.MediaKind
	params     engine.RtpParameters
	transport  *transport
	sender     *webrtc.RTPSender
	out        *outTrack

	closeOnce sync.Once
}

func (c *consumer) ID() domain.ConsumerID               { return c.id }
func (c *consumer) ProducerID() domain.ProducerID       { return c.producerID }
func (c *consumer) Kind() domain.MediaKind              { return c.kind }
func (c *consumer) RtpParameters() engine.RtpParameters { return c.params }
func (c *consumer) Paused() bool                        { return c.out.state() == trackMuted }

// Resume lets the relay write to this consumer. Resuming a live consumer is a no-op.
func (c *consumer) Resume(_ context.Context) error {
	if c.out.state() == trackDeleted {
		return errConsumerClosed
	}
	c.out.markLive()
	return nil
}

// drainRTCP keeps the sender's interceptors fed until the sender stops.
func (c *consumer) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *consumer) stop() {
	c.closeOnce.Do(func() {
		c.out.markDelete()
		if err := c.sender.Stop(); err != nil {
			c.transport.logger.Debug().Err(err).Str("consumer", string(c.id)).Msg("sender stop")
		}
	})
}

func (c *consumer) Close() error {
	c.stop()
	c.transport.forgetConsumer(c.id)
	return nil
}
