package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

// Handler consumes inbound snapshot messages. actuation.Adapter is the
// production implementation.
type Handler interface {
	Handle(msg []byte) error
	// End is called once when the session can deliver no more messages.
	End()
}

// Answerer is the receiving peer.
type Answerer struct {
	cfg      Config
	signaler AnswerSignaler
	handler  Handler
}

func NewAnswerer(cfg Config, signaler AnswerSignaler, handler Handler) *Answerer {
	return &Answerer{cfg: cfg.withDefaults(), signaler: signaler, handler: handler}
}

// Run answers the offer of session id and feeds inbound messages to the
// handler until the channel closes, the connection fails or ctx ends. The
// handler's End is called before Run returns in every case where the
// answer was published.
func (a *Answerer) Run(ctx context.Context, id uuid.UUID) error {
	offer, err := a.signaler.AwaitOffer(ctx, id)
	if err != nil {
		return err
	}
	logger.Info("Offer received", "session", id)

	pc, err := newPeerConnection(a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pc.Close(); err != nil {
			logger.Warn("Failed to close peer connection", "error", err)
		}
	}()

	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func(reason string) {
		doneOnce.Do(func() {
			logger.Info("Session finished", "session", id, "reason", reason)
			close(done)
		})
	}
	watchState(pc, finish)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != a.cfg.ChannelLabel {
			logger.Warn("Ignoring unexpected data channel", "label", dc.Label())
			return
		}
		logger.Info("Data channel received", "label", dc.Label())
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			// errors are logged by the handler; a bad message is dropped
			_ = a.handler.Handle(msg.Data)
		})
		dc.OnClose(func() { finish("channel closed") })
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	sdp, err := setLocal(ctx, pc, answer, a.cfg.GatherTimeout)
	if err != nil {
		return err
	}
	if err := a.signaler.PublishAnswer(ctx, id, sdp); err != nil {
		return err
	}
	logger.Info("Answer published", "session", id)

	defer a.handler.End()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
