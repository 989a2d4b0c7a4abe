package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/gamepad"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

// Offerer is the sending peer: it opens the data channel, publishes the
// offer and streams controller states once the receiver answered.
type Offerer struct {
	cfg      Config
	signaler OfferSignaler
	source   gamepad.Source
	// OnSession is called with the relay session id right after the offer
	// is published, so it can be handed to the receiver.
	OnSession func(id uuid.UUID)
}

func NewOfferer(cfg Config, signaler OfferSignaler, source gamepad.Source) *Offerer {
	return &Offerer{cfg: cfg.withDefaults(), signaler: signaler, source: source}
}

// Run returns nil when the source is exhausted, ErrChannelClosed when the
// receiver goes away and ctx.Err() when ctx ends.
func (o *Offerer) Run(ctx context.Context) error {
	pc, err := newPeerConnection(o.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pc.Close(); err != nil {
			logger.Warn("Failed to close peer connection", "error", err)
		}
	}()

	ordered := true
	dc, err := pc.CreateDataChannel(o.cfg.ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}

	opened := make(chan struct{})
	closed := make(chan struct{})
	var closeOnce sync.Once
	finish := func(reason string) {
		closeOnce.Do(func() {
			logger.Info("Data channel finished", "reason", reason)
			close(closed)
		})
	}
	dc.OnOpen(func() {
		logger.Info("Data channel opened", "label", dc.Label())
		close(opened)
	})
	dc.OnClose(func() { finish("channel closed") })
	watchState(pc, finish)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	sdp, err := setLocal(ctx, pc, offer, o.cfg.GatherTimeout)
	if err != nil {
		return err
	}

	id, err := o.signaler.PublishOffer(ctx, sdp)
	if err != nil {
		return err
	}
	logger.Info("Offer published", "session", id)
	if o.OnSession != nil {
		o.OnSession(id)
	}

	answer, err := o.signaler.AwaitAnswer(ctx, id)
	if err != nil {
		o.abandon(id)
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	logger.Info("Answer applied, waiting for data channel", "session", id)

	select {
	case <-opened:
	case <-closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.stream(ctx, dc, closed)
}

// abandon drops the relay session when no answer will be read, so it
// does not wait for the sweeper.
func (o *Offerer) abandon(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), closeSessionTimeout)
	defer cancel()
	if err := o.signaler.CloseSession(ctx, id); err != nil {
		logger.Debug("Could not close abandoned session", "session", id, "error", err)
	}
}

func (o *Offerer) stream(ctx context.Context, dc *webrtc.DataChannel, closed <-chan struct{}) error {
	ticker := o.cfg.Clock.NewTicker(o.cfg.SendInterval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return ErrChannelClosed
		case <-ticker.C:
		}

		state, err := o.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			logger.Info("Input source exhausted", "sent", sent)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input source: %w", err)
		}
		data, err := gamepad.Encode(state)
		if err != nil {
			logger.Warn("Skipping unencodable state", "error", err)
			continue
		}
		if err := dc.SendText(string(data)); err != nil {
			return fmt.Errorf("sending snapshot: %w", err)
		}
		sent++
	}
}
