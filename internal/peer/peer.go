// Package peer sets up the WebRTC data channel between sender and
// receiver, bootstrapped through the rendezvous relay.
package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/clock"
	c "github.com/life-stream-dev/life-stream-go-padlink/internal/config"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/utils"
)

const (
	DefaultChannelLabel  = "gamepad"
	DefaultGatherTimeout = 10 * time.Second
	DefaultSendInterval  = 10 * time.Millisecond

	closeSessionTimeout = 5 * time.Second
)

var ErrChannelClosed = errors.New("data channel closed")

type Config struct {
	ICEServers    []string
	GatherTimeout time.Duration
	SendInterval  time.Duration
	ChannelLabel  string
	// IncludeLoopback adds loopback ICE candidates, needed when both peers
	// run on one machine without other interfaces.
	IncludeLoopback bool
	Clock           clock.Clock
}

// FromConfig converts the peer section of the configuration file.
func FromConfig(config c.PeerConfig) Config {
	return Config{
		ICEServers:      config.ICEServers,
		GatherTimeout:   utils.DurationOr(config.GatherTimeout, DefaultGatherTimeout),
		SendInterval:    utils.DurationOr(config.SendInterval, DefaultSendInterval),
		ChannelLabel:    config.ChannelLabel,
		IncludeLoopback: config.IncludeLoopback,
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = DefaultChannelLabel
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return cfg
}

// OfferSignaler is the relay as seen by the sender.
type OfferSignaler interface {
	PublishOffer(ctx context.Context, offer string) (uuid.UUID, error)
	AwaitAnswer(ctx context.Context, id uuid.UUID) (string, error)
	CloseSession(ctx context.Context, id uuid.UUID) error
}

// AnswerSignaler is the relay as seen by the receiver.
type AnswerSignaler interface {
	AwaitOffer(ctx context.Context, id uuid.UUID) (string, error)
	PublishAnswer(ctx context.Context, id uuid.UUID, answer string) error
}

func newPeerConnection(cfg Config) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	return pc, nil
}

// setLocal applies desc and waits for ICE gathering to finish, so the
// returned SDP carries every candidate (no trickle through the relay).
func setLocal(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription, timeout time.Duration) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(timeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

// watchState closes done once the connection can no longer carry data.
func watchState(pc *webrtc.PeerConnection, done func(reason string)) {
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			done("connection " + state.String())
		}
	})
}
