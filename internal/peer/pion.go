package peer

import (
	"fmt"

	"github.com/mossy-p/repsync/internal/models"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"
)

// DefaultICEServers are the public STUN servers used when none are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// PionConfig configures connections created by NewPionFactory.
type PionConfig struct {
	ICEServers []string
	// LocalTracks are sent on every connection. Without them the connection
	// only receives.
	LocalTracks []pion.TrackLocal
}

// NewPionFactory builds a Factory backed by pion. Every connection negotiates
// VP8 video and Opus audio with NACK retransmission.
func NewPionFactory(cfg PionConfig) (Factory, error) {
	m := &pion.MediaEngine{}

	vp8Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypeVP8,
			ClockRate: 90000,
			RTCPFeedback: []pion.RTCPFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
			},
		},
		PayloadType: 96,
	}
	if err := m.RegisterCodec(vp8Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register VP8: %w", err)
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	urls := cfg.ICEServers
	if len(urls) == 0 {
		urls = DefaultICEServers
	}
	configuration := pion.Configuration{
		ICEServers:   []pion.ICEServer{{URLs: urls}},
		BundlePolicy: pion.BundlePolicyMaxBundle,
	}

	return func(remotePeerID string) (Conn, error) {
		pc, err := api.NewPeerConnection(configuration)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		c := &pionConn{pc: pc, remotePeerID: remotePeerID}
		if err := c.addMedia(cfg.LocalTracks); err != nil {
			pc.Close()
			return nil, err
		}

		logger := log.WithField("peer", remotePeerID)
		pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
			logger.Debugf("ICE connection state: %s", state.String())
		})
		pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
			logger.Infof("peer connection state: %s", state.String())
		})
		return c, nil
	}, nil
}

type pionConn struct {
	pc           *pion.PeerConnection
	remotePeerID string
}

// addMedia sends the local tracks, or adds receive-only transceivers when
// there are none so the offer still carries audio and video sections.
func (c *pionConn) addMedia(tracks []pion.TrackLocal) error {
	if len(tracks) == 0 {
		for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeVideo, pion.RTPCodecTypeAudio} {
			_, err := c.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
				Direction: pion.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
		return nil
	}

	for _, track := range tracks {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		// RTCP has to be read for the interceptors to work
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (c *pionConn) CreateOffer() (models.SDPPayload, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return models.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return models.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return models.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (c *pionConn) CreateAnswer(offer models.SDPPayload) (models.SDPPayload, error) {
	remote := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer.SDP}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return models.SDPPayload{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return models.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return models.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return models.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *pionConn) SetAnswer(answer models.SDPPayload) error {
	remote := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer.SDP}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *pionConn) AddICECandidate(candidate models.ICECandidatePayload) error {
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (c *pionConn) OnICECandidate(fn func(models.ICECandidatePayload)) {
	c.pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		if candidate == nil {
			log.WithField("peer", c.remotePeerID).Debug("ICE gathering complete")
			return
		}
		init := candidate.ToJSON()
		fn(models.ICECandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

// OnTrack reports remote tracks and drains them; rendering is up to the
// embedding application.
func (c *pionConn) OnTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		fn(RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind().String(),
		})
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
