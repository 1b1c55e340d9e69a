package verto

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const (
	sampleRate   = 8000
	frameSamples = sampleRate / 50 // 20ms
)

var errNoMedia = errors.New("call has no media")

// newMediaAPI registers G.711 only; the gateway negotiates PCMU or PCMA.
func newMediaAPI(cfg Config) (*webrtc.API, webrtc.Configuration, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: sampleRate, Channels: 1},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, webrtc.Configuration{}, err
	}
	if err := media.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: sampleRate, Channels: 1},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, webrtc.Configuration{}, err
	}

	setting := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 || cfg.UDPPortMax > 0 {
		if err := setting.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, webrtc.Configuration{}, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(setting))

	iceServers := make([]webrtc.ICEServer, 0, 1)
	if len(cfg.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	return api, webrtc.Configuration{ICEServers: iceServers}, nil
}

// RemoteStream describes the far-end audio of a call. It is the payload of
// stream events.
type RemoteStream struct {
	CallID string
	Codec  string

	packets atomic.Int64
	peak    atomic.Int32
}

func (s *RemoteStream) Packets() int64 { return s.packets.Load() }

// Peak is the loudest decoded sample seen so far.
func (s *RemoteStream) Peak() int16 { return int16(s.peak.Load()) }

func (s *RemoteStream) observe(samples []int16) {
	s.packets.Add(1)
	for _, v := range samples {
		if v < 0 {
			v = -v
		}
		if int32(v) > s.peak.Load() {
			s.peak.Store(int32(v))
		}
	}
}

// mediaLeg is the PeerConnection of one call.
type mediaLeg struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP
	log   *zap.SugaredLogger

	muted atomic.Bool

	sendMu    sync.Mutex
	seq       uint16
	timestamp uint32
}

func newMediaLeg(api *webrtc.API, cfg webrtc.Configuration, callID string, log *zap.SugaredLogger, onStream func(*RemoteStream)) (*mediaLeg, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: sampleRate, Channels: 1},
		"audio",
		"softphone-"+callID,
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	leg := &mediaLeg{pc: pc, track: track, log: log}

	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, readErr := sender.Read(rtcpBuf); readErr != nil {
				return
			}
		}
	}()

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		mime := remote.Codec().RTPCodecCapability.MimeType
		stream := &RemoteStream{CallID: callID, Codec: mime}
		log.Infof("[%s] remote audio track codec=%s", callID, mime)
		if onStream != nil {
			onStream(stream)
		}
		for {
			pkt, _, readErr := remote.ReadRTP()
			if readErr != nil {
				log.Debugf("[%s] remote audio ended after %d packets, peak %d", callID, stream.Packets(), stream.Peak())
				return
			}
			samples, decodeErr := decodeRemotePayload(mime, pkt.Payload)
			if decodeErr != nil {
				log.Warnf("[%s] decode remote payload failed: %v", callID, decodeErr)
				continue
			}
			stream.observe(samples)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debugf("[%s] peer connection state: %s", callID, state.String())
	})

	return leg, nil
}

func (l *mediaLeg) Close() error {
	if l == nil || l.pc == nil {
		return nil
	}
	return l.pc.Close()
}

func (l *mediaLeg) SetMuted(muted bool) {
	l.muted.Store(muted)
}

func (l *mediaLeg) Muted() bool {
	return l.muted.Load()
}

// createOffer builds a non-trickle offer with every candidate gathered.
func (l *mediaLeg) createOffer(timeout time.Duration) (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	desc, err := waitLocalDescription(l.pc, timeout)
	if err != nil {
		return "", err
	}
	return desc.SDP, nil
}

// createAnswer applies the remote offer and returns the gathered answer.
func (l *mediaLeg) createAnswer(remoteSDP string, timeout time.Duration) (string, error) {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteSDP}); err != nil {
		return "", err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	desc, err := waitLocalDescription(l.pc, timeout)
	if err != nil {
		return "", err
	}
	return desc.SDP, nil
}

// applyAnswer sets the remote answer (or early media description).
func (l *mediaLeg) applyAnswer(remoteSDP string) error {
	if l.pc.RemoteDescription() != nil {
		return nil
	}
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remoteSDP})
}

// writePCM sends one frame of 8kHz samples as PCMU. Muted legs drop it.
func (l *mediaLeg) writePCM(samples []int16) error {
	if len(samples) == 0 || l.muted.Load() {
		return nil
	}

	payload := encodePCMU(samples)

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	packet := &rtp.Packet{Header: rtp.Header{
		Version:        2,
		PayloadType:    0,
		SequenceNumber: l.seq,
		Timestamp:      l.timestamp,
		SSRC:           1,
	}, Payload: payload}

	if err := l.track.WriteRTP(packet); err != nil {
		return err
	}

	l.seq++
	l.timestamp += uint32(len(samples))
	return nil
}

// playTone paces a DTMF tone onto the outgoing track in 20ms frames.
func (l *mediaLeg) playTone(digit string) error {
	samples, err := dtmfTone(digit, toneDuration, toneGap)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for off := 0; off < len(samples); off += frameSamples {
		end := off + frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		if err := l.writePCM(samples[off:end]); err != nil {
			return err
		}
		<-ticker.C
	}
	return nil
}

func waitLocalDescription(pc *webrtc.PeerConnection, timeout time.Duration) (*webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(pc)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-gathered:
	case <-deadline.C:
		return nil, errors.New("wait local description timeout")
	}
	desc := pc.LocalDescription()
	if desc == nil {
		return nil, errors.New("no local description")
	}
	return desc, nil
}
