package networking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const (
	signalPath       = "/signal"
	dataChannelLabel = "audio"

	// Bytes queued in the data channel before frames are dropped.
	// Roughly a second of 16kHz float32 audio.
	DefaultMaxBufferedAmount = 64 * 1024
)

// Dials DataChannelLinks: frames travel over an ordered WebRTC data channel
// negotiated with the server through a single HTTP signalling request.
//
// The general flow of a connection is as follows:
//
//  1. A new webrtc.PeerConnection is made, with a data channel for audio frames.
//
//  2. An offer is created, and ICE gathering is allowed to complete so the
//     offer carries every candidate.
//
//  3. The offer is POSTed as a SignallingOffer to the server's /signal endpoint,
//     and the server replies with its answer.
//
//  4. Dial waits for the data channel to open, returning a connected Link.
type DataChannelLinkDialer struct {
	// Base URL of the server, e.g. http://localhost:8000
	ServerURL string

	ConnectionConfiguration webrtc.Configuration

	// Bytes allowed in the data channel send buffer before frames are dropped.
	MaxBufferedAmount uint64

	// Defaults to http.DefaultClient
	HTTPClient *http.Client
}

func (d DataChannelLinkDialer) Dial(ctx context.Context, name string) (Link, error) {
	requestLogger := slog.Default().WithGroup("request").With(
		"requestUUID", uuid.New().String(),
		"server", d.ServerURL,
	)
	requestLogger.Debug("new data channel link started")

	pc, err := webrtc.NewPeerConnection(d.ConnectionConfiguration)
	if err != nil {
		requestLogger.Error(
			"error while creating new peer connection for dialing",
			"err", err,
		)
		return nil, err
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		requestLogger.Error("error while creating data channel", "err", err)
		pc.Close()
		return nil, err
	}

	maxBufferedAmount := d.MaxBufferedAmount
	if maxBufferedAmount == 0 {
		maxBufferedAmount = DefaultMaxBufferedAmount
	}
	link := newDataChannelLink(pc, dc, maxBufferedAmount)

	if err := d.negotiate(ctx, pc, studentName(name), requestLogger); err != nil {
		link.Close()
		return nil, err
	}

	select {
	case <-link.opened:
		requestLogger.Debug("data channel open")
		return link, nil
	case <-link.terminated:
		// err is written before terminated is closed
		if link.err != nil {
			return nil, link.err
		}
		return nil, errLinkNotOpened
	case <-ctx.Done():
		link.Close()
		return nil, ctx.Err()
	}
}

// Exchange offer and answer with the server.
func (d DataChannelLinkDialer) negotiate(ctx context.Context, pc *webrtc.PeerConnection, name string, requestLogger *slog.Logger) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		requestLogger.Error("error while creating new offer in dialing", "err", err)
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		requestLogger.Error(
			"error while setting connection local description in dialing",
			"err", err,
		)
		return err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	signallingOfferJSON, err := json.Marshal(SignallingOffer{
		Name:                     name,
		WebRTCSessionDescription: *pc.LocalDescription(),
	})
	if err != nil {
		requestLogger.Error("error while marshalling offer to JSON", "err", err)
		return err
	}

	endpoint := strings.TrimSuffix(d.ServerURL, "/") + signalPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(signallingOfferJSON))
	if err != nil {
		requestLogger.Error("error while creating new http request", "err", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	// If ctx.cancel is called, or ctx timeout is reached, this returns with non-nil error
	resp, err := client.Do(req)
	if err != nil {
		requestLogger.Error("error while posting offer to server", "err", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		requestLogger.Error("signalling rejected", "status", resp.Status)
		return fmt.Errorf("signalling rejected: %s", resp.Status)
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		requestLogger.Error("error while parsing answer response from server", "err", err)
		return err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		requestLogger.Error(
			"error while setting connection remote description in dialing",
			"err", err,
		)
		return err
	}
	requestLogger.Debug("peer connection set")
	return nil
}

// A Link over a WebRTC data channel. Owns the peer connection.
type DataChannelLink struct {
	*linkLifecycle
	logger *slog.Logger

	pc                *webrtc.PeerConnection
	dc                *webrtc.DataChannel
	maxBufferedAmount uint64
	closeOnce         sync.Once
}

func newDataChannelLink(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, maxBufferedAmount uint64) *DataChannelLink {
	uuid := uuid.New()
	l := &DataChannelLink{
		linkLifecycle:     newLinkLifecycle(),
		logger:            slog.Default().With("data channel link uuid", uuid),
		pc:                pc,
		dc:                dc,
		maxBufferedAmount: maxBufferedAmount,
	}

	dc.OnOpen(func() {
		l.logger.Info("link connected")
		l.markOpened()
	})
	dc.OnClose(func() {
		if l.markTerminal(nil) {
			l.logger.Info("data channel closed by server")
		}
		go l.Close()
	})
	dc.OnError(func(err error) {
		if l.markTerminal(err) {
			l.logger.Warn("data channel failed", "err", err)
		}
		go l.Close()
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l.logger.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			if l.markTerminal(fmt.Errorf("peer connection %s", state)) {
				l.logger.Warn("peer connection failed")
			}
			go l.Close()
		}
	})
	return l
}

func (l *DataChannelLink) Send(payload []byte) bool {
	if l.State() != ConnectionConnected {
		return false
	}
	if l.dc.BufferedAmount() > l.maxBufferedAmount {
		l.dropped.Add(1)
		l.logger.Debug("data channel buffer full, dropping frame", "bytes", len(payload), "dropped", l.Dropped())
		return false
	}
	if err := l.dc.Send(payload); err != nil {
		l.logger.Debug("data channel send failed", "err", err)
		return false
	}
	return true
}

func (l *DataChannelLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.markTerminal(nil)
		err = l.pc.Close()
		l.logger.Info("link closed", "dropped", l.Dropped())
	})
	return err
}
