package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/session"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/teacherview"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/pkg/audiodevice/device"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var studentCmd = &cobra.Command{
	Use:   "student",
	Short: "Stream the microphone to the ranking server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStudent(cmd.OutOrStdout())
	},
}

// Logs state changes and draws the level bar in place on one line.
type terminalObserver struct {
	out   io.Writer
	ended chan session.State
}

func (o *terminalObserver) OnStateChange(state session.State) {
	fmt.Fprintf(o.out, "\nstatus: %s\n", state)
	if state == session.StateStopped || state == session.StateError {
		select {
		case o.ended <- state:
		default:
		}
	}
}

func (o *terminalObserver) OnLevel(percent int) {
	fmt.Fprintf(o.out, "\rlevel %s %3d%%", teacherview.Meter(percent, 40), percent)
}

func linkDialerFromConfig() (networking.LinkDialer, error) {
	switch transport := viper.GetString("transport"); transport {
	case "websocket":
		return networking.WebSocketLinkDialer{
			ServerURL:  viper.GetString("server"),
			SendBuffer: viper.GetInt("sendbuffer"),
		}, nil
	case "webrtc":
		connectionConfig := webrtc.Configuration{}
		if iceServers := viper.GetStringSlice("ICEServers"); len(iceServers) > 0 {
			connectionConfig.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
		}
		return networking.DataChannelLinkDialer{
			ServerURL:               viper.GetString("server"),
			ConnectionConfiguration: connectionConfig,
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

func runStudent(out io.Writer) error {
	api, err := microphoneAPIFromConfig()
	if err != nil {
		return err
	}
	dialer, err := linkDialerFromConfig()
	if err != nil {
		return err
	}

	options := session.Options{
		Name:       viper.GetString("name"),
		SourceRate: viper.GetInt("sourcerate"),
		TargetRate: viper.GetInt("targetrate"),
		LevelScale: viper.GetFloat64("levelscale"),
	}
	if recordFile := viper.GetString("recordfile"); recordFile != "" {
		recorder, err := device.NewFileAudioOutputDevice(recordFile, options.TargetRate, 1)
		if err != nil {
			return fmt.Errorf("could not create recording: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				slog.Error("error while closing recording", "err", err)
			}
		}()
		options.Recorder = recorder
	}

	observer := &terminalObserver{out: out, ended: make(chan session.State, 1)}
	captureSession, err := session.NewCaptureSession(
		microphoneOpener(api, viper.GetInt("inputdevice")),
		dialer,
		observer,
		options,
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, time.Duration(viper.GetInt("timeout"))*time.Second)
	err = captureSession.Start(startCtx)
	cancelStart()
	if err != nil {
		if errors.Is(err, session.ErrSessionStopped) {
			return nil
		}
		return err
	}

	var ended session.State
	select {
	case <-ctx.Done():
		slog.Info("interrupted, stopping")
	case ended = <-observer.ended:
	}
	if err := captureSession.Stop(); err != nil {
		slog.Warn("errors during teardown", "err", err)
	}

	stats := captureSession.Stats()
	fmt.Fprintf(out, "\nsent %d frames, dropped %d\n", stats.FramesSent, stats.FramesDropped)
	if ended == session.StateError {
		return errors.New("capture ended with an error, see log")
	}
	return nil
}

