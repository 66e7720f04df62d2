// Command netctlc runs a demo MasterController over UDP, predicting a
// single shared demo.Character locally and reconciling it against whatever
// authoritative state netctld broadcasts back.
package main

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/fluffynukeit/godot-sub000/pkg/demo"
	"github.com/fluffynukeit/godot-sub000/pkg/inputbuffer"
	"github.com/fluffynukeit/godot-sub000/pkg/netctrl"
	"github.com/fluffynukeit/godot-sub000/pkg/transport/udpnet"
)

const characterName = "player1"

var opt struct {
	Help   bool
	Server string
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.StringVar(&opt.Server, "server", "127.0.0.1:9731", "netctld address to connect to")
}

func main() {
	pflag.Parse()
	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 1 {
		x, err := readEnv(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		e = x
	} else {
		e = os.Environ()
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	var cfg netctrl.Config
	if err := cfg.UnmarshalEnv(e, false); err != nil {
		logger.Fatal().Err(err).Msg("parse config")
	}

	serverAddr, err := netip.ParseAddrPort(opt.Server)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse server address")
	}

	tr, err := udpnet.Listen(netip.MustParseAddrPort("0.0.0.0:0"))
	if err != nil {
		logger.Fatal().Err(err).Msg("listen udp")
	}
	defer tr.Close()

	buf := demo.NewInputBuffer()
	start := time.Now()
	character := demo.NewCharacter(buf, func() (inputbuffer.Vec2, bool) {
		t := time.Since(start).Seconds()
		return inputbuffer.Vec2{X: math.Cos(t), Y: math.Sin(t)}, false
	})

	sender := &masterSender{tr: tr, serverAddr: serverAddr}

	m, err := netctrl.NewMasterController(cfg, buf, character, sender,
		netctrl.WithMasterLogger(logger.With().Str("component", "master").Logger()))
	if err != nil {
		logger.Fatal().Err(err).Msg("construct master controller")
	}

	go func() {
		if err := tr.Serve(func(from netip.AddrPort, data []byte) {
			handleDatagram(data, cfg, m, logger)
		}); err != nil {
			logger.Err(err).Msg("udp serve exited")
		}
	}()

	if err := tr.SendTo(serverAddr, demo.EncodeHello(characterName, cfg.ProtocolVersion)); err != nil {
		logger.Fatal().Err(err).Msg("send hello")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("server", opt.Server).Msg("netctlc running")

	ticker := time.NewTicker(time.Second / time.Duration(cfg.IterationsPerSecond))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info().
				Interface("state", character.State()).
				Int("divergences", character.Divergences()).
				Msg("shutting down")
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			m.PhysicsProcess(dt)
		}
	}
}

// handleDatagram checks a KindHello ack against our own Config.ProtocolVersion
// and logs whether the server's advertised version is compatible. KindState
// and KindTickSpeed envelopes are applied to the MasterController as they
// arrive, whether or not a compatible hello ack has been received.
func handleDatagram(data []byte, cfg netctrl.Config, m *netctrl.MasterController, logger zerolog.Logger) {
	kind, character, body, err := demo.Decode(data)
	if err != nil {
		logger.Debug().Err(err).Msg("dropping malformed datagram")
		return
	}
	if character != characterName {
		return
	}

	switch kind {
	case demo.KindHello:
		peerVersion, err := demo.DecodeHello(body)
		if err != nil {
			logger.Debug().Err(err).Msg("dropping malformed hello")
			return
		}
		if !cfg.CompatibleWith(peerVersion) {
			logger.Error().Str("peer_version", peerVersion).Str("our_version", cfg.ProtocolVersion).
				Msg("server advertised an incompatible protocol version")
			return
		}
		logger.Info().Str("peer_version", peerVersion).Msg("handshake accepted")
	case demo.KindState:
		id, state, err := demo.DecodeState(body)
		if err != nil {
			logger.Debug().Err(err).Msg("dropping malformed state")
			return
		}
		m.ReceiveState(id, state)
	case demo.KindTickSpeed:
		percent, err := demo.DecodeTickSpeed(body)
		if err != nil {
			logger.Debug().Err(err).Msg("dropping malformed tick-speed")
			return
		}
		m.ReceiveTickSpeed(percent)
	}
}

// masterSender implements netctrl.MasterSender by forwarding redundancy
// packets to the fixed server address over the shared UDP transport.
type masterSender struct {
	tr         *udpnet.Transport
	serverAddr netip.AddrPort
}

func (s *masterSender) SendInputPacket(packet []byte) {
	_ = s.tr.SendTo(s.serverAddr, demo.EncodeInput(characterName, packet))
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
