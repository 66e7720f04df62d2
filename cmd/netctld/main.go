// Command netctld runs a demo authoritative ServerController over UDP,
// driving a single shared demo.Character and broadcasting its authoritative
// state to every peer whose KindHello handshake it has accepted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/VictoriaMetrics/metrics"

	"github.com/fluffynukeit/godot-sub000/db/snapshotdb"
	"github.com/fluffynukeit/godot-sub000/pkg/demo"
	"github.com/fluffynukeit/godot-sub000/pkg/netctrl"
	"github.com/fluffynukeit/godot-sub000/pkg/netctrlmetrics"
	"github.com/fluffynukeit/godot-sub000/pkg/sessionstore"
	"github.com/fluffynukeit/godot-sub000/pkg/transport/udpnet"
)

const characterName = "player1"

var opt struct {
	Help        bool
	Listen      string
	DBPath      string
	MetricsBind string
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.StringVar(&opt.Listen, "listen", "0.0.0.0:9731", "UDP address to listen on")
	pflag.StringVar(&opt.DBPath, "db", "netctld.db", "path to the snapshot recording database")
	pflag.StringVar(&opt.MetricsBind, "metrics-addr", "127.0.0.1:9732", "address to serve /metrics on")
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

	db, err := snapshotdb.Open(opt.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open snapshot db")
	}
	defer db.Close()
	if cur, req, err := db.Version(); err != nil {
		logger.Fatal().Err(err).Msg("get db version")
	} else if cur != req {
		if err := db.MigrateUp(context.Background(), req); err != nil {
			logger.Fatal().Err(err).Msg("migrate db")
		}
	}

	sessions := sessionstore.New()
	buf := demo.NewInputBuffer()
	character := demo.NewCharacter(buf, nil)

	tr, err := udpnet.Listen(netip.MustParseAddrPort(opt.Listen))
	if err != nil {
		logger.Fatal().Err(err).Msg("listen udp")
	}
	defer tr.Close()

	sender := &serverSender{
		tr:       tr,
		sessions: sessions,
		logger:   logger,
		db:       db,
	}

	srv, err := netctrl.NewServerController(cfg, buf, character, sender,
		netctrl.WithServerLogger(logger.With().Str("component", "server").Logger()))
	if err != nil {
		logger.Fatal().Err(err).Msg("construct server controller")
	}

	set := metrics.NewSet()
	netctrlmetrics.NewServerRecorder(set, characterName, srv)

	go func() {
		if err := tr.Serve(func(from netip.AddrPort, data []byte) {
			handleDatagram(from, data, cfg, srv, sessions, tr, logger)
		}); err != nil {
			logger.Err(err).Msg("udp serve exited")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		set.WritePrometheus(w)
	})
	go func() {
		if err := http.ListenAndServe(opt.MetricsBind, mux); err != nil {
			logger.Err(err).Msg("metrics server exited")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("listen", opt.Listen).Str("metrics", opt.MetricsBind).Msg("netctld running")

	ticker := time.NewTicker(time.Second / time.Duration(cfg.IterationsPerSecond))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			srv.PhysicsProcess(dt)
		}
	}
}

// handleDatagram gates every puppet behind a KindHello handshake before
// admitting its KindInput traffic: a puppet whose advertised
// netctrl.Config.ProtocolVersion is not Config.CompatibleWith ours is never
// opened as a session, so a mismatched client's input is silently dropped
// rather than fed to the ServerController.
func handleDatagram(from netip.AddrPort, data []byte, cfg netctrl.Config, srv *netctrl.ServerController, sessions *sessionstore.Store, tr *udpnet.Transport, logger zerolog.Logger) {
	kind, character, body, err := demo.Decode(data)
	if err != nil {
		logger.Debug().Err(err).Msg("dropping malformed datagram")
		return
	}
	if character != characterName {
		return
	}

	key := from.String()

	if kind == demo.KindHello {
		peerVersion, err := demo.DecodeHello(body)
		if err != nil {
			logger.Debug().Err(err).Msg("dropping malformed hello")
			return
		}
		if !cfg.CompatibleWith(peerVersion) {
			logger.Warn().Str("puppet", key).Str("peer_version", peerVersion).
				Str("our_version", cfg.ProtocolVersion).Msg("rejecting incompatible protocol version")
			return
		}
		if _, ok := lookupSession(sessions, key); !ok {
			sess := sessions.Open(key)
			srv.SetPuppetActive(key, true)
			logger.Info().Str("puppet", key).Str("session", sess.ID.String()).
				Str("peer_version", peerVersion).Msg("puppet connected")
		}
		if err := tr.SendTo(from, demo.EncodeHello(characterName, cfg.ProtocolVersion)); err != nil {
			logger.Debug().Err(err).Str("puppet", key).Msg("hello ack failed")
		}
		return
	}

	if kind != demo.KindInput {
		return
	}
	if _, ok := lookupSession(sessions, key); !ok {
		logger.Debug().Str("puppet", key).Msg("dropping input before handshake")
		return
	}

	srv.ReceiveSnapshots(body)
}

func lookupSession(sessions *sessionstore.Store, puppetID string) (sessionstore.Session, bool) {
	var found sessionstore.Session
	var ok bool
	sessions.Range(func(s sessionstore.Session) bool {
		if s.PuppetID == puppetID && s.Active {
			found, ok = s, true
			return false
		}
		return true
	})
	return found, ok
}

// serverSender implements netctrl.ServerSender by broadcasting to every
// currently-active puppet address over the shared UDP transport, and
// recording every authoritative state to the snapshot database.
type serverSender struct {
	tr       *udpnet.Transport
	sessions *sessionstore.Store
	logger   zerolog.Logger
	db       *snapshotdb.DB
}

func (s *serverSender) SendTickSpeed(percent int8) {
	s.broadcast(demo.EncodeTickSpeed(characterName, percent))
}

func (s *serverSender) BroadcastState(id uint64, payload any) {
	state, ok := payload.(demo.State)
	if !ok {
		s.logger.Warn().Msg("unexpected snapshot payload type")
		return
	}
	env, err := demo.EncodeState(characterName, id, state)
	if err != nil {
		s.logger.Err(err).Msg("encode state")
		return
	}
	s.broadcast(env)

	if err := s.db.RecordState(characterName, id, []byte(fmt.Sprintf("%+v", state))); err != nil {
		s.logger.Err(err).Msg("record state")
	}
}

func (s *serverSender) SetPuppetFlow(puppetID string, open bool) {
	s.sendTo(puppetID, demo.EncodeFlow(characterName, open))
}

func (s *serverSender) broadcast(env []byte) {
	for _, id := range s.sessions.ActivePuppetIDs() {
		s.sendTo(id, env)
	}
}

func (s *serverSender) sendTo(puppetID string, env []byte) {
	addr, err := netip.ParseAddrPort(puppetID)
	if err != nil {
		return
	}
	if err := s.tr.SendTo(addr, env); err != nil {
		s.logger.Debug().Err(err).Str("puppet", puppetID).Msg("send failed")
	}
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
