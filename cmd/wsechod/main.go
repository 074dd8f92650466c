package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/aviatorsys/wsreactor/internal/logger"
	"github.com/aviatorsys/wsreactor/pkg/websocket"
	"github.com/aviatorsys/wsreactor/pkg/wsstats"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "wsechod"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "wsechod",
		Usage:   "WebSocket echo daemon built on the reactor's Server facade",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			initLog(cmd.Bool("dev") || cmd.Bool("pretty-log"))
			ctx = logger.InContext(ctx, slog.Default())
			return run(ctx, cmd)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// run binds the reactor and drives its event loop until ctx is cancelled:
// every TextMessage/BinaryMessage is echoed back verbatim, and every
// connection is pinged on a fixed interval to detect dead peers.
func run(ctx context.Context, cmd *cli.Command) error {
	cfg := websocket.DefaultConfig(
		websocket.WithListenAddr(cmd.String("listen-addr")),
		websocket.WithMaxFrameSize(uint64(cmd.Int("max-frame-size"))),
		websocket.WithReadBufferSize(cmd.Int("read-buffer-size")),
		websocket.WithBacklog(cmd.Int("backlog")),
	)

	srv, err := websocket.ListenConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start wsechod: %w", err)
	}
	defer func() { _ = srv.Close() }()

	pingInterval := cmd.Duration("ping-interval")
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	events := make(chan websocket.Event)
	go func() {
		defer close(events)
		for {
			ev, ok := srv.NextEvent()
			if !ok {
				return
			}
			events <- ev
		}
	}()

	l := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			for _, h := range srv.ConnectedHandles() {
				srv.Send(websocket.PingMessage(h, nil))
			}

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			handleEvent(l, srv, ev)
		}
	}
}

func handleEvent(l *slog.Logger, srv *websocket.Server, ev websocket.Event) {
	now := time.Now()

	switch ev.Kind {
	case websocket.EventConnect:
		wsstats.RecordConnect(l, now, ev.Handle)

	case websocket.EventTextMessage:
		wsstats.RecordMessage(l, now, ev.Handle, ev.Kind, len(ev.Text))
		srv.Send(websocket.TextMessage(ev.Handle, ev.Text))

	case websocket.EventBinaryMessage:
		wsstats.RecordMessage(l, now, ev.Handle, ev.Kind, len(ev.Data))
		srv.Send(websocket.BinaryMessage(ev.Handle, ev.Data))

	case websocket.EventPing, websocket.EventPong:
		wsstats.RecordMessage(l, now, ev.Handle, ev.Kind, len(ev.Data))

	case websocket.EventClose:
		wsstats.RecordClose(l, now, ev.Handle, ev.Status)
	}
}

func flags() []cli.Flag {
	path := configFile()

	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "host:port for the WebSocket listener",
			Value: "0.0.0.0:8080",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHOD_LISTEN_ADDR"),
				toml.TOML("reactor.listen_addr", path),
			),
		},
		&cli.IntFlag{
			Name:  "max-frame-size",
			Usage: "largest inbound frame payload, in bytes, before the connection is closed with status 1009 (0 = unlimited)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHOD_MAX_FRAME_SIZE"),
				toml.TOML("reactor.max_frame_size", path),
			),
		},
		&cli.IntFlag{
			Name:  "read-buffer-size",
			Usage: "bytes requested per socket read (0 = reactor default)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHOD_READ_BUFFER_SIZE"),
				toml.TOML("reactor.read_buffer_size", path),
			),
		},
		&cli.IntFlag{
			Name:  "backlog",
			Usage: "listen(2) backlog for the raw listening socket",
			Value: 128,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHOD_BACKLOG"),
				toml.TOML("reactor.backlog", path),
			),
		},
		&cli.DurationFlag{
			Name:  "ping-interval",
			Usage: "how often every connected peer is sent a liveness ping",
			Value: 30 * time.Second,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSECHOD_PING_INTERVAL"),
				toml.TOML("reactor.ping_interval", path),
			),
		},
	}
}

// configFile returns the path to wsechod's configuration file. It also
// creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// initLog initializes the default logger, based on whether wsechod is
// running in development mode or not.
func initLog(devMode bool) {
	var handler slog.Handler
	if devMode {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	}

	slog.SetDefault(slog.New(handler))
}
