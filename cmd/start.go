package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/coolsocket/internal/env"
	"github.com/luma/coolsocket/internal/meta"
	"github.com/luma/coolsocket/protocol"
	"github.com/luma/coolsocket/transport"
)

const shutdownTimeout = 5 * time.Second

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for tcp clients on
	port int

	acceptTimeout time.Duration
	readTimeout   time.Duration
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 7363, "The port to listen client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.DurationVar(&acceptTimeout, "accept-timeout", 0, "How long each accept may wait before looping, 0 waits indefinitely")
	flags.DurationVar(&readTimeout, "read-timeout", 0, "How long each read on a client connection may block, 0 blocks indefinitely")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up an echo server",
	Long: `Start up an echo server

Every message a client sends is sent straight back to it. Server status and
Prometheus metrics are served over HTTP on the http port.

Usage
	coolsocket start

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		applyFlags(cmd, conf)

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		var tlsConfig *tls.Config
		if conf.TLSEnabled() {
			cert, err := tls.LoadX509KeyPair(conf.TLSCert, conf.TLSKey)
			if err != nil {
				return err
			}

			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		server := transport.NewServer(transport.Options{
			Host:          conf.Host,
			Port:          conf.Port,
			AcceptTimeout: conf.AcceptTimeout,
			ReadTimeout:   conf.ReadTimeout,
			MaxFrameSize:  conf.MaxFrameSize,
			Reuseport:     conf.Reuseport,
			TLSConfig:     tlsConfig,
			KeepAlive:     time.Minute,
			Handler:       echoHandler(log.Named("echo")),
			Metrics:       transport.NewMetrics(transport.WithRegistry(registry)),
			Log:           log.Named("transport"),
		})

		router := setupRouter(conf.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, status(server))
		})

		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

		s := &http.Server{
			Addr:    net.JoinHostPort(conf.Host, conf.HTTPPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		if err := server.Start(shutdownTimeout); err != nil {
			return err
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.Int("port", server.LocalPort()),
			zap.String("httpPort", conf.HTTPPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(ctx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := server.Stop(shutdownTimeout); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// applyFlags lets flags given on the command line override the environment.
func applyFlags(cmd *cobra.Command, conf *env.Config) {
	flags := cmd.Flags()

	if flags.Changed("host") {
		conf.Host = host
	}

	if flags.Changed("port") {
		conf.Port = port
	}

	if flags.Changed("http-port") {
		conf.HTTPPort = httpPort
	}

	if flags.Changed("accept-timeout") {
		conf.AcceptTimeout = acceptTimeout
	}

	if flags.Changed("read-timeout") {
		conf.ReadTimeout = readTimeout
	}
}

// echoHandler sends every message straight back, keeping its framing: chunked
// messages are echoed as a single chunk.
func echoHandler(log *zap.Logger) transport.ClientHandler {
	return transport.ClientHandlerFunc(func(ctx context.Context, ch *transport.Channel) error {
		log := log.With(zap.Uint64("channel", ch.ID()), zap.Stringer("remote", ch.RemoteAddr()))
		log.Debug("Client connected")

		for {
			resp, err := ch.Receive()
			switch {
			case errors.Is(err, protocol.ErrClosed):
				log.Debug("Client disconnected")
				return nil

			case errors.Is(err, protocol.ErrTimeout):
				log.Debug("Dropping idle client")
				return nil

			case err != nil:
				return err
			}

			log.Debug("Echoing message",
				zap.Int64("length", resp.Length),
				zap.Bool("chunked", resp.Chunked))

			if resp.Chunked {
				err = ch.SendChunks(resp.Bytes())
			} else {
				err = ch.Send(resp.Bytes())
			}

			if err != nil {
				return err
			}
		}
	})
}

func status(server *transport.Server) gin.H {
	state := transport.StateStopped
	connections := 0

	if session := server.Session(); session != nil {
		state = session.State()
		connections = session.ConnectionManager().Len()
	}

	return gin.H{
		"version":     meta.GetInfo().Version,
		"listening":   server.IsListening(),
		"state":       state.String(),
		"port":        server.LocalPort(),
		"connections": connections,
	}
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	//   - Skips the endpoints scraped by monitoring.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
