// Command duplexrelay forwards TCP connections through duplex splices.
//
//	duplexrelay -mode proxy -listen :8080 -remote 10.0.0.2:80
//	duplexrelay -mode mux-client -listen :1080 -remote tunnel.example:4000
//	duplexrelay -mode mux-server -listen :4000 -remote 127.0.0.1:1080
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xDarkicex/duplex/internal/relay"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := relay.DefaultConfig()
	var (
		mode  string
		debug bool
	)
	flag.StringVar(&mode, "mode", string(cfg.Mode), "Mode: 'proxy', 'mux-client' or 'mux-server'")
	flag.StringVar(&cfg.ListenAddr, "listen", "0.0.0.0:8080", "Listen address")
	flag.StringVar(&cfg.RemoteAddr, "remote", "", "Remote address")
	flag.IntVar(&cfg.BufferSize, "buffer", cfg.BufferSize, "Ring buffer size per direction, in bytes")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Remote dial timeout")
	flag.DurationVar(&cfg.KeepAlive, "keepalive", cfg.KeepAlive, "yamux keep-alive interval")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()
	cfg.Mode = relay.Mode(mode)

	log, err := newLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "duplexrelay: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("relay stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg relay.Config, log *zap.Logger) error {
	srv, err := relay.New(cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}

	// Wait for active relays to finish or the timeout.
	if srv.Wait(shutdownTimeout) {
		log.Info("shutdown complete")
	} else {
		log.Warn("shutdown timed out, forcing exit")
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	conf := zap.NewProductionConfig()
	if debug {
		conf.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return conf.Build()
}
