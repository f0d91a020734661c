// mbus-server answers mbus.getVersion and mbus.health on a TCP address.
//
// Usage:
//
//	mbus-server -addr :19090 -version 5.2
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/network"
	"github.com/bearlytools/mbus/rpc/compress"
	"github.com/bearlytools/mbus/rpc/health"
	"github.com/bearlytools/mbus/rpc/interceptor"
	"github.com/bearlytools/mbus/rpc/interceptor/otel"
	"github.com/bearlytools/mbus/rpc/interceptor/ratelimit"
	"github.com/bearlytools/mbus/rpc/server"
	"github.com/bearlytools/mbus/rpc/transport/tcp"
	"github.com/bearlytools/mbus/version"
)

var (
	addr        = flag.String("addr", ":19090", "address to listen on")
	ver         = flag.String("version", "5.2", "version to answer with")
	compression = flag.String("compression", "none", "reply compression: none, gzip, snappy or zstd")
	logLevel    = flag.String("log-level", "info", "debug, info, warn or error")
	rate        = flag.Float64("rate", 0, "requests per second allowed per caller host, 0 for no limit")
	grace       = flag.Duration("shutdown-timeout", 10*time.Second, "how long to wait for in-flight requests on shutdown")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM, or until the listener fails.
func run() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("bad -log-level: %w", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	v, err := version.Parse(*ver)
	if err != nil {
		return fmt.Errorf("bad -version: %w", err)
	}
	comp, err := compress.Parse(*compression)
	if err != nil {
		return fmt.Errorf("bad -compression: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, stop, err := network.StartVersionService(ctx, v, log)
	if err != nil {
		return fmt.Errorf("could not start version service: %w", err)
	}
	defer stop()

	telemetry, err := otel.New(ctx, otel.DefaultConfig())
	if err != nil {
		return fmt.Errorf("could not set up telemetry: %w", err)
	}
	interceptors := []interceptor.ServerInterceptor{telemetry.ServerInterceptor(), interceptor.Logging(log)}
	if *rate > 0 {
		limiter := ratelimit.New(ratelimit.Config{Rate: *rate, Burst: int(*rate) + 1, KeyFunc: ratelimit.ByRemote()})
		interceptors = append(interceptors, limiter.ServerInterceptor())
	}
	rpc := server.New(
		server.WithLogger(log),
		server.WithCompression(comp),
		server.WithInterceptors(interceptors...),
	)
	if err := svc.Register(rpc); err != nil {
		return fmt.Errorf("could not register version service: %w", err)
	}
	hs, err := health.Enable(rpc)
	if err != nil {
		return fmt.Errorf("could not register health service: %w", err)
	}
	srv := tcp.NewServer(rpc, *addr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	log.Info("serving", "addr", *addr, "version", v)
	return serve(ctx, cancel, srv, sigs, hs, *grace, log)
}

// listener is the part of tcp.Server that serve drives.
type listener interface {
	ListenAndServe(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// serve runs srv until it stops. A signal on sigs marks the server not serving,
// shuts it down within grace and then calls cancel. serve returns after
// ListenAndServe did and after any shutdown in progress finished.
func serve(ctx context.Context, cancel context.CancelFunc, srv listener, sigs <-chan os.Signal, hs *health.Server, grace time.Duration, log *slog.Logger) error {
	// served is closed when ListenAndServe returned, shutdown when the signal
	// handler is done with a graceful shutdown or knows there is none to do.
	served := make(chan struct{})
	shutdown := make(chan struct{})
	go func() {
		defer close(shutdown)
		var sig os.Signal
		select {
		case sig = <-sigs:
		case <-served:
			return
		}
		log.Info("shutting down", "signal", sig)
		hs.SetServingStatus("", health.NotServing)
		sctx, scancel := context.WithTimeout(context.Background(), grace)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("shutdown did not finish cleanly", "err", err)
		}
		cancel()
	}()

	err := srv.ListenAndServe(ctx)
	close(served)
	<-shutdown
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
