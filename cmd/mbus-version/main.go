// mbus-version resolves the protocol version of every target in a network file.
//
// Usage:
//
//	mbus-version -config search.network
//
// One line is printed per target, in file order: name, spec and the version or
// "unresolved". With -attempts above 1 an unresolved target is asked again,
// backing off exponentially between attempts.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/retry/exponential"
	"golang.org/x/sync/errgroup"

	"github.com/bearlytools/mbus/config"
	"github.com/bearlytools/mbus/network"
	"github.com/bearlytools/mbus/rpc/client"
)

var (
	configPath = flag.String("config", "", "path to the network file")
	logLevel   = flag.String("log-level", "info", "debug, info, warn or error")
	timeout    = flag.Duration("timeout", 0, "overrides the timeout of the network file")
	attempts   = flag.Int("attempts", 1, "version requests per target before it is reported unresolved")
)

func main() {
	ctx := context.Background()
	flag.Parse()

	log, err := newLogger(*logLevel)
	if err != nil {
		exitf("bad -log-level: %s", err)
	}
	if *configPath == "" {
		exitf("usage: mbus-version -config <network file>")
	}
	if *attempts < 1 {
		exitf("bad -attempts: must be at least 1, got %d", *attempts)
	}

	n, err := config.Load(ctx, *configPath)
	if err != nil {
		exitf("%s", err)
	}
	if *timeout > 0 {
		n.Timeout = *timeout
	}

	results, err := resolveAll(ctx, n, *attempts, log)
	if err != nil {
		exitf("%s", err)
	}
	unresolved := 0
	for i, t := range n.Targets {
		if results[i] == "" {
			results[i] = "unresolved"
			unresolved++
		}
		fmt.Printf("%s\t%s\t%s\n", t.Name, t.Spec, results[i])
	}
	if unresolved > 0 {
		os.Exit(2)
	}
}

// resolveAll resolves every target concurrently, making up to attempts version
// requests per target. A target that could not be resolved gets an empty string.
func resolveAll(ctx context.Context, n *config.Network, attempts int, log *slog.Logger) ([]string, error) {
	backoff, err := exponential.New(exponential.WithPolicy(exponential.FastRetryPolicy()))
	if err != nil {
		return nil, err
	}

	sup, err := client.New(ctx, client.WithLogger(log), client.WithCompression(n.Compression))
	if err != nil {
		return nil, err
	}
	defer sup.Close()

	pool := network.NewTargetPool(network.FromClient(sup), n.Expire, network.WithLogger(log))
	defer pool.Close()

	log.Info("resolving versions", "network", n.Name, "targets", len(n.Targets), "timeout", n.Timeout, "attempts", attempts)

	results := make([]string, len(n.Targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range n.Targets {
		g.Go(func() error {
			target, err := pool.Get(gctx, t.Spec)
			if err != nil {
				return fmt.Errorf("target %s: %w", t.Name, err)
			}
			v, ok, err := network.ResolveWithRetry(gctx, target, n.Timeout, backoff, attempts)
			if err != nil {
				return fmt.Errorf("target %s: %w", t.Name, err)
			}
			if ok {
				results[i] = v.String()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func exitf(s string, i ...any) {
	fmt.Fprintf(os.Stderr, s+"\n", i...)
	os.Exit(1)
}
