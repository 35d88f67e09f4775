// ev80d is the daemon entry point: a multi-worker HTTP server built on top
// of internal/httpserver, internal/worker, and internal/netdriver.
//
// It can be launched non-interactively via CLI flags, or, when neither
// --addr nor --workers is given (or --interactive is set), falls back to a
// short interactive prompt for those two values — the same dual-mode shape
// the teacher's own CLI uses. In prompt mode --max-conns and --accept-rate
// are ignored and their defaults apply.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"github.com/urfave/cli"
	"golang.org/x/time/rate"

	"github.com/corewave/ev80/internal/config"
	"github.com/corewave/ev80/internal/util"
	"github.com/corewave/ev80/internal/worker"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "ev80d"
	app.Usage = "embeddable async HTTP daemon"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr, a", Value: ":8080", Usage: "listen address"},
		cli.IntFlag{Name: "workers, w", Value: 4, Usage: "number of independent worker loops"},
		cli.IntFlag{Name: "max-conns", Value: 1024, Usage: "max concurrently accepted connections per worker"},
		cli.Float64Flag{Name: "accept-rate", Value: 500, Usage: "accepts/sec permitted per worker, 0 disables pacing"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		cli.BoolFlag{Name: "interactive, i", Usage: "force the interactive prompt even with other flags set"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()

	if c.Bool("interactive") || !c.IsSet("addr") && !c.IsSet("workers") {
		promptConfig(&cfg)
	} else {
		cfg.Addr = c.String("addr")
		cfg.WorkerCount = c.Int("workers")
		cfg.MaxConnsPerWorker = c.Int("max-conns")
		cfg.AcceptRate = c.Float64("accept-rate")
	}
	cfg.Debug = c.Bool("debug")

	if cfg.Debug {
		util.EnableDebug()
	}
	if cfg.WorkerCount < 1 {
		return errors.New("workers must be at least 1")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	util.LogSuccess("ev80d v%s — listening on %s across %d workers", version, cfg.Addr, cfg.WorkerCount)
	util.StartStatsReporter(ctx)

	return serve(ctx, cfg)
}

// serve starts cfg.WorkerCount independent worker.Worker instances, each
// accepting on the same address via SO_REUSEPORT-free net.Listen (the OS
// still load-balances fairly across listeners on most platforms) and
// sharing nothing but the route table, per spec §5's "no sharing between
// workers" rule.
func serve(ctx context.Context, cfg config.Config) error {
	routes := buildRoutes()

	var wg sync.WaitGroup
	errs := make(chan error, cfg.WorkerCount)

	for i := 0; i < cfg.WorkerCount; i++ {
		var limiter *rate.Limiter
		if cfg.AcceptRate > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), int(cfg.AcceptRate))
		}
		w := worker.New(i, routes.Bind)
		wg.Add(1)
		go func(w *worker.Worker, limiter *rate.Limiter) {
			defer wg.Done()
			if err := w.Serve(ctx, cfg.Addr, cfg.MaxConnsPerWorker, limiter); err != nil {
				errs <- fmt.Errorf("worker %d: %w", w.ID, err)
			}
		}(w, limiter)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// promptConfig asks for the listen address and worker count interactively;
// run uses it when neither --addr nor --workers is given, or with
// --interactive.
func promptConfig(cfg *config.Config) {
	addr, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(fmt.Sprintf("Listen address (default %s)", cfg.Addr)).
		Show()
	if addr = strings.TrimSpace(addr); addr != "" {
		cfg.Addr = addr
	}

	workers, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(fmt.Sprintf("Worker count (default %d)", cfg.WorkerCount)).
		Show()
	if n, err := strconv.Atoi(strings.TrimSpace(workers)); err == nil && n > 0 {
		cfg.WorkerCount = n
	}

	pterm.Println()
}
