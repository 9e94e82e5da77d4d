// Package main is a command-line client that acquires, inspects and forgets
// the visitor identity stored on this machine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"qx7/internal/platform/config"
	"qx7/internal/platform/logger"
)

const usage = `usage: qx7 [flags] <command>

commands:
  acquire   resolve the identity with the service and persist it
  read      print the locally stored identity
  detect    run the data-clearing heuristic
  forget    remove the identity from every storage tier and the request cache
  purge     delete expired database records
  listen    answer sync bridge requests until interrupted

flags:
`

var (
	errNoIdentity = errors.New("no stored identity")
	errNoDatabase = errors.New("no database tier configured")
)

func main() {
	var verbose, metrics bool
	flag.BoolVar(&verbose, "v", false, "verbose logging to stderr")
	flag.BoolVar(&metrics, "metrics", false, "print storage counters to stderr on exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.ClientFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logr := logger.Discard()
	if verbose {
		logr = logger.NewWithWriter(os.Stderr, "debug", cfg.Log.Format)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	err = run(ctx, flag.Arg(0), cfg, logr, reg, os.Stdout)
	if metrics {
		if merr := printMetrics(os.Stderr, reg); merr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", merr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg config.Client, logr *slog.Logger, reg prometheus.Registerer, out io.Writer) error {
	d, err := wire(ctx, cfg, logr, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.close(); err != nil {
			logr.Warn("release resources", "error", err)
		}
	}()

	switch command {
	case "acquire":
		return printJSON(out, d.acquirer.Acquire(ctx))
	case "read":
		id, ok := d.store.Read(ctx)
		if !ok {
			return errNoIdentity
		}
		return printJSON(out, map[string]any{
			"qx7Id":         id,
			"integrity":     d.store.Integrity(ctx, id),
			"storageHealth": d.store.Health().Status(),
		})
	case "detect":
		return printJSON(out, d.detector.Detect(ctx))
	case "forget":
		return errors.Join(d.store.Clear(ctx), d.cache.Clear(ctx))
	case "purge":
		if d.database == nil {
			return errNoDatabase
		}
		n, err := d.database.PurgeExpiredAt(ctx, time.Now())
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int64{"purged": n})
	case "listen":
		if id, ok := d.store.Read(ctx); ok {
			if err := d.bridge.Broadcast(ctx, id); err != nil {
				logr.Warn("initial broadcast failed", "error", err)
			}
		}
		return d.bridge.Run(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printMetrics writes every non-zero counter in reg as "name{labels} value".
func printMetrics(out io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			value := m.GetCounter().GetValue()
			if value == 0 {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+strconv.Quote(lp.GetValue()))
			}
			fmt.Fprintf(out, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}
