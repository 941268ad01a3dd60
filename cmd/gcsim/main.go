// ABOUTME: Command-line driver for the collector
// ABOUTME: Runs the mutator simulator or collects a heap loaded from a dump

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/prateek/marksweep"
	"github.com/prateek/marksweep/config"
	"github.com/prateek/marksweep/gc"
	"github.com/prateek/marksweep/graph"
	"github.com/prateek/marksweep/heapdump"
	"github.com/prateek/marksweep/infra"
	"github.com/prateek/marksweep/sim"
)

type Options struct {
	Config   string `short:"c" long:"config" description:"collector settings (.toml or .properties)"`
	Dump     string `short:"d" long:"dump" description:"collect a JSON heap dump once instead of simulating"`
	Save     string `long:"save" description:"write the heap left behind as a JSON dump"`
	Mutators int    `short:"m" long:"mutators" default:"4" description:"number of simulated mutator threads"`
	Steps    int    `short:"s" long:"steps" default:"200" description:"steps per mutator"`
	Seed     int64  `long:"seed" default:"1" description:"random seed of the simulator"`
	Top      int    `short:"t" long:"top" default:"5" description:"number of top retainers to print"`
}

func main() {
	opt := Options{}
	if _, err := flags.Parse(&opt); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if err := run(context.Background(), opt, os.Stdout); err != nil {
		infra.Logger.Error().Err(err).Msg("gcsim failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opt Options, out io.Writer) error {
	settings := config.Default()
	if opt.Config != "" {
		var err error
		if settings, err = config.Load(opt.Config); err != nil {
			return err
		}
	}
	infra.SetLevel(settings.Log.Level)
	memOpts := settings.Options()

	var mem *marksweep.Memory
	if opt.Dump != "" {
		mem = marksweep.New(memOpts)
		if err := collectDump(mem, opt.Dump, out); err != nil {
			return err
		}
	} else {
		memOpts.World = gc.RequireNative{}
		mem = marksweep.New(memOpts)
		w := sim.DefaultWorkload()
		w.Mutators, w.Steps, w.Seed = opt.Mutators, opt.Steps, opt.Seed
		report, err := sim.Run(ctx, mem, w)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "mutators %d, allocations %d, collections %d\n", len(report.Mutators), report.Allocations, report.Collections)
		fmt.Fprintf(out, "reclaimed %d objects (%d bytes), live %d objects (%d bytes)\n",
			report.Reclaimed, report.ReclaimedBytes, report.LiveObjects, report.LiveBytes)
	}

	printTop(out, mem, opt.Top)

	if opt.Save != "" {
		f, err := os.Create(opt.Save)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := heapdump.Write(f, heapdump.Capture(mem)); err != nil {
			return fmt.Errorf("save %s: %w", opt.Save, err)
		}
	}
	return nil
}

func collectDump(mem *marksweep.Memory, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dump, err := heapdump.Open(f)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := dump.Build(mem); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	stats := mem.GC().PerformFullGC(nil)
	fmt.Fprintf(out, "roots %d, marked %d, retained %d, reclaimed %d objects (%d bytes)\n",
		stats.Roots, stats.Marked, stats.Retained, stats.Reclaimed, stats.ReclaimedBytes)
	return nil
}

func printTop(out io.Writer, mem *marksweep.Memory, n int) {
	g := mem.Inspect()
	labels := g.GetRoots().Labels
	for _, r := range graph.TopRetainers(g, n) {
		line := fmt.Sprintf("%10d  %-24s %s", r.Retained, r.Type, r.ID)
		if label, ok := labels[r.ID]; ok {
			line += "  (" + label + ")"
		}
		fmt.Fprintln(out, line)
	}
}
