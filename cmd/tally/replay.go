package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/HerbHall/tally/internal/config"
	"github.com/HerbHall/tally/internal/counter"
	"github.com/HerbHall/tally/internal/server"
	"github.com/HerbHall/tally/internal/source"
	"github.com/HerbHall/tally/pkg/plugin"
	"go.uber.org/zap"
)

// runReplay implements "tally replay [-config path] [-deltas] file".
// A file of "-" reads stdin.
func runReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	deltasOnly := fs.Bool("deltas", false, "print only observations that produced a delta")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: tally replay [-config path] [-deltas] file")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	if err := replay(context.Background(), *configPath, fs.Arg(0), *deltasOnly, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 1
	}
	return 0
}

// replay feeds a recorded sample file through a standalone counter and
// prints one status line per observation, then the final categories.
func replay(ctx context.Context, configPath, input string, deltasOnly bool, out io.Writer) error {
	v, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}

	var src *source.Reader
	if input == "-" {
		src = source.Stdin()
	} else {
		src, err = source.OpenFile(input)
		if err != nil {
			return err
		}
	}
	defer src.Close()

	mod := counter.New()
	if err := mod.Init(ctx, plugin.Dependencies{
		Config: config.New(v).Sub("plugins.counter"),
		Logger: zap.NewNop(),
	}); err != nil {
		return err
	}

	for {
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		obs, err := mod.Process(ctx, raw)
		if err != nil {
			return err
		}
		if deltasOnly && obs.Delta == nil {
			continue
		}
		fmt.Fprintln(out, counter.StatusLine(*obs))
	}

	snap := mod.Snapshot()
	fmt.Fprintf(out, "\n%s: %d samples, %d skipped, %d deltas, %d resets\n",
		filepath.Base(input), snap.Samples, src.Malformed(), snap.Deltas, snap.Resets)
	for _, c := range snap.Categories {
		fmt.Fprintf(out, "  #%d  %gx %.2f g (±%.3f)\n", c.ID, c.Count, c.Weight, c.Deviation)
	}
	fmt.Fprintf(out, "  total %.2f g\n", snap.Total)
	return nil
}
