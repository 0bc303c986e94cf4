// Command gopherbit downloads a single torrent to disk, printing
// progress every 10 seconds until complete or interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/lvbealr/gopherbit/internal/config"
	"github.com/lvbealr/gopherbit/internal/coordinator"
	"github.com/lvbealr/gopherbit/internal/metainfo"
	"github.com/lvbealr/gopherbit/internal/peerid"
)

func main() {
	os.Exit(run())
}

func run() int {
	outputDir := flag.String("o", ".", "output directory")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-o dir] <path-to-torrent-file>\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 1
	}

	log := logrus.New()
	entry := logrus.NewEntry(log)

	tor, err := metainfo.Load(flag.Arg(0))
	if err != nil {
		entry.WithError(err).Error("failed to load torrent file")
		return 1
	}

	id, err := peerid.Generate()
	if err != nil {
		entry.WithError(err).Error("failed to generate peer id")
		return 1
	}

	c, err := coordinator.New(tor, *outputDir, [20]byte(id), entry)
	if err != nil {
		entry.WithError(err).Error("failed to start coordinator")
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	fmt.Println("Starting download... Press Ctrl+C to stop")
	reportProgress(ctx, c)

	err = <-runDone
	if err != nil {
		entry.WithError(err).Error("coordinator terminated with an error")
		return 1
	}
	return 0
}

// reportProgress prints "Progress: <pct> - Peers: <n>" every
// config.ProgressInterval via a live schollz/progressbar/v3 bar,
// colorstring-templating the trailing peer-count label.
func reportProgress(ctx context.Context, c *coordinator.Coordinator) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := c.Progress()
			_ = bar.Set(int(p.Fraction * 100))

			label := colorstring.Color(fmt.Sprintf(
				"Progress: %.1f%% - [green]Peers: %d[reset]", p.Fraction*100, p.Peers))
			fmt.Println(label)

			if p.Fraction >= 1.0 {
				return
			}
		}
	}
}
