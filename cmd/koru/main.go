// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// koru loads assets through the asset engine and reports how each of
// them ended up:
//
//	koru --storage "src=./assets;name=Disk" Disk:ships/hull.material
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/core"
	"github.com/devblok/koruasset/model"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath     string
		envFiles       []string
		storages       []string
		defaultStorage string
		cacheDir       string
		logLevel       string
		priority       string
		force          bool
		discovery      bool
		timeout        time.Duration
		providers      providerFlags
	)

	flags := pflag.NewFlagSet("koru", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "yaml configuration file")
	flags.StringSliceVar(&envFiles, "env-file", nil, "env files loaded before the KORU_* overrides")
	flags.StringArrayVarP(&storages, "storage", "s", nil, "storage descriptor to add, repeatable")
	flags.StringVar(&defaultStorage, "default-storage", "", "storage used for bare relative refs")
	flags.StringVar(&cacheDir, "cache-dir", "", "asset cache directory")
	flags.StringVar(&logLevel, "log-level", "", "log level")
	flags.StringVar(&priority, "priority", "", "expression ranking queued transfers, e.g. 'type == \"Texture\" ? 1 : 0'")
	flags.BoolVarP(&force, "force", "f", false, "fetch again even when loaded or cached")
	flags.BoolVar(&discovery, "discover", false, "list autodiscoverable storages on start")
	flags.DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	flags.Float64Var(&providers.webRate, "web-rate", 0, "http requests per second, 0 for unlimited")
	flags.IntVar(&providers.webBurst, "web-burst", 4, "http request burst")
	flags.StringVar(&providers.userAgent, "user-agent", "koru", "http user agent")
	flags.BoolVar(&providers.enableS3, "s3", false, "enable the s3:// provider")
	flags.StringVar(&providers.s3Region, "s3-region", "", "AWS region, enables the s3:// provider")
	flags.StringVar(&providers.s3Endpoint, "s3-endpoint", "", "S3 compatible endpoint, enables the s3:// provider")
	flags.BoolVar(&providers.enableGCS, "gcs", false, "enable the gs:// provider")
	flags.BoolVar(&providers.noBuiltin, "no-builtin", false, "don't serve the assets compiled into the binary")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: koru [flags] ref...\n\n%s", flags.FlagUsages())
	}
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := core.LoadConfiguration(configPath, envFiles...)
	if err != nil {
		return err
	}
	cfg.Assets.Storages = append(cfg.Assets.Storages, storages...)
	if !providers.noBuiltin {
		cfg.Assets.Storages = append(cfg.Assets.Storages, builtinStorage)
	}
	if defaultStorage != "" {
		cfg.Assets.DefaultStorage = defaultStorage
	}
	if cacheDir != "" {
		cfg.Assets.CacheDirectory = cacheDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := core.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	list, closers, err := newProviders(ctx, providers, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	opts := []asset.Option{asset.WithLogger(logger)}
	for _, p := range list {
		opts = append(opts, asset.WithProvider(p))
	}
	if priority != "" {
		p, err := asset.NewExprPrioritizer(priority)
		if err != nil {
			return err
		}
		opts = append(opts, asset.WithPrioritizer(p))
	}

	e, err := asset.NewEngine(cfg.Assets, opts...)
	if err != nil {
		return err
	}
	defer e.Close()
	model.Register(e.Types())
	e.Events.AssetStorageAdded.Connect(func(s *asset.Storage) {
		logger.WithField("storage", s.String()).Debug("storage added")
	})

	if discovery {
		discover(e, logger)
	}

	var transfers []*asset.Transfer
	for _, ref := range flags.Args() {
		t, err := e.RequestAsset(ref, "", force)
		if err != nil {
			logger.WithError(err).WithField("ref", ref).Error("asset can't be requested")
			continue
		}
		transfers = append(transfers, t)
	}

	t := core.NewTime(cfg.Time)
	defer t.Stop()
	core.Run(ctx, e, t, logger, func(time.Duration) bool {
		for _, tr := range transfers {
			if !tr.Delivered() {
				return true
			}
		}
		return false
	})

	failed := report(os.Stdout, e, transfers)
	if discovery {
		fmt.Fprintf(os.Stdout, "%d assets known\n", len(e.Assets()))
	}
	if ctx.Err() != nil {
		return fmt.Errorf("stopped before every transfer finished: %w", ctx.Err())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(transfers))
	}
	return nil
}

// report prints one line per transfer and returns the number that
// didn't complete.
func report(w io.Writer, e *asset.Engine, transfers []*asset.Transfer) int {
	failed := 0
	for _, t := range transfers {
		switch t.State() {
		case asset.Completed:
			fmt.Fprintf(w, "%-10s %-9s %s (%d bytes, %d dependencies)\n",
				t.State(), t.Type(), t.Ref(), len(t.RawData()), e.Dependencies().NumDependencies(t.Ref()))
		default:
			failed++
			fmt.Fprintf(w, "%-10s %-9s %s: %v\n", t.State(), t.Type(), t.Ref(), t.Err())
		}
	}
	return failed
}
