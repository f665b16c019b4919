package main

import (
	"context"
	"fmt"
	"github.com/icinga/icinga-state-engine/internal"
	"github.com/icinga/icinga-state-engine/pkg/config"
	"github.com/icinga/icinga-state-engine/pkg/icinga"
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/periodic"
	"github.com/icinga/icinga-state-engine/pkg/retention"
	"github.com/icinga/icinga-state-engine/pkg/utils"
	"github.com/okzk/sdnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"os"
	"os/signal"
	"syscall"
)

// ExitFailure is the exit code on failure.
const ExitFailure = 1

func main() {
	os.Exit(run())
}

func run() int {
	flags, err := config.ParseFlags()
	if err != nil {
		utils.PrintErrorThenExit(err, 2)
	}

	if flags.Version {
		fmt.Println("Icinga State Engine version:", internal.Version)
		return 0
	}

	cfg, err := config.FromYAMLFile(flags.GetConfigPath())
	if err != nil {
		utils.PrintErrorThenExit(err, ExitFailure)
	}

	logs, err := logging.NewLoggingFromConfig(utils.AppName(), cfg.Logging)
	if err != nil {
		utils.PrintErrorThenExit(err, ExitFailure)
	}

	logger := logs.GetLogger()
	defer logger.Sync()

	logger.Infof("Starting Icinga State Engine (%s)", internal.Version)

	engine := icinga.NewEngine(icinga.FlappingDefaults{
		Enable:        cfg.Flapping.Enable,
		ThresholdLow:  cfg.Flapping.ThresholdLow,
		ThresholdHigh: cfg.Flapping.ThresholdHigh,
	}, logs)

	if err := commitObjects(engine, cfg.Objects, logger); err != nil {
		logger.Fatalf("%+v", err)
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	var store *retention.Store
	if cfg.Retention.Path != "" {
		store, err = retention.NewStore(cfg.Retention.Path, logs.GetChildLogger("retention"))
		if err != nil {
			logger.Fatalf("%+v", err)
		}
		defer store.Close()

		snaps, err := store.Load(ctx)
		if err != nil {
			logger.Fatalf("%+v", errors.Wrap(err, "can't restore checkable states"))
		}

		restored := engine.RestoreAll(snaps)
		logger.Infow("Restored checkable states", "restored", restored, "stored", len(snaps))
	}

	g, ctx := errgroup.WithContext(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	g.Go(func() error {
		select {
		case s := <-sig:
			logger.Infow("Shutting down", zap.String("signal", s.String()))
			cancelCtx()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if store != nil {
		flush := periodic.Start(ctx, cfg.Retention.Interval, func(tick periodic.Tick) {
			if err := store.Save(ctx, engine.SnapshotAll()); err != nil {
				logger.Errorw("Can't save checkable states", zap.Error(err))
			}
		})
		defer flush.Stop()
	}

	_ = sdnotify.Ready()
	logger.Info("Ready")

	<-ctx.Done()
	_ = sdnotify.Stopping()

	if store != nil {
		// Final flush with a fresh context, ctx is already done.
		if err := store.Save(context.Background(), engine.SnapshotAll()); err != nil {
			logger.Errorw("Can't save checkable states on shutdown", zap.Error(err))
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("%+v", err)
		return ExitFailure
	}

	return 0
}

// commitObjects loads the objects file and commits every item into the
// engine. Item-level errors are reported and skipped, fatal compiler
// errors abort the start.
func commitObjects(engine *icinga.Engine, path string, logger *logging.Logger) error {
	objects, err := config.LoadObjectsFile(path)
	if err != nil {
		return err
	}

	items, err := objects.Items(path)
	if err != nil {
		return err
	}

	sink := &icinga.CompilerErrors{}
	var committed int
	for _, item := range items {
		if err := engine.CommitConfigItem(item, sink); err != nil {
			logger.Errorw("Can't commit config item", zap.Error(err))
			continue
		}
		committed++
	}

	for _, ce := range sink.Errors() {
		if ce.Fatal {
			logger.Error(ce.Message)
		} else {
			logger.Warn(ce.Message)
		}
	}

	if sink.HasFatal() {
		return errors.New("object configuration has fatal errors")
	}

	logger.Infow("Committed object configuration", "items", committed)

	return nil
}
