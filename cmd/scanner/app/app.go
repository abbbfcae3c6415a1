package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/spectrum-scanner/internal/scanner"
	"github.com/roman-kulish/spectrum-scanner/internal/sdr"
	"github.com/roman-kulish/spectrum-scanner/internal/sdr/rtltcp"
	"github.com/roman-kulish/spectrum-scanner/internal/sdr/sim"
	"github.com/roman-kulish/spectrum-scanner/internal/storage"
)

const (
	storageDir = "data"

	// How often the row consumer reports pipeline progress.
	progressInterval = 10 * time.Second
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	device, err := createDevice(&config.Device)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	defer device.Close()

	options := []func(*scanner.Engine){scanner.WithLogger(logger)}
	if config.Waterfall.Depth > 0 {
		options = append(options, scanner.WithWaterfallDepth(config.Waterfall.Depth))
	}
	if config.Waterfall.PeakDecay > 0 {
		options = append(options, scanner.WithPeakDecay(config.Waterfall.PeakDecay))
	}

	timeout, err := config.ReadTimeout()
	if err != nil {
		return err
	}
	options = append(options, scanner.WithReadTimeout(timeout))

	if config.Storage.Enabled {
		store, sessionID, err := createStorage(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer store.Close()

		options = append(options, scanner.WithSink(storage.NewRecordingSink(store, sessionID)))
	}

	engine, err := scanner.New(device, config.EngineConfig(), options...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	go consumeRows(ctx, engine, logger)

	return engine.Run(ctx)
}

func createDevice(config *DeviceConfig) (sdr.Device, error) {
	switch config.Type {
	case DeviceRTLTCP:
		device, err := rtltcp.Open(config.RTLTCP)
		if err != nil {
			return nil, fmt.Errorf("creating rtl_tcp device: %w", err)
		}
		return device, nil

	case DeviceSim:
		device, err := sim.New(config.Sim)
		if err != nil {
			return nil, fmt.Errorf("creating simulated device: %w", err)
		}
		return device, nil

	default:
		return nil, fmt.Errorf("creating device: unknown type '%s'", config.Type)
	}
}

func createStorage(ctx context.Context, config *Config) (storage.Store, int64, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dataDir := config.Storage.DataDirectory
	if dataDir == "" {
		dataDir = storageDir
	}
	dbDir := filepath.Join(wd, dataDir)

	stat, err := os.Stat(dbDir)
	if err != nil {
		return nil, 0, fmt.Errorf("storage directory '%s' does not exist: %w", dbDir, err)
	}
	if !stat.IsDir() {
		return nil, 0, fmt.Errorf("invalid storage directory '%s'", dbDir)
	}

	dbPath := filepath.Join(dbDir, fmt.Sprintf("scan_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	store := storage.New(dbPath)

	sessionID, err := store.CreateSession(ctx, config.Device.Type, config.Device.Name, config.Device)
	if err != nil {
		_ = store.Close()
		return nil, 0, fmt.Errorf("creating session: %w", err)
	}

	return store, sessionID, nil
}

// consumeRows drains the engine's notification channel, logging each row at
// debug level and reporting pipeline progress periodically.
func consumeRows(ctx context.Context, engine *scanner.Engine, logger *slog.Logger) {
	var rows uint64
	report := time.NewTicker(progressInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case row, ok := <-engine.Rows():
			if !ok {
				return
			}
			rows++

			logger.Debug("spectrum row",
				slog.String("centerFreq", humanize.SI(float64(row.CenterFreq), "Hz")),
				slog.String("span", humanize.SI(float64(row.SampleRate), "Hz")),
				slog.Int("bins", len(row.Bins)))

		case <-report.C:
			bounds := engine.Bounds()
			logger.Info("pipeline progress",
				slog.Uint64("rows", rows),
				slog.Uint64("droppedRows", engine.DroppedRows()),
				slog.Uint64("droppedSinkRows", engine.DroppedSinkRows()),
				slog.String("scan", engine.ScanState().String()),
				slog.Float64("intensityMin", bounds.Min),
				slog.Float64("intensityMax", bounds.Max))
		}
	}
}
