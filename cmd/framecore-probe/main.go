// Command framecore-probe reports how framecore classifies the memory of every Vulkan device on
// the system and can drive a number of headless frames through the engine on the first suitable
// device.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/config"
)

func main() {
	configPath := flag.String("config", "", "path to a framecore TOML config; defaults are used when empty")
	frames := flag.Int("frames", 0, "number of headless frames to run on the first suitable device")
	watch := flag.Bool("watch", false, "reload the config file while frames run")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "framecore",
	})
	if *debug {
		handler.SetLevel(log.DebugLevel)
	}
	logger := slog.New(handler)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := run(ctx, logger, *configPath, *frames, *watch)
	if err != nil {
		logger.Error("probe failed", slog.String("error", fmt.Sprintf("%+v", err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, frames int, watch bool) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	loader, err := core.CreateSystemLoader()
	if err != nil {
		return errors.Wrap(err, "failed to load vulkan")
	}

	instance, _, err := loader.CreateInstance(nil, core1_0.InstanceCreateInfo{
		ApplicationName:    "framecore-probe",
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "framecore",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create instance")
	}
	defer instance.Destroy(nil)

	physicalDevices, _, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "failed to enumerate physical devices")
	}

	reports, err := reportDevices(physicalDevices)
	if err != nil {
		return err
	}
	fmt.Println(reports)

	if frames <= 0 {
		return nil
	}

	if watch && configPath == "" {
		return errors.New("-watch requires -config")
	}
	if !watch {
		configPath = ""
	}

	return runFrames(ctx, logger, instance, physicalDevices, cfg, configPath, frames)
}
