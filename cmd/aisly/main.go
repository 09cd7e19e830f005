package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xpanvictor/aisly/internal/app"
	"github.com/xpanvictor/aisly/internal/config"
	"github.com/xpanvictor/aisly/internal/ui"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/io/capture"

	tea "github.com/charmbracelet/bubbletea"
)

const defaultTUILog = "aisly.log"

func main() {
	configPath := flag.String("config", "", "path to a yaml config file (default config_<env>.yaml)")
	headless := flag.Bool("headless", false, "run without the terminal ui")
	listDevices := flag.Bool("list-devices", false, "print capture devices and exit")
	startNow := flag.Bool("start", false, "start listening immediately")
	flag.Parse()

	// fetch cfg
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// the terminal ui owns stdout and stderr, so logs go to a file
	var outputs []string
	switch {
	case cfg.LogFile != "":
		outputs = append(outputs, cfg.LogFile)
	case !*headless && !*listDevices:
		outputs = append(outputs, defaultTUILog)
	}
	logger := Logger.New(cfg.Debug, outputs...)
	defer logger.Sync()
	logger.Info("Logger initialized")

	driver, err := capture.NewMalgoDriver(logger.Named("malgo"))
	if err != nil {
		logger.Fatalf("Failed to initialise audio backend: %v", err)
	}

	if *listDevices {
		printDevices(driver)
		driver.Close()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg, logger, driver, app.Backends{})
	if err != nil {
		logger.Fatalf("Failed to build application: %v", err)
	}
	if err := application.Run(ctx); err != nil {
		logger.Fatalf("Failed to start application: %v", err)
	}

	if *startNow {
		if err := application.Orchestrator.Start(ctx); err != nil {
			logger.Errorf("Failed to start listening: %v", err)
		}
	}

	if *headless {
		logger.Info("Running headless, waiting for signal")
		<-ctx.Done()
	} else {
		program := tea.NewProgram(ui.New(application.Orchestrator), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil && ctx.Err() == nil {
			logger.Errorf("Terminal ui exited: %v", err)
		}
	}

	// 5 secs then cancel
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	logger.Info("Shutdown system")
}

func printDevices(driver capture.Driver) {
	devices, err := driver.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list devices: %v\n", err)
		os.Exit(1)
	}
	for i, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %d: %s\n", marker, i, d.Name)
	}
}
