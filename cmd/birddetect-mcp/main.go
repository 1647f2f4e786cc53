package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldbirds/birddetect/internal/backend"
	"github.com/fieldbirds/birddetect/internal/config"
	"github.com/fieldbirds/birddetect/internal/log"
	"github.com/fieldbirds/birddetect/internal/pipeline"
	"github.com/fieldbirds/birddetect/internal/registry"
	"github.com/fieldbirds/birddetect/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("birddetect-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("birddetect-mcp - MCP server for bird detection in photographs")
			fmt.Println()
			fmt.Println("Usage: birddetect-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables (also read from ./.env):")
			fmt.Printf("  %s=path      Config file (default %s)\n", config.EnvConfigPath, config.DefaultPath)
			fmt.Printf("  %s=name       Model to activate at start-up\n", config.EnvModel)
			fmt.Printf("  %s=path    onnxruntime shared library\n", config.EnvONNXLib)
			fmt.Printf("  %s=debug  Log level\n", config.EnvLogLevel)
			fmt.Printf("  %s=path    Also log to a rotating file\n", config.EnvLogFile)
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			return
		}
	}

	if err := run(); err != nil {
		log.Fatal(log.Fields{"error": err.Error()}, "[main] server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet; defaults still write to stderr.
		return err
	}

	log.Setup(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	log.Info(log.Fields{
		"version": Version,
		"built":   BuildTime,
		"commit":  GitCommit,
		"models":  len(cfg.Models),
	}, "[main] starting birddetect-mcp")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if usesONNX(cfg) {
		if err := backend.InitRuntime(cfg.ONNXLibrary); err != nil {
			return err
		}
		defer func() {
			if err := backend.ShutdownRuntime(); err != nil {
				log.Warn(log.Fields{"error": err.Error()}, "[main] failed to shut down ONNX runtime")
			}
		}()
	}

	reg, err := registry.Load(ctx, cfg, backend.Open)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn(log.Fields{"error": err.Error()}, "[main] failed to close models")
		}
	}()

	p, err := pipeline.New(reg, cfg.ConfidenceThreshold, cfg.IoUThreshold)
	if err != nil {
		return err
	}

	server.Version = Version
	log.Info(log.Fields{"model": reg.ActiveName()}, "[main] ready")
	return server.New(p).Run(ctx)
}

func usesONNX(cfg *config.Config) bool {
	for _, m := range cfg.Models {
		if backend.Kind(m.Kind) == backend.KindONNX {
			return true
		}
	}
	return false
}
