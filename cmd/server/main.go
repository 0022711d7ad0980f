package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shiv248/collabide/pkg/collab"
	"github.com/shiv248/collabide/pkg/logger"
	"github.com/shiv248/collabide/pkg/sandbox"
	"github.com/shiv248/collabide/pkg/server"
)

// Config holds all server configuration.
type Config struct {
	Port string

	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration

	RoomCleanupInterval time.Duration

	SandboxEnabled          bool
	MaxConcurrentExecutions int
	ExecutionTimeoutSecs    int
	ExecutionMemoryMB       int
	ExecutionMaxOutputKB    int
}

func main() {
	logger.Init()

	config := Config{
		Port:                    getEnv("PORT", "3030"),
		WSReadTimeout:           time.Duration(getEnvInt("WS_READ_TIMEOUT_MINUTES", 30)) * time.Minute,
		WSWriteTimeout:          time.Duration(getEnvInt("WS_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		RoomCleanupInterval:     time.Duration(getEnvInt("ROOM_CLEANUP_INTERVAL_MINUTES", 15)) * time.Minute,
		SandboxEnabled:          getEnv("SANDBOX_ENABLED", "true") == "true",
		MaxConcurrentExecutions: getEnvInt("MAX_CONCURRENT_EXECUTIONS", 4),
		ExecutionTimeoutSecs:    getEnvInt("EXECUTION_TIMEOUT_SECONDS", 30),
		ExecutionMemoryMB:       getEnvInt("EXECUTION_MEMORY_MB", 256),
		ExecutionMaxOutputKB:    getEnvInt("EXECUTION_MAX_OUTPUT_KB", 1024),
	}

	logger.Info("Starting collabide server...")
	logger.Info("Port: %s", config.Port)

	registry := collab.NewRegistry()

	var executor *sandbox.Executor
	if config.SandboxEnabled {
		driver, err := sandbox.NewDockerDriver()
		if err != nil {
			logger.Error("sandbox disabled: docker driver unavailable: %v", err)
		} else {
			executor = sandbox.NewExecutor(driver, config.MaxConcurrentExecutions)
			logger.Info("sandbox enabled: max_concurrent=%d", config.MaxConcurrentExecutions)
		}
	} else {
		logger.Info("sandbox: disabled by configuration")
	}

	limits := sandbox.DefaultLimits()
	limits.TimeoutSecs = config.ExecutionTimeoutSecs
	limits.MemoryBytes = int64(config.ExecutionMemoryMB) * 1024 * 1024
	limits.MaxOutputBytes = config.ExecutionMaxOutputKB * 1024

	srv := server.NewServer(registry, executor, server.Config{
		WSReadTimeout:           config.WSReadTimeout,
		WSWriteTimeout:          config.WSWriteTimeout,
		SandboxEnabled:          executor != nil,
		MaxConcurrentExecutions: config.MaxConcurrentExecutions,
		ExecutionLimits:         limits,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.StartCleaner(ctx, config.RoomCleanupInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
		srv.Shutdown(ctx)
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%s", config.Port)
	log.Fatal(srv.ListenAndServe(addr))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
