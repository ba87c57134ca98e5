package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/agent"
	"github.com/scribeflow/api/internal/config"
	"github.com/scribeflow/api/internal/logger"
	"github.com/scribeflow/api/internal/transcriber"
)

func main() {
	masterURL := flag.String("master", "http://localhost:8000", "master base URL")
	whisperPath := flag.String("whisper", "whisper.cpp", "path to the whisper.cpp binary")
	modelPath := flag.String("model", "models/ggml-base.bin", "path to the whisper model file")
	language := flag.String("lang", "", "transcription language hint (empty for auto-detect)")
	workDir := flag.String("workdir", filepath.Join(os.TempDir(), "scribeflow-worker"), "scratch directory for downloaded chunks")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	zlog := logger.New(config.LogConfig{Level: *logLevel, Format: "console", Output: "stdout"})
	defer zlog.Sync()

	engine := transcriber.New(*whisperPath, *modelPath, *language)
	a := agent.New(*masterURL, engine, *workDir, zlog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Info("worker starting",
		zap.String("worker", a.WorkerID()),
		zap.String("master", *masterURL))

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		zlog.Fatal("worker stopped", zap.Error(err))
	}
	zlog.Info("worker stopped")
}
