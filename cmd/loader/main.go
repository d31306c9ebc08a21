package main

import (
	"context"
	"flag"
	"time"

	"github.com/aitextbook/backend-go/internal/bootstrap"
	"github.com/aitextbook/backend-go/internal/logger"
	"github.com/aitextbook/backend-go/internal/textbook"
	"go.uber.org/zap"
)

func main() {
	recreate := flag.Bool("recreate", false, "drop and recreate the vector collection before loading")
	deleteChapter := flag.String("delete-chapter", "", "delete all content for the given chapter slug and exit")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	app, err := bootstrap.Init(ctx, bootstrap.Options{
		SkipDatabase:            true,
		ForceRecreateCollection: *recreate,
	})
	if err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	defer app.Shutdown()

	if *deleteChapter != "" {
		if err := app.VectorStore.DeleteByChapter(ctx, *deleteChapter); err != nil {
			logger.Fatal("failed to delete chapter", zap.String("chapter", *deleteChapter), zap.Error(err))
		}
		logger.Info("chapter deleted", zap.String("chapter", *deleteChapter))
		return
	}

	if err := textbook.LoadSampleContent(ctx, app.Embedder, app.VectorStore); err != nil {
		logger.Fatal("failed to load sample content", zap.Error(err))
	}
	logger.Info("sample textbook content loaded", zap.Int("chunks", len(textbook.SampleChunks)))
}
