//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/ahmedafzal98/pdf-rag-api/internal/bootstrap"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/config"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/logger"
)

func initializeWorker() (*bootstrap.WorkerApp, error) {
	wire.Build(
		config.Load,
		logger.New,
		providePostgresPool,
		provideCatalog,
		provideProgressCache,
		provideWorkQueue,
		provideBlobStore,
		provideOpenAIClient,
		provideEmbedderImpl,
		provideIngestEmbedder,
		provideParser,
		provideChunkPlanner,
		providePipeline,
		provideReconciler,
		bootstrap.NewWorkerApp,
	)
	return nil, nil
}
