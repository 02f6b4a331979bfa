//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/ahmedafzal98/pdf-rag-api/internal/bootstrap"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/config"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
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
		provideRetrievalEmbedder,
		provideSynthesizer,
		provideParser,
		provideChatConfig,
		provideAdmission,
		provideRetriever,
		provideChatService,
		provideHandler,
		provideRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
