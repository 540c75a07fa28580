// Package app wires the stores and use cases shared by the server and the
// command-line tool.
package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/adapter/archive"
	"go.ngs.io/cams-clip/internal/adapter/store"
	"go.ngs.io/cams-clip/internal/adapter/store/catalog"
	"go.ngs.io/cams-clip/internal/adapter/store/classic"
	"go.ngs.io/cams-clip/internal/adapter/store/nc"
	"go.ngs.io/cams-clip/internal/adapter/vector"
	"go.ngs.io/cams-clip/internal/config"
	"go.ngs.io/cams-clip/internal/domain"
	"go.ngs.io/cams-clip/internal/usecase"
)

// App holds the wired use cases.
type App struct {
	Catalog  *catalog.Catalog
	Store    *store.Auto
	Clip     *usecase.ClipUseCase
	Analysis *usecase.AnalysisUseCase
	Retrieve *usecase.RetrieveUseCase
}

// New builds an App from cfg. Classic files go through the pure Go backend,
// NetCDF-4 and anything unrecognised through libnetcdf.
func New(cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	libnetcdf := nc.New()
	auto := store.NewAuto(log, map[domain.Format]store.Backend{
		domain.FormatClassic: classic.New(),
		domain.FormatNetCDF4: libnetcdf,
	}, libnetcdf)

	clipUC, err := usecase.NewClipUseCase(auto, auto, vector.NewLoader(log), cfg.BatchWorkers, log)
	if err != nil {
		return nil, err
	}
	return &App{
		Catalog:  cat,
		Store:    auto,
		Clip:     clipUC,
		Analysis: usecase.NewAnalysisUseCase(auto, log),
		Retrieve: usecase.NewRetrieveUseCase(cat, archive.NewLocalStore(cfg.ArchiveDir, log), clipUC, log),
	}, nil
}
