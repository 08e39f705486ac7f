package cmd

import (
	"log/slog"

	"github.com/lolishinshi/imsearch-go/internal/catalog"
	"github.com/lolishinshi/imsearch-go/internal/config"
	"github.com/lolishinshi/imsearch-go/internal/logging"
)

// env bundles the pieces every subcommand needs to open against one
// config directory: the resolved layout, loaded config, a logger, and
// the log-file cleanup to defer.
type env struct {
	Dir     string
	Layout  config.Layout
	Config  config.Config
	Log     *slog.Logger
	cleanup func()
}

// openEnv resolves the config directory (spec §4.8 "the config
// directory path is the sole global argument"), loads config.toml over
// the defaults, and sets up process logging the way logging.Setup does
// for the HTTP server.
func openEnv() (*env, error) {
	dir := config.Dir(confDirFlag)
	layout := config.NewLayout(dir)

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	log, cleanup, err := logging.Setup(logging.DefaultConfig(dir))
	if err != nil {
		return nil, err
	}

	return &env{Dir: dir, Layout: layout, Config: cfg, Log: log, cleanup: cleanup}, nil
}

// Close releases the logging resources opened by openEnv.
func (e *env) Close() {
	if e.cleanup != nil {
		e.cleanup()
	}
}

// openCatalog opens the catalog database at this env's layout.
func (e *env) openCatalog() (*catalog.Store, error) {
	return catalog.Open(e.Layout.CatalogDB)
}
