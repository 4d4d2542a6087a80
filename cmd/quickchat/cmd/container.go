package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"

	"github.com/nfrund/quickchat/internal/config"
	"github.com/nfrund/quickchat/internal/credentials"
	"github.com/nfrund/quickchat/internal/database"
	"github.com/nfrund/quickchat/internal/logging"
	"github.com/nfrund/quickchat/internal/pubsub"
	"github.com/nfrund/quickchat/internal/store"
	"github.com/nfrund/quickchat/internal/store/memstore"
	"github.com/nfrund/quickchat/internal/store/surrealstore"
	"github.com/nfrund/quickchat/internal/transport/wsstore"
)

// backend is the store the process talks to, plus what it takes to stop it.
type backend struct {
	connector store.Connector
	closers   []func() error
}

// Shutdown is called by the injector.
func (b *backend) Shutdown() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// newInjector loads the configuration and registers the providers of the
// process-wide services. Services are built on first use.
func newInjector(logOut io.Writer) (do.Injector, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logging.New(logOut))
	do.Provide(injector, provideCredentials)
	do.Provide(injector, provideBackend)
	return injector, nil
}

func provideCredentials(i do.Injector) (credentials.Store, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return credentials.NewFileStore(afero.NewOsFs(), cfg.GetCredDir()), nil
}

func provideBackend(i do.Injector) (*backend, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	ctx := context.Background()

	switch cfg.GetStore() {
	case config.StoreMemory:
		return newMemoryBackend(ctx, logger)
	case config.StoreWS:
		return &backend{connector: wsstore.NewConnector(cfg.GetURL(), wsstore.WithLogger(logger))}, nil
	case config.StoreSurreal:
		return newSurrealBackend(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unknown store %q", cfg.GetStore())
}

// newMemoryBackend runs the in-process store on a watermill bus, traced when
// PUBSUB_TRACING_ENABLED is set.
func newMemoryBackend(ctx context.Context, logger *slog.Logger) (*backend, error) {
	tracer, cleanup, err := pubsub.SetupOTel(ctx, pubsub.LoadTracingConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	bus := pubsub.NewWatermillBridge(pubsub.Config{
		BlockPublishUntilAck: true,
		Tracer:               tracer,
		Logger:               logger,
	})
	srv := memstore.NewServer(bus, memstore.WithLogger(logger))
	return &backend{
		connector: srv,
		closers: []func() error{
			func() error { cleanup(); return nil },
			bus.Close,
			srv.Close,
		},
	}, nil
}

func newSurrealBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	conn := database.NewConnection(cfg)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	conn.StartMonitoring()

	live := database.NewSurrealLiveQueryService(conn, logger)
	st := surrealstore.New(conn, live, surrealstore.WithLogger(logger))
	if err := st.Init(ctx); err != nil {
		live.Close()
		_ = conn.Close(ctx)
		return nil, err
	}
	return &backend{
		connector: st,
		closers: []func() error{
			func() error { return conn.Close(context.Background()) },
			func() error { live.Close(); return nil },
		},
	}, nil
}
