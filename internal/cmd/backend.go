package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/runger/refkit/internal/config"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/dataprovider/remote"
	"github.com/runger/refkit/internal/dataprovider/sqlstore"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/refstore"
)

// errNeedsLocal is returned by commands that write to the database directly.
var errNeedsLocal = errors.New("this command needs the local database (drop --remote)")

// backend is the provider a command reads through, wrapped in a store.
type backend struct {
	cfg        *config.Config
	logger     *slog.Logger
	translator i18n.Translator

	provider dataprovider.Provider
	creator  dataprovider.Creator
	local    *sqlstore.Store // nil with --remote
	conn     *grpc.ClientConn
	store    *refstore.Store
}

func openBackend(ctx context.Context) (*backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)
	b := &backend{cfg: cfg, logger: logger}

	if b.translator, err = loadTranslator(cfg); err != nil {
		return nil, err
	}

	if flagRemote {
		conn, err := remote.Dial(cfg.SocketPath())
		if err != nil {
			return nil, fmt.Errorf("daemon not reachable: %w", err)
		}
		client := remote.NewClient(conn)
		b.conn, b.provider, b.creator = conn, client, client
	} else {
		db, err := sqlstore.Open(ctx, sqlstore.Options{
			Driver: cfg.Store.Driver,
			DSN:    cfg.DSN(),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		b.local, b.provider, b.creator = db, db, db
	}

	b.store = refstore.New(b.provider, refstore.Options{
		BatchWindow: cfg.BatchWindow(),
		CacheSize:   cfg.Store.CacheSize,
		Logger:      logger,
	})
	return b, nil
}

func (b *backend) Close() {
	b.store.Close()
	if b.local != nil {
		if err := b.local.Close(); err != nil {
			b.logger.Warn("failed to close database", "error", err)
		}
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

// loadTranslator returns the English catalog with the configured locale
// merged over it.
func loadTranslator(cfg *config.Config) (i18n.Translator, error) {
	cat := i18n.English()
	if path := cfg.CatalogPath(); path != "" {
		if err := cat.LoadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
	}
	return cat, nil
}

// await runs fetch and blocks until ready reports true or ctx ends.
func await(ctx context.Context, s *refstore.Store, fetch func(), ready func() bool) error {
	notify := make(chan struct{}, 1)
	unsubscribe := s.Subscribe(func(refstore.Event) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	fetch()
	for !ready() {
		select {
		case <-notify:
		case <-ctx.Done():
			return fmt.Errorf("waiting for records: %w", ctx.Err())
		}
	}
	return nil
}
