package bootstrap

import (
	"fmt"
	"log"
	"strings"

	"github.com/tokligence/lexia-stream/internal/config"
	"github.com/tokligence/lexia-stream/internal/conversation"
	convpostgres "github.com/tokligence/lexia-stream/internal/conversation/postgres"
	convsqlite "github.com/tokligence/lexia-stream/internal/conversation/sqlite"
	"github.com/tokligence/lexia-stream/internal/ledger"
	"github.com/tokligence/lexia-stream/internal/ledger/async"
	ledgerpostgres "github.com/tokligence/lexia-stream/internal/ledger/postgres"
	ledgersqlite "github.com/tokligence/lexia-stream/internal/ledger/sqlite"
)

const (
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 // minutes
)

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// OpenLedger opens the usage ledger named by cfg.LedgerPath behind the async
// batching writer. An empty path returns a nil store.
func OpenLedger(cfg config.Config, logger *log.Logger) (ledger.Store, error) {
	path := strings.TrimSpace(cfg.LedgerPath)
	if path == "" {
		return nil, nil
	}
	var (
		store ledger.Store
		err   error
	)
	if isPostgresDSN(path) {
		store, err = ledgerpostgres.New(path, cfg.DBMaxOpenConns, defaultMaxIdleConns, defaultConnMaxLifetime)
	} else {
		store, err = ledgersqlite.New(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return async.New(store, async.Config{Logger: logger}), nil
}

// OpenConversations opens the history store named by cfg.ConversationDSN:
// memory, sqlite://path, a bare sqlite path or a postgres DSN. An empty DSN
// returns a nil store.
func OpenConversations(cfg config.Config) (conversation.Store, error) {
	dsn := strings.TrimSpace(cfg.ConversationDSN)
	switch {
	case dsn == "":
		return nil, nil
	case dsn == "memory":
		return conversation.NewMemoryStore(), nil
	case isPostgresDSN(dsn):
		store, err := convpostgres.New(dsn, cfg.DBMaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		return store, nil
	default:
		store, err := convsqlite.New(strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		return store, nil
	}
}
