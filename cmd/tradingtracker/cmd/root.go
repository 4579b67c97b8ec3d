package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/alexkukunis/tradingtracker/internal/broker"
	"github.com/alexkukunis/tradingtracker/internal/config"
	"github.com/alexkukunis/tradingtracker/internal/journal"
	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/postgres"
	"github.com/alexkukunis/tradingtracker/internal/syncer"
	"github.com/alexkukunis/tradingtracker/internal/token"
)

var _cfgFilePath string

var rootCmd = &cobra.Command{
	Use:   "tradingtracker",
	Short: "Personal trading journal with broker synchronization",
	Long: `Tradingtracker keeps a personal trading journal and imports executed
trades from the connected brokerage platform: it reconstructs closed
positions from raw order history, derives realized P&L with correct
contract and currency conversion, and merges new trades into the ledger
without duplication.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&_cfgFilePath, "config", "./configs/tracker.yaml", "config file path")
}

// app bundles everything a command needs after bootstrap.
type app struct {
	cfg    config.Config
	logger logger.Logger
	db     *sqlx.DB
	store  *journal.Store
	orch   *syncer.Orchestrator
}

func bootstrap() (*app, func(), error) {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.Info)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: can't init logger", err)
	}

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	cfg, err := config.Load(_cfgFilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: can't load cfg", err)
	}

	db, err := postgres.NewDB(postgres.NewConfigFromEnv().Setup())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: can't connect to postgres", err)
	}

	store := journal.NewStore(db)

	cipher, err := token.NewCipher(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: can't init credential cipher", err)
	}

	client := broker.NewClient(cfg.Broker, zapLogger)
	tokens := token.NewManager(client, store, cipher, zapLogger)
	orch := syncer.NewOrchestrator(client, tokens, store, cfg.Sync.FirstSyncCap, zapLogger)

	cleanup := func() {
		db.Close()
		loggerSync()
	}

	return &app{
		cfg:    cfg,
		logger: zapLogger,
		db:     db,
		store:  store,
		orch:   orch,
	}, cleanup, nil
}
