package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alexkukunis/tradingtracker/internal/model"
	"github.com/alexkukunis/tradingtracker/internal/syncer"
)

var (
	_syncAccountID string
	_syncMode      string
	_syncAll       bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import executed trades from the broker into the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := bootstrap()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		mode := syncer.Mode(_syncMode)
		if mode != syncer.Initial && mode != syncer.Refresh {
			return fmt.Errorf("unknown sync mode: %s", _syncMode)
		}

		if err := app.store.InitSchema(ctx); err != nil {
			return fmt.Errorf("%w: can't init schema", err)
		}

		accounts, err := syncTargets(ctx, app)
		if err != nil {
			return err
		}

		// One goroutine per account; the orchestrator requires exclusivity
		// per account, never across accounts.
		g, gctx := errgroup.WithContext(ctx)
		for i := range accounts {
			acct := accounts[i]
			g.Go(func() error {
				result, err := app.orch.Run(gctx, &acct, mode)
				if err != nil {
					return fmt.Errorf("%w: sync failed for account %s", err, acct.ID)
				}
				app.logger.Infof("account %s: created=%d skipped=%d", acct.ID, result.Created, result.Skipped)
				return nil
			})
		}
		return g.Wait()
	},
}

func syncTargets(ctx context.Context, app *app) ([]model.Account, error) {
	if _syncAll {
		accounts, err := app.store.Accounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: can't list accounts", err)
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf("no connected accounts")
		}
		return accounts, nil
	}

	if _syncAccountID == "" {
		return nil, fmt.Errorf("either --account or --all is required")
	}
	acct, err := app.store.Account(ctx, _syncAccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load account", err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account not found: %s", _syncAccountID)
	}
	return []model.Account{*acct}, nil
}

func init() {
	syncCmd.Flags().StringVar(&_syncAccountID, "account", "", "account id to sync")
	syncCmd.Flags().StringVar(&_syncMode, "mode", string(syncer.Refresh), "sync mode: initial or refresh")
	syncCmd.Flags().BoolVar(&_syncAll, "all", false, "sync every connected account")
	rootCmd.AddCommand(syncCmd)
}
