package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harborfund/vaultd/internal/server"
	"github.com/harborfund/vaultd/internal/server/handler"
	"github.com/harborfund/vaultd/internal/server/ws"
	"github.com/harborfund/vaultd/internal/service"
	"github.com/harborfund/vaultd/internal/vault"
)

// ServeMode runs the custody API: the keeper, the HTTP and WebSocket
// surfaces, and live event fan-out.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCustody(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the cold-storage archival loop: aged withdrawal and
// settlement rows are uploaded to blob storage and then pruned from the
// primary store.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startArchival(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the custody API and the archival loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCustody(ctx, g, deps)
	if a.cfg.Archive.Enabled {
		a.startArchival(ctx, g, deps)
	}
	return g.Wait()
}

// startCustody builds the keeper, services, and API server, and adds their
// goroutines to the errgroup.
func (a *App) startCustody(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	publisher := service.NewEventPublisher(deps.EventBus, a.logger)
	keeper := vault.New(publisher, a.logger)

	vaultSvc := service.NewVaultService(
		keeper, deps.Codec,
		deps.FundStore, deps.WithdrawalStore, deps.AuditStore,
		deps.Notifier,
		a.cfg.Vault.WithdrawAlertThreshold,
		a.logger,
	)
	tradeSvc := service.NewTradeService(
		keeper, deps.Codec,
		deps.FundStore, deps.SettlementStore, deps.AuditStore,
		deps.LockManager, deps.Notifier, a.cfg.Vault.LockTTL.Duration,
		a.logger,
	)

	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false; custody is only reachable via a restart with the server enabled")
		return
	}

	hub := ws.NewHub(deps.EventBus, service.EventChannel, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Funds:  handler.NewFundHandler(vaultSvc, a.logger),
		Trades: handler.NewTradeHandler(tradeSvc, a.logger),
		Events: handler.NewEventsHandler(deps.EventBus, service.EventChannel, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKeys:         a.cfg.Server.APIKeys,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchival adds the periodic archival goroutine to the errgroup. Each
// cycle uploads rows older than the retention window to blob storage and,
// when the upload succeeds, prunes them from the primary store.
func (a *App) startArchival(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "archival requested but blob storage is not wired")
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		a.logger.InfoContext(ctx, "archival loop started",
			slog.Duration("interval", interval),
			slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		)

		for {
			a.archiveOnce(ctx, deps, time.Now().UTC().Add(-retention))

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}

// archiveOnce runs one archival cycle against the given cutoff.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, cutoff time.Time) {
	wCount, err := deps.Archiver.ArchiveWithdrawals(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "withdrawal archival failed",
			slog.String("error", err.Error()),
		)
	} else if wCount > 0 {
		pruned, pruneErr := deps.WithdrawalStore.DeleteBefore(ctx, cutoff)
		if pruneErr != nil {
			a.logger.ErrorContext(ctx, "withdrawal prune failed",
				slog.String("error", pruneErr.Error()),
			)
		}
		a.logger.InfoContext(ctx, "withdrawals archived",
			slog.Int64("archived", wCount),
			slog.Int64("pruned", pruned),
		)
	}

	sCount, err := deps.Archiver.ArchiveSettlements(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "settlement archival failed",
			slog.String("error", err.Error()),
		)
	} else if sCount > 0 {
		pruned, pruneErr := deps.SettlementStore.DeleteBefore(ctx, cutoff)
		if pruneErr != nil {
			a.logger.ErrorContext(ctx, "settlement prune failed",
				slog.String("error", pruneErr.Error()),
			)
		}
		a.logger.InfoContext(ctx, "settlements archived",
			slog.Int64("archived", sCount),
			slog.Int64("pruned", pruned),
		)
	}
}
