package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openscms/auth-gateway/internal/config"
)

// HousekeeperMain starts the house keeping jobs
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	gateway, closeFn, err := initGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise the gateway: %w", err)
	}
	defer closeFn()

	// Start the housekeeper loop
	c := time.Tick(cfg.Housekeeper.TriggerInterval)
	idleTimeout := cfg.Sessions.IdleTimeout
	concurrencyLimit := cfg.Housekeeper.ConcurrencyLimit
	for {
		err := gateway.Manager.CleanupIdleSessions(ctx, idleTimeout, concurrencyLimit)
		if err != nil {
			slogctx.Error(ctx, "Error during session housekeeping", "error", err)
		}

		err = gateway.Manager.CleanupExpiredChallenges(ctx)
		if err != nil {
			slogctx.Error(ctx, "Error during challenge housekeeping", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
