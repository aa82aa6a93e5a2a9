// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown stops the sweeper, tells every session the node is going away,
// leaves the relay and closes the backends. Mongo goes last so in-flight
// writes finish first.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if c := deps.Core; c != nil {
		if c.Sweeper != nil {
			c.Sweeper.Stop()
		}
		if c.Hub != nil {
			logger.Info("closing live sessions", zap.Int("sessions", c.Hub.Count()))
			c.Hub.Close()
		}
		if c.Relay != nil {
			if err := c.Relay.Close(); err != nil {
				logger.Warn("relay drain failed", zap.Error(err))
			}
		}
		if c.Limit != nil {
			c.Limit.Close()
		}
	}

	if deps.Redis != nil {
		if err := deps.Redis.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
