package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/admitpay/internal/clock"
	"github.com/smallbiznis/admitpay/internal/config"
	"github.com/smallbiznis/admitpay/internal/migration"
	"github.com/smallbiznis/admitpay/internal/observability"
	"github.com/smallbiznis/admitpay/internal/server"
	"github.com/smallbiznis/admitpay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Payment sessions, webhooks and their domains
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(int64(cfg.NodeID))
}
