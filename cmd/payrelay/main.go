package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrelay/internal/authnet"
	"github.com/smallbiznis/payrelay/internal/clock"
	"github.com/smallbiznis/payrelay/internal/config"
	"github.com/smallbiznis/payrelay/internal/locker"
	"github.com/smallbiznis/payrelay/internal/observability"
	"github.com/smallbiznis/payrelay/internal/reconcile"
	"github.com/smallbiznis/payrelay/internal/server"
	"github.com/smallbiznis/payrelay/internal/zoho"
	"github.com/smallbiznis/payrelay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		locker.Module,

		// Functional domains
		zoho.Module,
		authnet.Module,
		reconcile.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
