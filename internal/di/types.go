// Package di wires the process and per-session dependencies.
package di

import (
	"github.com/aristath/autorebalance/internal/clients/gateway"
	"github.com/aristath/autorebalance/internal/config"
	"github.com/aristath/autorebalance/internal/database"
	"github.com/aristath/autorebalance/internal/modules/journal"
	"github.com/aristath/autorebalance/internal/modules/orders"
	"github.com/aristath/autorebalance/internal/modules/rebalancing"
	"github.com/aristath/autorebalance/internal/modules/risk"
	"github.com/aristath/autorebalance/internal/server"
)

// Foundation holds what is built once per process: configuration and the
// risk validator every later value passes through.
type Foundation struct {
	Config    *config.Config
	Strategy  config.AutorebalanceConfig
	Validator *risk.Validator
}

// Container holds one trading session's dependencies.
// Each session gets fresh order and snapshot state and a new session id.
type Container struct {
	Foundation *Foundation
	SessionID  string

	JournalDB *database.DB
	Journal   *journal.Repository

	Gateway *gateway.Client
	Orders  *orders.Manager
	Engine  *rebalancing.Engine

	// Server is nil when the status server is disabled.
	Server *server.Server
}
