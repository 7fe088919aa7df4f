package di

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/autorebalance/internal/clients/gateway"
	"github.com/aristath/autorebalance/internal/config"
	"github.com/aristath/autorebalance/internal/modules/allocation"
	"github.com/aristath/autorebalance/internal/modules/orders"
	"github.com/aristath/autorebalance/internal/modules/rebalancing"
	"github.com/aristath/autorebalance/internal/modules/risk"
	"github.com/aristath/autorebalance/internal/notify"
	"github.com/aristath/autorebalance/internal/server"
)

// InitializeFoundation checks the risk catalogue and loads the strategy
// configuration through it. A failure here is fatal before any connection.
func InitializeFoundation(cfg *config.Config, confirm risk.Confirmer, securityLog zerolog.Logger) (*Foundation, error) {
	policy := risk.DefaultPolicy()
	if err := policy.Check(); err != nil {
		return nil, fmt.Errorf("risk policy is inconsistent: %w", err)
	}

	validator := risk.NewValidator(policy, confirm, securityLog)
	strategy, err := config.LoadAutorebalance(validator)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy configuration: %w", err)
	}

	return &Foundation{
		Config:    cfg,
		Strategy:  strategy,
		Validator: validator,
	}, nil
}

// Wire builds a session container. onFatal receives broker-side failures
// and must not block.
// Order of operations:
// 1. Session id and journal
// 2. Broker gateway
// 3. Order manager and rebalance engine
// 4. Status server (optional)
func Wire(f *Foundation, onFatal func(error), log zerolog.Logger) (*Container, error) {
	sessionID := uuid.NewString()
	log = log.With().Str("session_id", sessionID).Logger()
	policy := f.Validator.Policy()

	// Step 1: journal
	journalDB, journalRepo, err := InitializeJournal(f.Config, sessionID, f.Strategy.Armed, log)
	if err != nil {
		return nil, err
	}

	// Step 2: gateway
	gw := gateway.New(gateway.Config{
		URL:      f.Config.GatewayURL,
		ClientID: f.Config.GatewayClientID,
	}, onFatal, log)

	// Step 3: engine
	deps := rebalancing.Deps{
		Broker:      gw,
		Orders:      orders.NewManager(policy.OrderCooloff, log),
		Validator:   f.Validator,
		ErrorCodes:  risk.DefaultErrorCatalogue(),
		Solver:      allocation.NewClosestPortfolioSolver(log),
		Composition: f.Config.Composition,
		Config:      f.Strategy,
		Journal:     journalRepo,
	}
	if f.Config.NotifyDesktop {
		deps.Notifier = notify.NewDesktop(f.Strategy.RebalanceFreq, log)
	}
	engine, err := rebalancing.New(deps, log)
	if err != nil {
		journalDB.Close()
		return nil, fmt.Errorf("failed to initialize rebalancer: %w", err)
	}
	gw.Attach(engine)

	c := &Container{
		Foundation: f,
		SessionID:  sessionID,
		JournalDB:  journalDB,
		Journal:    journalRepo,
		Gateway:    gw,
		Orders:     deps.Orders,
		Engine:     engine,
	}

	// Step 4: status server
	if f.Config.StatusPort > 0 {
		c.Server = server.New(server.Config{
			Log:       log,
			Port:      f.Config.StatusPort,
			SessionID: sessionID,
			Status:    engine,
			Book:      deps.Orders,
			Journal:   journalDB,
			DevMode:   f.Config.DevMode,
		})
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return c, nil
}

// Close releases the session's resources.
func (c *Container) Close() error {
	if c.JournalDB != nil {
		return c.JournalDB.Close()
	}
	return nil
}
