package di

import (
	"fmt"

	"github.com/aristath/autorebalance/internal/config"
	"github.com/aristath/autorebalance/internal/database"
	"github.com/aristath/autorebalance/internal/modules/journal"
	"github.com/rs/zerolog"
)

// InitializeJournal opens the order journal, applies its schema and
// registers the session.
func InitializeJournal(cfg *config.Config, sessionID string, armed bool, log zerolog.Logger) (*database.DB, *journal.Repository, error) {
	// journal.db - append-only order activity, one row per event
	db, err := database.New(database.Config{
		Path:    cfg.JournalPath(),
		Profile: database.ProfileLedger,
		Name:    "journal",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize journal database: %w", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}

	log.Info().Str("path", db.Path()).Msg("Journal opened")

	repo := journal.NewRepository(db.Conn(), sessionID, log)
	if err := repo.StartSession(armed); err != nil {
		db.Close()
		return nil, nil, err
	}

	return db, repo, nil
}
