// Package chatdata assembles the local-first chat data layer: the
// persistent object store, the migration engine that upgrades it at load
// time, the chat repository, the ingestion pipeline, and the optional
// decentralized backup channel.
package chatdata

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mkaretsos/go-chat-data/internal/backup"
	"github.com/mkaretsos/go-chat-data/internal/chats"
	"github.com/mkaretsos/go-chat-data/internal/config"
	"github.com/mkaretsos/go-chat-data/internal/ingest"
	"github.com/mkaretsos/go-chat-data/internal/migrate"
	"github.com/mkaretsos/go-chat-data/internal/store"
)

// DataLayer is an opened data layer with its long-lived components.
type DataLayer struct {
	Chats    *chats.Repository
	Pipeline *ingest.Pipeline

	cfg config.Config
	db  *store.DB
	log zerolog.Logger
}

// Open opens the store at cfg.StorePath, builds the chat repository and
// ingestion pipeline, and runs pending chat migrations.
//
// Load order matches the product's startup: the chat listing is read
// first, then migrations run. A migration failure is logged and does not
// fail Open: the chat list still loads at whatever schema version was
// last durable, and the next Open retries the migration batch from the
// same point. Callers that need the post-migration view call Chats.Load
// again.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger, index ingest.Index) (*DataLayer, error) {
	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	chatsNS := db.Namespace(store.NamespaceChats)
	repo := chats.NewRepository(chatsNS, log)
	if err := repo.Load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	runner := migrate.NewRunner(chatsNS, db.Namespace(store.NamespaceMeta), migrate.Registered(), log)
	if err := runner.Run(ctx); err != nil {
		log.Error().Err(err).Msg("chat migrations failed, continuing with last durable version")
	}

	return &DataLayer{
		Chats:    repo,
		Pipeline: ingest.New(index, log, ingest.WithConcurrency(cfg.IngestConcurrency)),
		cfg:      cfg,
		db:       db,
		log:      log,
	}, nil
}

// ErrBackupDisabled is returned by OpenBackup when BACKUP_ENABLED is off.
var ErrBackupDisabled = errors.New("chatdata: backup is disabled by configuration")

// OpenBackup opens the backup channel for the given wallet identity using
// the configured endpoint, channel, aggregate key and save rate.
func (d *DataLayer) OpenBackup(ctx context.Context, signer backup.Signer, primary backup.Transport) (*backup.Channel, error) {
	if !d.cfg.Backup.Enabled {
		return nil, ErrBackupDisabled
	}
	dial := backup.NewDialer(d.cfg.Backup.APIURL, d.cfg.Backup.Channel, http.DefaultClient)
	return backup.Open(ctx, signer, primary, dial, d.log,
		backup.WithChallenge(d.cfg.Backup.Challenge),
		backup.WithAggregateKey(d.cfg.Backup.AggregateKey),
		backup.WithSaveLimiter(rate.NewLimiter(rate.Limit(d.cfg.Backup.SaveRPS), d.cfg.Backup.SaveBurst)),
	)
}

// Close releases the underlying store.
func (d *DataLayer) Close() error {
	return d.db.Close()
}
