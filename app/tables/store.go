package tables

import (
	"context"

	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/config"
	"github.com/truly-network/eventlistener/pkg/db"
	"github.com/truly-network/eventlistener/pkg/db/dynamo"
	"github.com/truly-network/eventlistener/pkg/db/memory"
)

// Open opens the configured backend as is, without creating or checking tables.
func Open(ctx context.Context, logger *zap.Logger, cfg config.Config) (db.Store, error) {
	if cfg.StoreBackend == "memory" {
		return memory.NewStore(), nil
	}
	client, err := dynamo.NewClient(ctx, logger, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return dynamo.NewStore(client, db.EventTables(cfg.Tables)...), nil
}
