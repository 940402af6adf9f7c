package api

import (
	"context"

	"room-panel/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

The handlers are the CONSUMER of the store and the change channel, so the
interfaces live HERE. FileStore and GormStore both satisfy DocumentStore;
the hub and the Redis relay both satisfy Notifier.
*/

// DocumentStore is the owned store object: get the current value, replace
// it wholesale.
type DocumentStore interface {
	Get(ctx context.Context) (models.VersionedDocument, error)
	Replace(ctx context.Context, doc models.Document) (models.VersionedDocument, error)
}

// Notifier fans an accepted write out over the change channel.
type Notifier interface {
	Publish(ctx context.Context, v models.VersionedDocument) error
}
