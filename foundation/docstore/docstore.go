// Package docstore provides support for the mongo document store.
package docstore

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config is the required properties to use mongo.
type Config struct {
	URI      string
	Database string
}

// Store holds the mongo client and the database documents are written to.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

// Open connects to mongo and pings the primary.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &Store{client: client, database: client.Database(cfg.Database)}, nil
}

// Collection returns the named collection.
func (s *Store) Collection(name string) *mongo.Collection {
	return s.database.Collection(name)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
