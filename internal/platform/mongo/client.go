// Package mongo connects to the document store backend.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"blockcreds/internal/platform/config"
)

// Client holds a connected driver client and the configured database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects and pings. Returns nil if the URI is empty.
func New(ctx context.Context, cfg config.MongoConfig) (*Client, error) {
	if cfg.URI == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Client{client: client, db: client.Database(cfg.Database)}, nil
}

// Database returns the configured database handle.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Health pings the primary.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
