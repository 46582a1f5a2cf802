//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoContainer wraps a MongoDB instance started from the generic image.
type MongoContainer struct {
	Container testcontainers.Container
	URI       string
	Client    *mongo.Client
	DB        *mongo.Database
}

// NewMongoContainer starts a single-node MongoDB.
func NewMongoContainer(t *testing.T) *MongoContainer {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForLog("Waiting for connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start mongo container: %v", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get mongo endpoint: %v", err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to mongo: %v", err)
	}

	return &MongoContainer{
		Container: container,
		URI:       endpoint,
		Client:    client,
		DB:        client.Database("blockcreds_test"),
	}
}

// DropCollections clears the named collections.
func (m *MongoContainer) DropCollections(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := m.DB.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
	}
	return nil
}
