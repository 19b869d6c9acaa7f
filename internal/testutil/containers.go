// Package testutil starts throwaway Postgres and S3 containers for
// integration tests. Containers are removed through t.Cleanup.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cloo-solutions/recall/internal/database"
)

const (
	postgresImage = "pgvector/pgvector:0.8.1-pg18"
	postgresCreds = "recall"

	rustfsImage = "rustfs/rustfs:latest"
	// RustFSCredential is both the access key and the secret of the
	// RustFS container.
	RustFSCredential = "rustfsadmin"
)

// Endpoint is a started container's reachable address.
type Endpoint struct {
	Host string
	Port string
}

func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) Endpoint {
	t.Helper()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("terminate %s: %v", req.Image, err)
		}
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("%s port %s: %v", req.Image, port, err)
	}
	return Endpoint{Host: host, Port: mapped.Port()}
}

// StartPostgres runs pgvector-enabled Postgres and returns its URL.
func StartPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	ep := start(ctx, t, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresCreds,
			"POSTGRES_PASSWORD": postgresCreds,
			"POSTGRES_DB":       postgresCreds,
		},
		// the entrypoint restarts the server once after initdb
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(time.Minute),
	}, "5432")

	return fmt.Sprintf("postgres://%[1]s:%[1]s@%s:%s/%[1]s?sslmode=disable", postgresCreds, ep.Host, ep.Port)
}

// StartRustFS runs an S3-compatible RustFS server and returns its URL.
func StartRustFS(ctx context.Context, t *testing.T) string {
	t.Helper()

	ep := start(ctx, t, testcontainers.ContainerRequest{
		Image:        rustfsImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": RustFSCredential,
			"RUSTFS_SECRET_KEY": RustFSCredential,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}, "9000")

	return "http://" + ep.Host + ":" + ep.Port
}

// NewIndexedPool applies the migrations in migrationsDir with the same
// golang-migrate path serve uses, connects a pool and creates the vector
// table for the given dimensions.
func NewIndexedPool(ctx context.Context, t *testing.T, databaseURL, migrationsDir string, dimensions int) (*pgxpool.Pool, *database.VectorIndex) {
	t.Helper()

	dir, err := filepath.Abs(migrationsDir)
	if err != nil {
		t.Fatalf("migrations dir: %v", err)
	}
	if err := database.Migrate(ctx, databaseURL, "file://"+filepath.ToSlash(dir)); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: databaseURL})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	vectors := database.EnsureVectorIndex(ctx, pool, dimensions)
	if !vectors.IsVectorIndexLoaded() {
		t.Fatalf("vector index did not load")
	}
	return pool, vectors
}
