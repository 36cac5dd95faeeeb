package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL represents a PostgreSQL database connection
type PostgreSQL struct {
	pool *pgxpool.Pool
}

type PostgreSQLConfig struct {
	DSN               string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// DefaultPostgreSQLConfig returns a configuration for the given DSN with
// the pool sizing used across the service.
func DefaultPostgreSQLConfig(dsn string) PostgreSQLConfig {
	return PostgreSQLConfig{
		DSN:               dsn,
		MaxConnections:    20,
		ConnectionTimeout: 5 * time.Second,
	}
}

// New creates a new PostgreSQL instance
func New(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQL, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}
	if cfg.ConnectionTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout
		poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

// Pool returns the underlying connection pool
func (db *PostgreSQL) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database connection is alive
func (db *PostgreSQL) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the database connection
func (db *PostgreSQL) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Cluster holds the primary pool and the replica pools backing the search
// index. Writes always go to the primary; reads are spread over the
// replicas. When no replicas are configured the primary serves reads too.
type Cluster struct {
	primary  *PostgreSQL
	replicas []*PostgreSQL
	selector *ReplicaSelector
}

// NewCluster connects the primary and every configured replica.
func NewCluster(ctx context.Context, primaryDSN string, replicaDSNs []string) (*Cluster, error) {
	primary, err := New(ctx, DefaultPostgreSQLConfig(primaryDSN))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary: %w", err)
	}

	replicas := make([]*PostgreSQL, 0, len(replicaDSNs))
	for i, dsn := range replicaDSNs {
		replica, err := New(ctx, DefaultPostgreSQLConfig(dsn))
		if err != nil {
			primary.Close()
			for _, r := range replicas {
				r.Close()
			}
			return nil, fmt.Errorf("failed to connect to replica %d: %w", i, err)
		}
		replicas = append(replicas, replica)
	}
	if len(replicas) == 0 {
		replicas = append(replicas, primary)
	}

	return &Cluster{
		primary:  primary,
		replicas: replicas,
		selector: NewReplicaSelector(replicas),
	}, nil
}

// Primary returns the write target.
func (c *Cluster) Primary() *PostgreSQL {
	return c.primary
}

// Replicas returns every read target.
func (c *Cluster) Replicas() []*PostgreSQL {
	return c.replicas
}

// NextReplica returns the next read target in round-robin order.
func (c *Cluster) NextReplica() *PostgreSQL {
	return c.selector.Next()
}

// Close closes every pool in the cluster.
func (c *Cluster) Close() {
	c.primary.Close()
	for _, r := range c.replicas {
		if r != c.primary {
			r.Close()
		}
	}
}
