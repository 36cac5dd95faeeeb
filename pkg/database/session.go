package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redbco/redb-search/pkg/logger"
)

// ErrMissingTenant is returned when a request carries no usable tenant
// identifier. The request must be rejected before any database access.
var ErrMissingTenant = errors.New("missing or invalid tenant identifier")

// Router binds requests to a tenant-scoped database session on the correct
// target: the primary for write intent, a round-robin replica for reads.
type Router struct {
	cluster *Cluster
	logger  *logger.Logger
}

// NewRouter creates a new connection router over the cluster.
func NewRouter(cluster *Cluster, logger *logger.Logger) *Router {
	return &Router{
		cluster: cluster,
		logger:  logger,
	}
}

// Session is one request's tenant-scoped transaction. The transaction is
// finished and the connection released exactly once, via Close.
type Session struct {
	TenantID int64
	Write    bool

	tx      pgx.Tx
	release func()
	done    bool
}

// NewSession wraps an open transaction as a tenant-scoped session. release
// returns the underlying connection to its pool and runs exactly once.
func NewSession(tenantID int64, write bool, tx pgx.Tx, release func()) *Session {
	return &Session{
		TenantID: tenantID,
		Write:    write,
		tx:       tx,
		release:  release,
	}
}

// Bind acquires a connection from the correct pool, opens a transaction and
// sets the tenant-scoping variable consumed by the row-level isolation
// policy. The variable is transaction-local, so a pooled connection can
// never carry one tenant's scoping into another tenant's reuse of it.
func (r *Router) Bind(ctx context.Context, tenantID int64, write bool) (*Session, error) {
	if tenantID <= 0 {
		return nil, ErrMissingTenant
	}

	var pool *pgxpool.Pool
	if write {
		pool = r.cluster.Primary().Pool()
	} else {
		pool = r.cluster.NextReplica().Pool()
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"SELECT set_config('app.current_tenant_id', $1, true)",
		strconv.FormatInt(tenantID, 10),
	); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			r.logger.Errorf("Failed to roll back after tenant scoping error: %v", rollbackErr)
		}
		conn.Release()
		return nil, fmt.Errorf("failed to set tenant scope: %w", err)
	}

	return NewSession(tenantID, write, tx, conn.Release), nil
}

// Tx returns the session's transaction. All request work runs inside it so
// the tenant scoping variable applies.
func (s *Session) Tx() pgx.Tx {
	return s.tx
}

// Close finishes the session. Write sessions commit, falling back to
// rollback if the commit fails; read sessions always roll back, which also
// discards the scoping variable. The connection is released in all cases.
func (s *Session) Close(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.release()

	if s.Write {
		if err := s.tx.Commit(ctx); err != nil {
			if rollbackErr := s.tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				return fmt.Errorf("failed to roll back after commit failure: %w", rollbackErr)
			}
			return fmt.Errorf("failed to commit session: %w", err)
		}
		return nil
	}

	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back session: %w", err)
	}
	return nil
}
