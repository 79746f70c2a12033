// Package store reads tenant server and tool metadata from PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oneplace-ai/toolbox-provisioner/internal/deploy"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/toolsconfig"
)

type Options struct {
	DSN            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

type Postgres struct {
	pool *pgxpool.Pool
}

// Open creates the pool and pings the database.
func Open(ctx context.Context, opts Options) (*Postgres, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}
	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (db *Postgres) Close() {
	if db != nil && db.pool != nil {
		db.pool.Close()
	}
}

const toolRowsQuery = `
SELECT
    ms.id::text                                  AS server_id,
    COALESCE(ms.server_url, '')                  AS server_url,
    ts.id::text                                  AS toolset_id,
    COALESCE(ts.name, '')                        AS toolset_name,
    t.id::text                                   AS tool_id,
    COALESCE(t.name, '')                         AS tool_name,
    COALESCE(t.description, '')                  AS tool_description,
    d.id::text                                   AS datasource_id,
    d.name                                       AS datasource_name,
    c.id::text                                   AS connection_id,
    c.name                                       AS connection_name,
    COALESCE(c.config_params, '{}'::jsonb)       AS connection_params,
    COALESCE(dbt.name, '')                       AS kind,
    COALESCE(dbtm.parameters, '[]'::jsonb)       AS tool_params,
    COALESCE(dbtm.sql_query, '')                 AS sql_query
FROM           mcp_server                AS ms
JOIN           mcp_server_toolset_link   AS mstl  ON mstl.mcp_server_id = ms.id
JOIN           toolset                   AS ts    ON ts.id              = mstl.toolset_id
JOIN           toolset_tool_link         AS ttl   ON ttl.toolset_id     = ts.id
JOIN           tool                      AS t     ON t.id               = ttl.tool_id
JOIN           db_tool_metadata          AS dbtm  ON dbtm.tool_id       = t.id
LEFT JOIN      tool_datasource_link      AS tdl   ON tdl.tool_id        = t.id
LEFT JOIN      datasource                AS d     ON d.id               = tdl.datasource_id
LEFT JOIN      connection                AS c     ON c.id               = d.connection_id
LEFT JOIN      db_type                   AS dbt   ON dbt.id             = c.db_type
WHERE ms.id::text = $1
ORDER BY ts.name, t.name, d.name`

// ToolRows returns the joined rows for one server ordered by toolset, tool
// and datasource name.
func (db *Postgres) ToolRows(ctx context.Context, serverID string) ([]toolsconfig.JoinedRow, error) {
	rows, err := db.pool.Query(ctx, toolRowsQuery, serverID)
	if err != nil {
		return nil, fmt.Errorf("query tool rows for server %q: %w", serverID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (toolsconfig.JoinedRow, error) {
		var r toolsconfig.JoinedRow
		err := row.Scan(
			&r.ServerID,
			&r.ServerURL,
			&r.ToolsetID,
			&r.ToolsetName,
			&r.ToolID,
			&r.ToolName,
			&r.ToolDescription,
			&r.DatasourceID,
			&r.DatasourceName,
			&r.ConnectionID,
			&r.ConnectionName,
			&r.ConnectionParams,
			&r.Kind,
			&r.ToolParams,
			&r.SQLQuery,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan tool rows for server %q: %w", serverID, err)
	}
	return out, nil
}

const serverQuery = `
SELECT COALESCE(ms.server_url, ''), COALESCE(ms.port, 0)
FROM mcp_server AS ms
WHERE ms.id::text = $1`

// Server returns the public URL and host port of a server.
func (db *Postgres) Server(ctx context.Context, serverID string) (deploy.Server, error) {
	s := deploy.Server{ID: serverID}
	var port int64
	err := db.pool.QueryRow(ctx, serverQuery, serverID).Scan(&s.URL, &port)
	if errors.Is(err, pgx.ErrNoRows) {
		return deploy.Server{}, fmt.Errorf("%w: %s", deploy.ErrServerNotFound, serverID)
	}
	if err != nil {
		return deploy.Server{}, fmt.Errorf("query server %q: %w", serverID, err)
	}
	s.Port = int(port)
	return s, nil
}
