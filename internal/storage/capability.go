package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scriptbox/internal/sandbox/hostapi"
	"scriptbox/internal/sandboxerr"
)

// maxQueryRows caps how many rows a sandboxed query may return.
const maxQueryRows = 1000

// deniedPrefixes are statement kinds never allowed from sandboxed code.
var deniedPrefixes = []string{
	"drop", "alter", "create", "truncate",
	"grant", "revoke", "attach", "detach",
	"pragma", "vacuum", "reindex",
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Capability is the tenant-scoped query surface handed to sandbox instances.
// It validates every statement before execution and records each attempt,
// denied or not, in the query_audit table.
type Capability struct {
	db         *DB
	tenantID   string
	instanceID string
	logger     zerolog.Logger
}

var _ hostapi.Database = (*Capability)(nil)

// NewCapability binds a query capability to one instance.
func NewCapability(db *DB, tenantID, instanceID string, logger zerolog.Logger) *Capability {
	return &Capability{
		db:         db,
		tenantID:   tenantID,
		instanceID: instanceID,
		logger:     logger.With().Str("instance", instanceID).Logger(),
	}
}

// Query validates and runs one statement with named parameters.
func (c *Capability) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if err := validateQuery(query); err != nil {
		c.audit(query, 0, 0, err)
		return nil, err
	}

	args := make([]any, 0, len(params))
	for name, value := range params {
		args = append(args, sql.Named(name, value))
	}

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		c.audit(query, 0, time.Since(start), err)
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	duration := time.Since(start)
	if err != nil {
		c.audit(query, len(results), duration, err)
		return nil, err
	}

	c.audit(query, len(results), duration, nil)
	return results, nil
}

// Tables lists the user-visible tables.
func (c *Capability) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		   AND name NOT LIKE '\_%' ESCAPE '\' AND name != 'query_audit'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Schema describes the columns of one user-visible table.
func (c *Capability) Schema(ctx context.Context, table string) ([]hostapi.ColumnInfo, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q: %w", table, sandboxerr.ErrQueryDenied)
	}

	tables, err := c.Tables(ctx)
	if err != nil {
		return nil, err
	}
	visible := false
	for _, t := range tables {
		if t == table {
			visible = true
			break
		}
	}
	if !visible {
		return nil, fmt.Errorf("unknown table %q: %w", table, sandboxerr.ErrQueryDenied)
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	var columns []hostapi.ColumnInfo
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, hostapi.ColumnInfo{
			Name:     name,
			Type:     typ,
			Nullable: notNull == 0,
			Default:  defaultVal.String,
		})
	}
	return columns, rows.Err()
}

// validateQuery enforces the statement policy: no schema or admin
// statements, and UPDATE/DELETE must carry a WHERE clause.
func validateQuery(query string) error {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return fmt.Errorf("empty query: %w", sandboxerr.ErrQueryDenied)
	}

	for _, prefix := range deniedPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return fmt.Errorf("statement %q not allowed: %w", prefix, sandboxerr.ErrQueryDenied)
		}
	}

	if strings.HasPrefix(normalized, "update") || strings.HasPrefix(normalized, "delete") {
		if !strings.Contains(normalized, " where ") && !strings.HasSuffix(normalized, " where") {
			return fmt.Errorf("update/delete without WHERE clause: %w", sandboxerr.ErrQueryDenied)
		}
	}

	return nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		if len(results) >= maxQueryRows {
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// audit records the attempt. Audit failures are logged, never surfaced to
// the sandboxed caller.
func (c *Capability) audit(query string, rowCount int, duration time.Duration, qerr error) {
	denied := 0
	errMsg := ""
	if qerr != nil {
		errMsg = qerr.Error()
		if errors.Is(qerr, sandboxerr.ErrQueryDenied) {
			denied = 1
		}
	}

	_, err := c.db.Exec(
		`INSERT INTO query_audit (tenant_id, instance_id, query, row_count, duration_ms, denied, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.tenantID, c.instanceID, query, rowCount, duration.Milliseconds(), denied, errMsg,
	)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to record query audit")
	}
}
