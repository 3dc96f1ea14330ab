package storage

import "time"

// AuditEntry is one recorded query attempt.
type AuditEntry struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	InstanceID  string    `json:"instance_id"`
	Query       string    `json:"query"`
	RowCount    int       `json:"row_count"`
	DurationMS  int64     `json:"duration_ms"`
	Denied      bool      `json:"denied"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEntries returns the most recent query audit rows for a tenant.
func (db *DB) AuditEntries(tenantID string, limit int) ([]AuditEntry, error) {
	return db.queryAudit("tenant_id", tenantID, limit)
}

// InstanceAudit returns the most recent query audit rows for one instance.
func (db *DB) InstanceAudit(instanceID string, limit int) ([]AuditEntry, error) {
	return db.queryAudit("instance_id", instanceID, limit)
}

func (db *DB) queryAudit(column, value string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(
		`SELECT id, tenant_id, instance_id, query, row_count, duration_ms, denied, error, created_at
		 FROM query_audit WHERE `+column+` = ?
		 ORDER BY id DESC LIMIT ?`,
		value, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e      AuditEntry
			denied int
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.InstanceID, &e.Query,
			&e.RowCount, &e.DurationMS, &denied, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Denied = denied != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
