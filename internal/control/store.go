package control

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/google/uuid"
)

// ActionStore persists the device action log.
type ActionStore struct {
	db *sql.DB
}

// NewActionStore wraps db.
func NewActionStore(db *sql.DB) *ActionStore {
	return &ActionStore{db: db}
}

// LogAction appends one entry. Payload and result are stored as JSON; nil
// values are stored as NULL.
func (s *ActionStore) LogAction(ctx context.Context, deviceID, action string, payload, result any) (*models.ActionLog, error) {
	p, err := marshalNullable(payload)
	if err != nil {
		return nil, fmt.Errorf("encode action payload: %w", err)
	}
	r, err := marshalNullable(result)
	if err != nil {
		return nil, fmt.Errorf("encode action result: %w", err)
	}
	entry := &models.ActionLog{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Action:    action,
		Payload:   p,
		Result:    r,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO control_action_logs (id, device_id, action, payload, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID, entry.Action, nullJSON(p), nullJSON(r), entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert action log: %w", err)
	}
	return entry, nil
}

// ListActions returns a device's action log, newest first.
func (s *ActionStore) ListActions(ctx context.Context, deviceID string, limit int) ([]models.ActionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, action, payload, result, created_at
		FROM control_action_logs WHERE device_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	defer rows.Close()

	var out []models.ActionLog
	for rows.Next() {
		var (
			e               models.ActionLog
			payload, result sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Action, &payload, &result, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		if result.Valid {
			e.Result = json.RawMessage(result.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalNullable(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func nullJSON(b json.RawMessage) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
