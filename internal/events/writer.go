package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"prodline/internal/db"
)

// Entity kinds recorded in the log.
const (
	KindWorkshop = "workshop"
	KindProcess  = "process"
	KindStep     = "step"
	KindOrder    = "order"
	KindReport   = "report"
)

// logLockKey is the transaction-scoped advisory lock taken before every insert on
// PostgreSQL. Sequence values are handed out at insert time, so without it a later id can
// commit before an earlier one and a cursor reader would step over the earlier event.
const logLockKey int64 = 0x70726f646c696e

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the change it describes.
// Event ids become visible in id order.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID, requestID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if w.Dialect == db.Postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, logLockKey); err != nil {
			return fmt.Errorf("lock event log: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,request_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, entityKind, nullable(entityID), actorID, nullable(requestID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
