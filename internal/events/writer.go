package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the ledger.
const (
	ContractOffered   = "contract.offered"
	ContractAccepted  = "contract.accepted"
	ContractCancelled = "contract.cancelled"
	ContractSettled   = "contract.settled"
	ObjectiveChanged  = "objective.transition"
	SaveWritten       = "save.written"
	SaveLoaded        = "save.loaded"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one ledger row inside tx, so the event commits with the change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, saveID, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,save_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(saveID), entityKind, nullable(entityID), string(data))
	return err
}

// AppendTx opens a transaction for a single event.
func (w Writer) AppendTx(ctx context.Context, evtType, saveID, entityKind, entityID string, payload EventPayload) error {
	if w.DB == nil {
		return fmt.Errorf("events writer has no database")
	}
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, saveID, entityKind, entityID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
