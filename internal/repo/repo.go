package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractline/internal/config"
	"contractline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) exec(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nowString() string { return time.Now().UTC().Format(time.RFC3339) }

// EnsureSave creates the save row if it does not exist yet.
func (r Repo) EnsureSave(ctx context.Context, tx *sql.Tx, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("save id required")
	}
	now := nowString()
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO saves(id,clock,created_at,updated_at) VALUES (?,0,?,?) ON CONFLICT(id) DO NOTHING`, id, now, now)
	return err
}

// UpdateSave stores the clock and world snapshot of a save.
func (r Repo) UpdateSave(ctx context.Context, tx *sql.Tx, id string, clock float64, worldYAML string) error {
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE saves SET clock=?, world_yaml=?, updated_at=? WHERE id=?`,
		clock, nullable(worldYAML), nowString(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const saveColumns = `s.id, s.clock, (SELECT COUNT(*) FROM contracts c WHERE c.save_id=s.id), s.created_at, s.updated_at`

func (r Repo) GetSave(ctx context.Context, id string) (domain.Save, error) {
	var s domain.Save
	err := r.DB.QueryRowContext(ctx, `SELECT `+saveColumns+` FROM saves s WHERE s.id=?`, id).
		Scan(&s.ID, &s.Clock, &s.Contracts, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSaves(ctx context.Context) ([]domain.Save, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+saveColumns+` FROM saves s ORDER BY s.updated_at DESC, s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Save
	for rows.Next() {
		var s domain.Save
		if err := rows.Scan(&s.ID, &s.Clock, &s.Contracts, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SaveWorld returns the world snapshot of a save; empty when none was stored.
func (r Repo) SaveWorld(ctx context.Context, id string) (string, error) {
	var world sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT world_yaml FROM saves WHERE id=?`, id).Scan(&world)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return world.String, err
}

func (r Repo) DeleteSave(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM saves WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertSaveConfig(ctx context.Context, saveID string, cfg *config.Config) error {
	return r.UpsertSaveConfigTx(ctx, nil, saveID, cfg)
}

func (r Repo) UpsertSaveConfigTx(ctx context.Context, tx *sql.Tx, saveID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := cfg.YAML()
	if err != nil {
		return err
	}
	now := nowString()
	_, err = r.exec(tx).ExecContext(ctx, `INSERT INTO save_configs(save_id,config_yaml,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(save_id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`, saveID, string(payload), now, now)
	return err
}

func (r Repo) GetSaveConfig(ctx context.Context, saveID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_yaml FROM save_configs WHERE save_id=?`, saveID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(payload))
}

// StoredContract is a contract header record with its objective records in pre-order.
type StoredContract struct {
	ID         string
	Kind       string
	Tier       string
	Status     string
	Record     string
	Objectives []string
}

// ReplaceContractsTx overwrites every contract of a save.
func (r Repo) ReplaceContractsTx(ctx context.Context, tx *sql.Tx, saveID string, contracts []StoredContract) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE save_id=?`, saveID); err != nil {
		return fmt.Errorf("clear contracts: %w", err)
	}
	for i, c := range contracts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO contracts(save_id,id,position,kind,tier,status,record) VALUES (?,?,?,?,?,?,?)`,
			saveID, c.ID, i, c.Kind, c.Tier, c.Status, c.Record); err != nil {
			return fmt.Errorf("insert contract %s: %w", c.ID, err)
		}
		for pos, line := range c.Objectives {
			if _, err := tx.ExecContext(ctx, `INSERT INTO objectives(save_id,contract_id,position,record) VALUES (?,?,?,?)`,
				saveID, c.ID, pos, line); err != nil {
				return fmt.Errorf("insert objective %s/%d: %w", c.ID, pos, err)
			}
		}
	}
	return nil
}

// ListStoredContracts returns a save's contracts in the order they were written.
func (r Repo) ListStoredContracts(ctx context.Context, saveID string) ([]StoredContract, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,tier,status,record FROM contracts WHERE save_id=? ORDER BY position`, saveID)
	if err != nil {
		return nil, err
	}
	var res []StoredContract
	index := map[string]int{}
	for rows.Next() {
		var c StoredContract
		if err := rows.Scan(&c.ID, &c.Kind, &c.Tier, &c.Status, &c.Record); err != nil {
			rows.Close()
			return nil, err
		}
		index[c.ID] = len(res)
		res = append(res, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orows, err := r.DB.QueryContext(ctx, `SELECT contract_id,record FROM objectives WHERE save_id=? ORDER BY contract_id, position`, saveID)
	if err != nil {
		return nil, err
	}
	defer orows.Close()
	for orows.Next() {
		var id, line string
		if err := orows.Scan(&id, &line); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			res[i].Objectives = append(res[i].Objectives, line)
		}
	}
	return res, orows.Err()
}

// EventFilters narrows LatestEvents. Cursor returns events older than that id.
type EventFilters struct {
	SaveID     string
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.SaveID != "" {
		clauses = append(clauses, "save_id=?")
		args = append(args, f.SaveID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,save_id,entity_kind,entity_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var saveID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &saveID, &e.EntityKind, &entityID, &e.Payload); err != nil {
			return nil, err
		}
		e.SaveID, e.EntityID = saveID.String, entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events of a save with id greater than after, oldest first.
func (r Repo) EventsAfter(ctx context.Context, saveID string, after int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,save_id,entity_kind,entity_id,payload_json FROM events WHERE save_id=? AND id>? ORDER BY id ASC LIMIT ?`,
		saveID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var sid, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &sid, &e.EntityKind, &entityID, &e.Payload); err != nil {
			return nil, err
		}
		e.SaveID, e.EntityID = sid.String, entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID is the id of the newest event of a save, or 0.
func (r Repo) LatestEventID(ctx context.Context, saveID string) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE save_id=?`, saveID).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
