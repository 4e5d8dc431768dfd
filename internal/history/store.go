package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/database"
	"github.com/hbomb79/Muse/internal/ledger"
)

var ErrTransferNotFound = errors.New("transfer record does not exist")

type (
	// Transfer is one committed pipeline run for a single intake record,
	// as persisted to the transfer_history table.
	Transfer struct {
		ID             uuid.UUID `db:"id" json:"id"`
		RunID          uuid.UUID `db:"run_id" json:"run_id"`
		RowPosition    int       `db:"row_position" json:"row_position"`
		Partnership    string    `db:"partnership" json:"partnership"`
		Division       string    `db:"division" json:"division"`
		Season         string    `db:"season" json:"season"`
		RoutineName    string    `db:"routine_name" json:"routine_name"`
		Descriptor     string    `db:"descriptor" json:"descriptor"`
		Version        int       `db:"version" json:"version"`
		Filename       string    `db:"filename" json:"filename"`
		DestinationID  string    `db:"destination_id" json:"destination_id"`
		CleanupOutcome string    `db:"cleanup_outcome" json:"cleanup_outcome"`
		OccurredAt     time.Time `db:"occurred_at" json:"occurred_at"`
	}

	// snapshotModel is the ledger_snapshots table row; the JsonColumn
	// container is hidden from the public API via LedgerSnapshot.
	snapshotModel struct {
		ID         uuid.UUID                         `db:"id"`
		RunID      uuid.UUID                         `db:"run_id"`
		Division   string                            `db:"division"`
		Rows       database.JsonColumn[[]ledger.Row] `db:"rows"`
		CapturedAt time.Time                         `db:"captured_at"`
	}

	LedgerSnapshot struct {
		ID         uuid.UUID    `json:"id"`
		RunID      uuid.UUID    `json:"run_id"`
		Division   string       `json:"division"`
		Rows       []ledger.Row `json:"rows"`
		CapturedAt time.Time    `json:"captured_at"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

func (store *Store) RecordTransfer(db database.Queryable, transfer *Transfer) error {
	_, err := db.NamedExec(`
		INSERT INTO transfer_history(id, run_id, row_position, partnership, division, season,
			routine_name, descriptor, version, filename, destination_id, cleanup_outcome, occurred_at)
		VALUES(:id, :run_id, :row_position, :partnership, :division, :season,
			:routine_name, :descriptor, :version, :filename, :destination_id, :cleanup_outcome, :occurred_at)
	`, transfer)
	if err != nil {
		return fmt.Errorf("failed to insert transfer history row: %w", err)
	}

	return nil
}

func (store *Store) ListTransfers(db database.Queryable) ([]*Transfer, error) {
	query, args, err := selectTransferBuilder().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list transfers query: %w", err)
	}

	var results []Transfer
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Transfer, len(results))
	for k := range results {
		output[k] = &results[k]
	}

	return output, nil
}

func (store *Store) GetTransferWithID(db database.Queryable, id uuid.UUID) (*Transfer, error) {
	query, args, err := selectTransferBuilder().Where("transfer_history.id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select transfer query: %w", err)
	}

	var transfer Transfer
	if err := db.Get(&transfer, db.Rebind(query), args...); err != nil {
		return nil, ErrTransferNotFound
	}

	return &transfer, nil
}

func (store *Store) TransfersForRun(db database.Queryable, runID uuid.UUID) ([]*Transfer, error) {
	query, args, err := selectTransferBuilder().Where("transfer_history.run_id=?", runID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select run transfers query: %w", err)
	}

	var results []Transfer
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Transfer, len(results))
	for k := range results {
		output[k] = &results[k]
	}

	return output, nil
}

func (store *Store) RecordSnapshot(db database.Queryable, snapshot *LedgerSnapshot) error {
	model := snapshotModel{
		ID:         snapshot.ID,
		RunID:      snapshot.RunID,
		Division:   snapshot.Division,
		Rows:       database.NewJsonColumn(&snapshot.Rows),
		CapturedAt: snapshot.CapturedAt,
	}

	_, err := db.NamedExec(`
		INSERT INTO ledger_snapshots(id, run_id, division, rows, captured_at)
		VALUES(:id, :run_id, :division, :rows, :captured_at)
	`, model)
	if err != nil {
		return fmt.Errorf("failed to insert ledger snapshot row: %w", err)
	}

	return nil
}

// LatestSnapshots returns the most recently captured snapshot for each
// division that has ever been snapshotted.
func (store *Store) LatestSnapshots(db database.Queryable) ([]*LedgerSnapshot, error) {
	query, args, err := squirrel.
		Select("DISTINCT ON (division) id", "run_id", "division", "rows", "captured_at").
		From("ledger_snapshots").
		OrderBy("division", "captured_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct latest snapshots query: %w", err)
	}

	var results []snapshotModel
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*LedgerSnapshot, len(results))
	for k, v := range results {
		output[k] = snapshotModelToSnapshot(&v)
	}

	return output, nil
}

func selectTransferBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("transfer_history.*").
		From("transfer_history").
		OrderBy("transfer_history.occurred_at DESC")
}

func snapshotModelToSnapshot(model *snapshotModel) *LedgerSnapshot {
	rows := model.Rows.Get()
	if rows == nil {
		rows = &[]ledger.Row{}
	}

	return &LedgerSnapshot{
		ID:         model.ID,
		RunID:      model.RunID,
		Division:   model.Division,
		Rows:       *rows,
		CapturedAt: model.CapturedAt,
	}
}
