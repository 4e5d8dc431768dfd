package history_test

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/history"
	"github.com/hbomb79/Muse/internal/ledger"
	"github.com/hbomb79/Muse/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

var transferColumns = []string{
	"id", "run_id", "row_position", "partnership", "division", "season",
	"routine_name", "descriptor", "version", "filename", "destination_id",
	"cleanup_outcome", "occurred_at",
}

func mockDatabase(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	rawDb, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { rawDb.Close() })

	return sqlx.NewDb(rawDb, "sqlmock"), mock
}

func exampleTransfer() *history.Transfer {
	return &history.Transfer{
		ID:             uuid.New(),
		RunID:          uuid.New(),
		RowPosition:    3,
		Partnership:    "AliceSmith & BobJones",
		Division:       "Open",
		Season:         "2025",
		RoutineName:    "Moonlight",
		Descriptor:     "",
		Version:        2,
		Filename:       "AliceSmith_BobJones_Open_2025_Moonlight_v2.mp3",
		DestinationID:  "archive/Open/AliceSmith_BobJones_Open_2025_Moonlight_v2.mp3",
		CleanupOutcome: "DELETED[0]",
		OccurredAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func transferRow(transfer *history.Transfer) []driver.Value {
	return []driver.Value{
		transfer.ID.String(), transfer.RunID.String(), transfer.RowPosition,
		transfer.Partnership, transfer.Division, transfer.Season,
		transfer.RoutineName, transfer.Descriptor, transfer.Version,
		transfer.Filename, transfer.DestinationID, transfer.CleanupOutcome,
		transfer.OccurredAt,
	}
}

func Test_RecordTransfer(t *testing.T) {
	db, mock := mockDatabase(t)
	store := history.NewStore()
	transfer := exampleTransfer()

	mock.ExpectExec("INSERT INTO transfer_history").
		WithArgs(
			transfer.ID, transfer.RunID, transfer.RowPosition,
			transfer.Partnership, transfer.Division, transfer.Season,
			transfer.RoutineName, transfer.Descriptor, transfer.Version,
			transfer.Filename, transfer.DestinationID, transfer.CleanupOutcome,
			transfer.OccurredAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, store.RecordTransfer(db, transfer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_ListTransfers(t *testing.T) {
	db, mock := mockDatabase(t)
	store := history.NewStore()
	transfer := exampleTransfer()

	mock.ExpectQuery("SELECT transfer_history\\.\\* FROM transfer_history ORDER BY transfer_history\\.occurred_at DESC").
		WillReturnRows(sqlmock.NewRows(transferColumns).AddRow(transferRow(transfer)...))

	transfers, err := store.ListTransfers(db)
	assert.NoError(t, err)
	assert.Len(t, transfers, 1)
	assert.Equal(t, transfer.ID, transfers[0].ID)
	assert.Equal(t, transfer.Filename, transfers[0].Filename)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_GetTransferWithID(t *testing.T) {
	t.Run("finds existing transfer", func(t *testing.T) {
		db, mock := mockDatabase(t)
		store := history.NewStore()
		transfer := exampleTransfer()

		mock.ExpectQuery("SELECT transfer_history\\.\\* FROM transfer_history WHERE transfer_history\\.id=").
			WithArgs(transfer.ID).
			WillReturnRows(sqlmock.NewRows(transferColumns).AddRow(transferRow(transfer)...))

		found, err := store.GetTransferWithID(db, transfer.ID)
		assert.NoError(t, err)
		assert.Equal(t, transfer.Partnership, found.Partnership)
	})

	t.Run("missing transfer yields not found", func(t *testing.T) {
		db, mock := mockDatabase(t)
		store := history.NewStore()

		mock.ExpectQuery("SELECT transfer_history\\.\\* FROM transfer_history WHERE transfer_history\\.id=").
			WillReturnRows(sqlmock.NewRows(transferColumns))

		_, err := store.GetTransferWithID(db, uuid.New())
		assert.ErrorIs(t, err, history.ErrTransferNotFound)
	})
}

func Test_TransfersForRun(t *testing.T) {
	db, mock := mockDatabase(t)
	store := history.NewStore()
	transfer := exampleTransfer()

	mock.ExpectQuery("SELECT transfer_history\\.\\* FROM transfer_history WHERE transfer_history\\.run_id=").
		WithArgs(transfer.RunID).
		WillReturnRows(sqlmock.NewRows(transferColumns).AddRow(transferRow(transfer)...))

	transfers, err := store.TransfersForRun(db, transfer.RunID)
	assert.NoError(t, err)
	assert.Len(t, transfers, 1)
	assert.Equal(t, transfer.RunID, transfers[0].RunID)
}

func Test_Snapshots(t *testing.T) {
	t.Run("record snapshot serializes rows", func(t *testing.T) {
		db, mock := mockDatabase(t)
		store := history.NewStore()

		snapshot := &history.LedgerSnapshot{
			ID:       uuid.New(),
			RunID:    uuid.New(),
			Division: "Open",
			Rows: []ledger.Row{
				{Timestamp: "5/19/2025 23:16:40", Partnership: "AliceSmith & BobJones", Division: "Open", Version: 1},
			},
			CapturedAt: time.Now(),
		}

		mock.ExpectExec("INSERT INTO ledger_snapshots").
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, store.RecordSnapshot(db, snapshot))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("latest snapshots decode rows column", func(t *testing.T) {
		db, mock := mockDatabase(t)
		store := history.NewStore()

		id, runID := uuid.New(), uuid.New()
		rowsJson := []byte(`[{"timestamp":"5/19/2025 23:16:40","partnership":"AliceSmith & BobJones","division":"Open","routine_name":"","descriptor":"","version":1}]`)

		mock.ExpectQuery("SELECT DISTINCT ON \\(division\\) id, run_id, division, rows, captured_at FROM ledger_snapshots").
			WillReturnRows(sqlmock.
				NewRows([]string{"id", "run_id", "division", "rows", "captured_at"}).
				AddRow(id.String(), runID.String(), "Open", rowsJson, time.Now()))

		snapshots, err := store.LatestSnapshots(db)
		assert.NoError(t, err)
		assert.Len(t, snapshots, 1)
		assert.Equal(t, "Open", snapshots[0].Division)
		assert.Len(t, snapshots[0].Rows, 1)
		assert.Equal(t, "AliceSmith & BobJones", snapshots[0].Rows[0].Partnership)
		assert.Equal(t, 1, snapshots[0].Rows[0].Version)
	})
}
