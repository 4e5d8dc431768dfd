package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/database"
	"github.com/hbomb79/Muse/internal/event"
	"github.com/hbomb79/Muse/internal/ledger"
	"github.com/hbomb79/Muse/internal/transfer"
	"github.com/hbomb79/Muse/pkg/logger"
	"github.com/jmoiron/sqlx"
)

var log = logger.Get("HistoryServ")

type (
	transferProvider interface {
		Item(uuid.UUID) *transfer.TransferItem
		RunID() uuid.UUID
	}

	ledgerSnapshotter interface {
		Snapshot() (map[string][]ledger.Row, error)
	}

	// service listens to the event bus and persists a durable record of
	// completed transfers, plus a snapshot of the ledger after each run.
	// Persistence failures are logged and dropped; the history tables are
	// an audit trail, not a source of truth the pipeline depends on.
	service struct {
		store        *Store
		db           database.Manager
		transfers    transferProvider
		ledger       ledgerSnapshotter
		eventChannel event.HandlerChannel
	}
)

func NewService(store *Store, db database.Manager, transfers transferProvider, ledgerWriter ledgerSnapshotter, eventBus event.EventHandler) *service {
	eventChannel := make(event.HandlerChannel, 16)
	eventBus.RegisterHandlerChannel(eventChannel, event.TRANSFER_COMPLETE, event.RUN_COMPLETE)

	return &service{
		store:        store,
		db:           db,
		transfers:    transfers,
		ledger:       ledgerWriter,
		eventChannel: eventChannel,
	}
}

// Run processes event bus messages until the provided context is cancelled.
func (service *service) Run(ctx context.Context) error {
	for {
		select {
		case message := <-service.eventChannel:
			if err := service.handleEvent(message); err != nil {
				log.Emit(logger.ERROR, "Failed to handle %s event: %s\n", message.Event, err.Error())
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (service *service) handleEvent(message event.HandlerEvent) error {
	id, ok := message.Payload.(uuid.UUID)
	if !ok {
		return fmt.Errorf("illegal payload %v for event %s", message.Payload, message.Event)
	}

	switch message.Event {
	case event.TRANSFER_COMPLETE:
		return service.recordTransfer(id)
	case event.RUN_COMPLETE:
		return service.snapshotLedger(id)
	}

	return nil
}

// recordTransfer persists the receipt of the completed item with the given
// ID. Items that finished without a receipt (skipped rows) are ignored.
func (service *service) recordTransfer(itemID uuid.UUID) error {
	item := service.transfers.Item(itemID)
	if item == nil || item.Receipt == nil {
		return nil
	}

	receipt := item.Receipt
	transferRow := &Transfer{
		ID:             item.ID,
		RunID:          service.transfers.RunID(),
		RowPosition:    item.Position,
		Partnership:    receipt.Partnership,
		Division:       receipt.Division,
		Season:         receipt.Season,
		RoutineName:    receipt.RoutineName,
		Descriptor:     receipt.Descriptor,
		Version:        receipt.Version,
		Filename:       receipt.Filename,
		DestinationID:  receipt.DestinationID,
		CleanupOutcome: receipt.Cleanup.String(),
		OccurredAt:     receipt.OccurredAt,
	}

	return service.db.WrapTx(func(tx *sqlx.Tx) error {
		return service.store.RecordTransfer(tx, transferRow)
	})
}

// snapshotLedger captures the full state of every ledger category once a
// run finishes, keyed to the run that produced it.
func (service *service) snapshotLedger(runID uuid.UUID) error {
	snapshot, err := service.ledger.Snapshot()
	if err != nil {
		return err
	}

	capturedAt := time.Now()
	return service.db.WrapTx(func(tx *sqlx.Tx) error {
		for division, rows := range snapshot {
			err := service.store.RecordSnapshot(tx, &LedgerSnapshot{
				ID:         uuid.New(),
				RunID:      runID,
				Division:   division,
				Rows:       rows,
				CapturedAt: capturedAt,
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// Read access for the REST layer.

func (service *service) Transfers() ([]*Transfer, error) {
	return service.store.ListTransfers(service.db.GetSqlxDb())
}

func (service *service) Transfer(id uuid.UUID) (*Transfer, error) {
	return service.store.GetTransferWithID(service.db.GetSqlxDb(), id)
}

func (service *service) TransfersForRun(runID uuid.UUID) ([]*Transfer, error) {
	return service.store.TransfersForRun(service.db.GetSqlxDb(), runID)
}

func (service *service) LatestSnapshots() ([]*LedgerSnapshot, error) {
	return service.store.LatestSnapshots(service.db.GetSqlxDb())
}
