package transfer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/event"
	"github.com/hbomb79/Muse/pkg/logger"
	"github.com/hbomb79/Muse/pkg/worker"
	"github.com/rjeczalik/notify"
)

var log = logger.Get("TransferServ")

type (
	// flusher persists pending workbook mutations to durable storage.
	// Called after every processed item so commit flags and ledger rows
	// survive a crash between items.
	flusher interface {
		Flush() error
	}

	// transferService owns the queue of intake records and drives them
	// through the transfer pipeline. Discovered records should be:
	// - Parsed against the submission schema
	// - Downloaded from the vault, annotated and uploaded under a
	//   versioned archive name
	// - Recorded in the per-division ledger
	// - Cleaned from the intake container and finally committed
	//
	// A single worker processes the queue; records within a run are
	// strictly sequential.
	transferService struct {
		*sync.Mutex

		scanner   recordScanner
		store     vaultStore
		cleaner   sourceCleaner
		ledger    ledgerStore
		annotator audioAnnotator
		flusher   flusher
		eventBus  event.EventDispatcher

		config     Config
		items      []*TransferItem
		workerPool worker.WorkerPool

		currentRun uuid.UUID
		runPending bool
	}
)

// New creates a new transfer service around an already-opened intake
// scanner and the vault, ledger and tagging collaborators.
func New(config Config, scanner recordScanner, store vaultStore, cleaner sourceCleaner, ledgerStore ledgerStore, annotator audioAnnotator, flusher flusher, eventBus event.EventDispatcher) (*transferService, error) {
	if scanner == nil || store == nil || cleaner == nil {
		return nil, fmt.Errorf("transfer service requires a scanner, vault store and cleaner")
	}

	service := &transferService{
		Mutex:     &sync.Mutex{},
		scanner:   scanner,
		store:     store,
		cleaner:   cleaner,
		ledger:    ledgerStore,
		annotator: annotator,
		flusher:   flusher,
		eventBus:  eventBus,
		config:    config,
		items:     make([]*TransferItem, 0),
	}

	service.workerPool.PushWorker(worker.NewWorker("transfer-worker-0", service.PerformItemTransfer))

	return service, nil
}

// Run is the main entry point of this service. It watches the intake
// workbook for modifications and regularly re-scans it regardless, pushing
// any unprocessed records it finds on to the queue. To kill the service,
// the calling code should cancel the context provided.
func (service *transferService) Run(ctx context.Context) error {
	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start transfer worker pool: %w", err)
	}
	defer service.workerPool.Close()

	workbookNotifyChannel := make(chan notify.EventInfo, 4)
	if service.config.IntakeWorkbookPath != "" {
		watchDir := filepath.Dir(service.config.IntakeWorkbookPath)
		if err := notify.Watch(watchDir, workbookNotifyChannel, notify.Write, notify.Create); err != nil {
			return fmt.Errorf("failed to watch intake workbook directory '%s': %w", watchDir, err)
		}
		defer notify.Stop(workbookNotifyChannel)
	}

	forceSyncChannel := time.NewTicker(time.Second * time.Duration(service.config.ForceSyncSeconds)).C

	service.DiscoverNewRecords()

	for {
		select {
		case <-workbookNotifyChannel:
			service.DiscoverNewRecords()
		case <-forceSyncChannel:
			service.DiscoverNewRecords()
		case <-ctx.Done():
			return nil
		}
	}
}

// PerformItemTransfer is the worker function for the transfer service,
// called by the services WorkerPool.
// This function will claim the first IDLE item it finds and run it through
// the pipeline. If the pipeline fails with a Trouble, it will be set on the
// item and it's state set to TROUBLED.
func (service *transferService) PerformItemTransfer(w worker.Worker) (bool, error) {
	item := service.claimIdleItem()
	if item == nil {
		service.completeRunIfDrained()
		return false, nil
	}

	log.Emit(logger.INFO, "Transferring row #%d (item %s)\n", item.Position, item.ID)
	err := item.transfer(service.scanner, service.store, service.cleaner, service.ledger, service.annotator, service.config)
	service.flushWorkbooks(item)

	service.Lock()
	defer service.Unlock()
	switch {
	case err != nil:
		trbl, ok := err.(Trouble)
		if !ok {
			return false, err
		}

		log.Emit(logger.ERROR, "Row #%d troubled: %s\n", item.Position, trbl.String())
		item.Trouble = &trbl
		item.State = TROUBLED
		service.dispatch(event.TRANSFER_TROUBLE, item.ID)
	case item.State == SKIPPED:
		service.dispatch(event.TRANSFER_UPDATE, item.ID)
	default:
		item.State = COMPLETE
		log.Emit(logger.SUCCESS, "Row #%d committed as %s\n", item.Position, item.Receipt.Filename)
		service.dispatch(event.TRANSFER_COMPLETE, item.ID)
	}

	return true, nil
}

// DiscoverNewRecords re-reads the intake worksheet and queues any
// uncommitted record that this service is not already tracking. Rows are
// keyed by their worksheet position; a row is only re-queued once it's
// previous item has been removed (or retried to completion and committed).
//
// Note: This function will take ownership of the mutex, and releases it when returning
func (service *transferService) DiscoverNewRecords() {
	service.Lock()
	defer service.Unlock()

	rows, err := service.scanner.Unprocessed()
	if err != nil {
		log.Emit(logger.ERROR, "intake worksheet scan failed: %s\n", err.Error())
		return
	}

	tracked := make(map[int]bool, len(service.items))
	for _, item := range service.items {
		if item.State != COMPLETE {
			tracked[item.Position] = true
		}
	}

	dirty := false
	for _, row := range rows {
		if tracked[row.Position] {
			continue
		}

		dirty = true
		service.items = append(service.items, &TransferItem{
			ID:       uuid.New(),
			Position: row.Position,
			Fields:   row.Fields,
			State:    IDLE,
			Stage:    Scanned,
		})
	}

	if dirty {
		service.currentRun = uuid.New()
		service.runPending = true
		service.workerPool.WakeupWorkers()
	}
}

// RetryTransfer moves a TROUBLED item back to IDLE so the worker picks it
// up again. Items in any other state cannot be retried.
//
// Note: This function takes ownership of the mutex and releases it on return
func (service *transferService) RetryTransfer(itemID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	item := service.Item(itemID)
	if item == nil {
		return fmt.Errorf("no transfer item with ID %s", itemID)
	}
	if item.State != TROUBLED {
		return fmt.Errorf("cannot retry item %s in state %s", itemID, item.State)
	}

	item.Trouble = nil
	item.State = IDLE
	service.runPending = true
	if service.currentRun == uuid.Nil {
		service.currentRun = uuid.New()
	}
	service.workerPool.WakeupWorkers()
	return nil
}

// RemoveTransfer looks for an item with the ID provided in the services
// state, and removes it if it's found.
// This method *fails* if the item is currently PROCESSING as interrupting
// the pipeline mid-flight is not possible.
//
// Note: This function takes ownership of the mutex and releases it on return
func (service *transferService) RemoveTransfer(itemID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	for k, v := range service.items {
		if v.ID == itemID {
			if v.State == PROCESSING {
				return fmt.Errorf("cannot remove item %v as a worker is currently transferring it", itemID)
			}

			service.items = append(service.items[:k], service.items[k+1:]...)
			return nil
		}
	}

	return nil
}

// Item accepts the ID of a transfer item and attempts to find it in the
// services queue. If it cannot be found, nil is returned.
func (service *transferService) Item(itemID uuid.UUID) *TransferItem {
	for _, item := range service.items {
		if item.ID == itemID {
			return item
		}
	}

	return nil
}

// AllItems returns a copy of the slice containing all the TransferItems
// tracked by this service.
//
// Note: This function takes ownership of the mutex and releases it on return
func (service *transferService) AllItems() []*TransferItem {
	service.Lock()
	defer service.Unlock()

	items := make([]*TransferItem, len(service.items))
	copy(items, service.items)
	return items
}

// RunID returns the identifier of the most recent discovery run.
func (service *transferService) RunID() uuid.UUID {
	service.Lock()
	defer service.Unlock()

	return service.currentRun
}

// claimIdleItem will try and find an IDLE item in the transfer service,
// and set it's state to PROCESSING to prevent another worker from
// claiming it once the mutex lock is released.
//
// Note: This function takes ownership of the mutex, and releases it when returning
func (service *transferService) claimIdleItem() *TransferItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == IDLE {
			item.State = PROCESSING
			return item
		}
	}

	return nil
}

// completeRunIfDrained dispatches RUN_COMPLETE once the queue holds no more
// work for the current discovery run.
func (service *transferService) completeRunIfDrained() {
	service.Lock()
	defer service.Unlock()

	if !service.runPending {
		return
	}

	for _, item := range service.items {
		if item.State == IDLE || item.State == PROCESSING {
			return
		}
	}

	service.runPending = false
	service.dispatch(event.RUN_COMPLETE, service.currentRun)
}

// flushWorkbooks persists any pending writes (commit flags, ledger rows)
// made while processing the item. Flush failures are logged but do not
// trouble the item; the mutations will be re-attempted on the next flush.
func (service *transferService) flushWorkbooks(item *TransferItem) {
	if service.flusher == nil {
		return
	}

	if err := service.flusher.Flush(); err != nil {
		log.Emit(logger.ERROR, "Failed to flush workbooks after row #%d: %s\n", item.Position, err.Error())
	}
}

func (service *transferService) dispatch(ev event.Event, id uuid.UUID) {
	if service.eventBus == nil {
		return
	}

	service.eventBus.Dispatch(ev, id)
}
