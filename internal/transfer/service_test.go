package transfer_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/event"
	"github.com/hbomb79/Muse/internal/ledger"
	"github.com/hbomb79/Muse/internal/sheet"
	"github.com/hbomb79/Muse/internal/submission"
	"github.com/hbomb79/Muse/internal/tagging"
	"github.com/hbomb79/Muse/internal/transfer"
	"github.com/hbomb79/Muse/internal/vault"
	"github.com/hbomb79/Muse/pkg/logger"
	"github.com/hbomb79/Muse/pkg/worker"
	"github.com/stretchr/testify/assert"
)

// transferQueue is the slice of the service surface these tests drive.
type transferQueue interface {
	PerformItemTransfer(w worker.Worker) (bool, error)
	DiscoverNewRecords()
	AllItems() []*transfer.TransferItem
	Item(itemID uuid.UUID) *transfer.TransferItem
	RetryTransfer(itemID uuid.UUID) error
	RemoveTransfer(itemID uuid.UUID) error
	RunID() uuid.UUID
}

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

// opLog records the order in which the pipeline drove it's collaborators,
// shared between the stubs of a single test harness.
type opLog struct{ ops []string }

func (log *opLog) record(op string) { log.ops = append(log.ops, op) }

type stubScanner struct {
	log       *opLog
	rows      []submission.ScannedRow
	listErr   error
	committed []int
	commitErr error
}

func (scanner *stubScanner) Unprocessed() ([]submission.ScannedRow, error) {
	if scanner.listErr != nil {
		return nil, scanner.listErr
	}

	unprocessed := make([]submission.ScannedRow, 0)
	for _, row := range scanner.rows {
		if scanner.isCommitted(row.Position) {
			continue
		}

		unprocessed = append(unprocessed, row)
	}

	return unprocessed, nil
}

func (scanner *stubScanner) MarkCommitted(position int) error {
	if scanner.commitErr != nil {
		return scanner.commitErr
	}

	scanner.log.record("commit")
	scanner.committed = append(scanner.committed, position)
	return nil
}

func (scanner *stubScanner) Schema() submission.Schema { return submission.DefaultSchema() }

func (scanner *stubScanner) isCommitted(position int) bool {
	for _, p := range scanner.committed {
		if p == position {
			return true
		}
	}

	return false
}

type stubVaultStore struct {
	log         *opLog
	objects     map[string]*vault.Object
	names       map[string][]string
	uploadNames []string
	ensureErr   error
	downloadErr error
	uploadErr   error
}

func (store *stubVaultStore) ResolveObjectID(reference string) string { return reference }

func (store *stubVaultStore) EnsureContainer(parentID string, name string) (string, error) {
	if store.ensureErr != nil {
		return "", store.ensureErr
	}

	return parentID + "/" + name, nil
}

func (store *stubVaultStore) ListNames(containerID string, prefix string) ([]string, error) {
	return store.names[containerID], nil
}

func (store *stubVaultStore) Download(objectID string) (*vault.Object, error) {
	if store.downloadErr != nil {
		return nil, store.downloadErr
	}

	object, ok := store.objects[objectID]
	if !ok {
		return nil, vault.ErrObjectNotFound
	}

	return object, nil
}

func (store *stubVaultStore) Upload(containerID string, name string, data []byte, mimeType string) (string, error) {
	if store.uploadErr != nil {
		return "", store.uploadErr
	}

	store.log.record("upload")
	store.uploadNames = append(store.uploadNames, name)
	store.names[containerID] = append(store.names[containerID], name)
	return containerID + "/" + name, nil
}

type stubCleaner struct {
	log     *opLog
	outcome vault.Outcome
	err     error
	calls   int
}

func (cleaner *stubCleaner) Clean(objectID string, intakeContainerID string) (*vault.CleanupResult, error) {
	cleaner.calls++
	if cleaner.err != nil {
		return nil, cleaner.err
	}

	cleaner.log.record("clean")
	return &vault.CleanupResult{Outcome: cleaner.outcome}, nil
}

type stubTab struct{ name string }

func (tab *stubTab) Name() string                                   { return tab.name }
func (tab *stubTab) ListRows() ([][]string, error)                  { return nil, nil }
func (tab *stubTab) HeaderRow() ([]string, error)                   { return nil, nil }
func (tab *stubTab) SetCell(row int, col int, value string) error   { return nil }
func (tab *stubTab) AppendRow(values []string) error                { return nil }
func (tab *stubTab) ClearRange(ref string) error                    { return nil }
func (tab *stubTab) WriteRange(ref string, values [][]string) error { return nil }

type stubLedger struct {
	log       *opLog
	rows      []ledger.Row
	ensureErr error
	appendErr error
}

func (l *stubLedger) EnsureCategory(name string) (sheet.Worksheet, error) {
	if l.ensureErr != nil {
		return nil, l.ensureErr
	}

	return &stubTab{name: name}, nil
}

func (l *stubLedger) AppendAndResort(ws sheet.Worksheet, row ledger.Row) error {
	if l.appendErr != nil {
		return l.appendErr
	}

	l.log.record("ledger")
	l.rows = append(l.rows, row)
	return nil
}

type stubFlusher struct {
	log     *opLog
	flushes int
	err     error
}

func (f *stubFlusher) Flush() error {
	f.flushes++
	if f.err != nil {
		return f.err
	}

	f.log.record("flush")
	return nil
}

// harness bundles a transfer service with it's stubbed collaborators and a
// recording event bus.
type harness struct {
	service transferQueue
	scanner *stubScanner
	store   *stubVaultStore
	cleaner *stubCleaner
	ledger  *stubLedger
	flusher *stubFlusher
	events  *[]event.HandlerEvent
	opLog   *opLog
}

func newHarness(t *testing.T, config transfer.Config, rows ...submission.ScannedRow) *harness {
	log := &opLog{}
	scanner := &stubScanner{log: log, rows: rows}
	store := &stubVaultStore{log: log, objects: make(map[string]*vault.Object), names: make(map[string][]string)}
	cleaner := &stubCleaner{log: log}
	ledgerStore := &stubLedger{log: log}
	flusher := &stubFlusher{log: log}

	events := make([]event.HandlerEvent, 0)
	bus := event.New()
	record := func(ev event.Event, payload event.Payload) {
		events = append(events, event.HandlerEvent{Event: ev, Payload: payload})
	}
	bus.RegisterHandlerFunction(event.TRANSFER_UPDATE, record)
	bus.RegisterHandlerFunction(event.TRANSFER_COMPLETE, record)
	bus.RegisterHandlerFunction(event.TRANSFER_TROUBLE, record)
	bus.RegisterHandlerFunction(event.RUN_COMPLETE, record)

	service, err := transfer.New(config, scanner, store, cleaner, ledgerStore, tagging.NewAnnotator(), flusher, bus)
	assert.NoError(t, err)

	return &harness{
		service: service,
		scanner: scanner,
		store:   store,
		cleaner: cleaner,
		ledger:  ledgerStore,
		flusher: flusher,
		events:  &events,
		opLog:   log,
	}
}

// processAll repeatedly invokes the worker function until the queue is
// drained, mirroring what the worker pool does when woken.
func (h *harness) processAll(t *testing.T) {
	for i := 0; i < 100; i++ {
		processed, err := h.service.PerformItemTransfer(nil)
		assert.NoError(t, err)
		if !processed {
			return
		}
	}

	t.Fatal("queue did not drain after 100 iterations")
}

func (h *harness) eventFor(ev event.Event) (event.HandlerEvent, bool) {
	for _, e := range *h.events {
		if e.Event == ev {
			return e, true
		}
	}

	return event.HandlerEvent{}, false
}

func defaultConfig() transfer.Config {
	return transfer.Config{IntakeContainerID: "intake", ArchiveRootID: "root"}
}

func intakeRow(position int, audioReference string) submission.ScannedRow {
	return submission.ScannedRow{
		Position: position,
		Fields: []string{
			"5/19/2025 23:16:40", "alice@example.com",
			"Alice", "Smith", "Bob", "Jones",
			"Open", "", "", audioReference, "Yes",
		},
	}
}

func Test_PerformItemTransfer_CommitsAfterEverySideEffect(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"))
	h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "Recording.WAV", MimeType: "audio/wav", Data: []byte("AUDIO")}

	h.service.DiscoverNewRecords()
	h.processAll(t)

	items := h.service.AllItems()
	assert.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, transfer.COMPLETE, item.State)
	assert.Equal(t, transfer.Committed, item.Stage)
	assert.Nil(t, item.Trouble)

	assert.NotNil(t, item.Receipt)
	assert.Equal(t, "AliceSmith & BobJones", item.Receipt.Partnership)
	assert.Equal(t, "Open", item.Receipt.Division)
	assert.Equal(t, "2025", item.Receipt.Season)
	assert.Equal(t, 1, item.Receipt.Version)
	assert.Equal(t, "AliceSmith_BobJones_Open_2025_v1.wav", item.Receipt.Filename)
	assert.Equal(t, "root/Open/AliceSmith_BobJones_Open_2025_v1.wav", item.Receipt.DestinationID)
	assert.Equal(t, vault.Deleted, item.Receipt.Cleanup)

	assert.Equal(t, []int{1}, h.scanner.committed)
	assert.Equal(t, []string{"AliceSmith_BobJones_Open_2025_v1.wav"}, h.store.uploadNames)

	assert.Len(t, h.ledger.rows, 1)
	assert.Equal(t, "AliceSmith & BobJones", h.ledger.rows[0].Partnership)
	assert.Equal(t, "Open", h.ledger.rows[0].Division)
	assert.Equal(t, 1, h.ledger.rows[0].Version)

	// The commit flag must be the final durable mutation of the pipeline.
	assert.Equal(t, []string{"upload", "ledger", "clean", "commit", "flush"}, h.opLog.ops)

	complete, ok := h.eventFor(event.TRANSFER_COMPLETE)
	assert.True(t, ok)
	assert.Equal(t, item.ID, complete.Payload)
}

func Test_PerformItemTransfer_SkipsUnresolvableSource(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, ""))

	h.service.DiscoverNewRecords()
	h.processAll(t)

	item := h.service.AllItems()[0]
	assert.Equal(t, transfer.SKIPPED, item.State)
	assert.Nil(t, item.Trouble)
	assert.Empty(t, h.scanner.committed)
	assert.Empty(t, h.store.uploadNames)

	_, ok := h.eventFor(event.TRANSFER_UPDATE)
	assert.True(t, ok)
}

func Test_PerformItemTransfer_TroublesMalformedRow(t *testing.T) {
	h := newHarness(t, defaultConfig(), submission.ScannedRow{Position: 1, Fields: []string{"only", "two"}})

	h.service.DiscoverNewRecords()
	h.processAll(t)

	item := h.service.AllItems()[0]
	assert.Equal(t, transfer.TROUBLED, item.State)
	assert.NotNil(t, item.Trouble)
	assert.Equal(t, transfer.MALFORMED_ROW, item.Trouble.Type())
	assert.Equal(t, transfer.FieldsParsed, item.Trouble.FailedAt())
	assert.Empty(t, h.scanner.committed)

	trouble, ok := h.eventFor(event.TRANSFER_TROUBLE)
	assert.True(t, ok)
	assert.Equal(t, item.ID, trouble.Payload)
}

func Test_PerformItemTransfer_UploadFailureLeavesRowUncommitted(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"))
	h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "song.mp3", MimeType: "application/octet-stream", Data: []byte("AUDIO")}
	h.store.uploadErr = errors.New("insufficient storage")

	h.service.DiscoverNewRecords()
	h.processAll(t)

	item := h.service.AllItems()[0]
	assert.Equal(t, transfer.TROUBLED, item.State)
	assert.Equal(t, transfer.TRANSFER_FAILURE, item.Trouble.Type())
	assert.Equal(t, transfer.Uploaded, item.Trouble.FailedAt())

	// Nothing downstream of the failed upload may have run.
	assert.Zero(t, h.cleaner.calls)
	assert.Empty(t, h.ledger.rows)
	assert.Empty(t, h.scanner.committed)
}

func Test_PerformItemTransfer_LedgerFailureDoesNotBlockCommit(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"))
	h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "song.wav", MimeType: "audio/wav", Data: []byte("AUDIO")}
	h.ledger.appendErr = errors.New("ledger workbook locked")

	h.service.DiscoverNewRecords()
	h.processAll(t)

	item := h.service.AllItems()[0]
	assert.Equal(t, transfer.COMPLETE, item.State)
	assert.Equal(t, []int{1}, h.scanner.committed)
}

func Test_PerformItemTransfer_CleanupFailure(t *testing.T) {
	t.Run("troubles the item by default", func(t *testing.T) {
		h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"))
		h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "song.wav", MimeType: "audio/wav", Data: []byte("AUDIO")}
		h.cleaner.err = vault.ErrUnableToClean

		h.service.DiscoverNewRecords()
		h.processAll(t)

		item := h.service.AllItems()[0]
		assert.Equal(t, transfer.TROUBLED, item.State)
		assert.Equal(t, transfer.CLEANUP_FAILURE, item.Trouble.Type())
		assert.Empty(t, h.scanner.committed)
	})

	t.Run("commits anyway when configured to", func(t *testing.T) {
		config := defaultConfig()
		config.CommitOnCleanupFailure = true

		h := newHarness(t, config, intakeRow(1, "obj-1"))
		h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "song.wav", MimeType: "audio/wav", Data: []byte("AUDIO")}
		h.cleaner.err = vault.ErrUnableToClean

		h.service.DiscoverNewRecords()
		h.processAll(t)

		item := h.service.AllItems()[0]
		assert.Equal(t, transfer.COMPLETE, item.State)
		assert.Equal(t, []int{1}, h.scanner.committed)
	})
}

func Test_PerformItemTransfer_CommitFailureTroublesItem(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"))
	h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "song.wav", MimeType: "audio/wav", Data: []byte("AUDIO")}
	h.scanner.commitErr = errors.New("workbook read-only")

	h.service.DiscoverNewRecords()
	h.processAll(t)

	item := h.service.AllItems()[0]
	assert.Equal(t, transfer.TROUBLED, item.State)
	assert.Equal(t, transfer.COMMIT_FAILURE, item.Trouble.Type())
	assert.Equal(t, transfer.Committed, item.Trouble.FailedAt())
	assert.Nil(t, item.Receipt)
}

func Test_PerformItemTransfer_VersionsRepeatSubmissions(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"), intakeRow(2, "obj-2"))
	h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "first.wav", MimeType: "audio/wav", Data: []byte("ONE")}
	h.store.objects["obj-2"] = &vault.Object{ID: "obj-2", Name: "second.wav", MimeType: "audio/wav", Data: []byte("TWO")}
	h.store.names["root/Open"] = []string{"AliceSmith_BobJones_Open_2025_v1.wav"}

	h.service.DiscoverNewRecords()
	h.processAll(t)

	items := h.service.AllItems()
	assert.Len(t, items, 2)
	assert.Equal(t, 2, items[0].Receipt.Version)
	assert.Equal(t, 3, items[1].Receipt.Version)
}

func Test_DiscoverNewRecords(t *testing.T) {
	t.Run("queues each row once", func(t *testing.T) {
		h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"), intakeRow(2, "obj-2"))

		h.service.DiscoverNewRecords()
		assert.Len(t, h.service.AllItems(), 2)

		h.service.DiscoverNewRecords()
		assert.Len(t, h.service.AllItems(), 2)
	})

	t.Run("troubled rows are not re-queued", func(t *testing.T) {
		h := newHarness(t, defaultConfig(), submission.ScannedRow{Position: 1, Fields: []string{"bad"}})

		h.service.DiscoverNewRecords()
		h.processAll(t)
		assert.Equal(t, transfer.TROUBLED, h.service.AllItems()[0].State)

		h.service.DiscoverNewRecords()
		assert.Len(t, h.service.AllItems(), 1)
	})

	t.Run("scan failure leaves queue untouched", func(t *testing.T) {
		h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"))

		h.service.DiscoverNewRecords()
		assert.Len(t, h.service.AllItems(), 1)

		h.scanner.listErr = errors.New("workbook vanished")
		h.service.DiscoverNewRecords()
		assert.Len(t, h.service.AllItems(), 1)
	})
}

func Test_RetryTransfer(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"))
	h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "song.wav", MimeType: "audio/wav", Data: []byte("AUDIO")}
	h.store.uploadErr = errors.New("transient outage")

	h.service.DiscoverNewRecords()
	h.processAll(t)

	item := h.service.AllItems()[0]
	assert.Equal(t, transfer.TROUBLED, item.State)

	// Unknown item IDs are rejected.
	assert.Error(t, h.service.RetryTransfer(uuid.New()))

	assert.NoError(t, h.service.RetryTransfer(item.ID))
	assert.Nil(t, item.Trouble)

	h.store.uploadErr = nil
	h.processAll(t)
	assert.Equal(t, transfer.COMPLETE, h.service.AllItems()[0].State)
	assert.Error(t, h.service.RetryTransfer(item.ID))
}

func Test_RemoveTransfer(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"), intakeRow(2, "obj-2"))

	h.service.DiscoverNewRecords()
	items := h.service.AllItems()
	assert.Len(t, items, 2)

	assert.NoError(t, h.service.RemoveTransfer(items[0].ID))
	assert.Len(t, h.service.AllItems(), 1)
	assert.Nil(t, h.service.Item(items[0].ID))

	// Removing an unknown item is a no-op.
	assert.NoError(t, h.service.RemoveTransfer(uuid.New()))
	assert.Len(t, h.service.AllItems(), 1)
}

func Test_RunCompleteDispatchedOnceDrained(t *testing.T) {
	h := newHarness(t, defaultConfig(), intakeRow(1, "obj-1"))
	h.store.objects["obj-1"] = &vault.Object{ID: "obj-1", Name: "song.wav", MimeType: "audio/wav", Data: []byte("AUDIO")}

	h.service.DiscoverNewRecords()
	runID := h.service.RunID()
	assert.NotEqual(t, uuid.Nil, runID)

	_, ok := h.eventFor(event.RUN_COMPLETE)
	assert.False(t, ok)

	h.processAll(t)

	complete, ok := h.eventFor(event.RUN_COMPLETE)
	assert.True(t, ok)
	assert.Equal(t, runID, complete.Payload)

	// Draining an already-drained queue must not re-announce the run.
	*h.events = (*h.events)[:0]
	processed, err := h.service.PerformItemTransfer(nil)
	assert.NoError(t, err)
	assert.False(t, processed)
	_, ok = h.eventFor(event.RUN_COMPLETE)
	assert.False(t, ok)
}
