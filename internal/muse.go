package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/api"
	"github.com/hbomb79/Muse/internal/database"
	"github.com/hbomb79/Muse/internal/event"
	"github.com/hbomb79/Muse/internal/history"
	"github.com/hbomb79/Muse/internal/ledger"
	"github.com/hbomb79/Muse/internal/sheet"
	"github.com/hbomb79/Muse/internal/submission"
	"github.com/hbomb79/Muse/internal/tagging"
	"github.com/hbomb79/Muse/internal/transfer"
	"github.com/hbomb79/Muse/internal/vault"
	"github.com/hbomb79/Muse/internal/vault/disk"
	s3vault "github.com/hbomb79/Muse/internal/vault/s3"
	"github.com/hbomb79/Muse/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	TransferService interface {
		RunnableService
		AllItems() []*transfer.TransferItem
		Item(uuid.UUID) *transfer.TransferItem
		RemoveTransfer(uuid.UUID) error
		RetryTransfer(uuid.UUID) error
		DiscoverNewRecords()
		RunID() uuid.UUID
	}

	HistoryService interface {
		RunnableService
		Transfers() ([]*history.Transfer, error)
		Transfer(uuid.UUID) (*history.Transfer, error)
		TransfersForRun(uuid.UUID) ([]*history.Transfer, error)
		LatestSnapshots() ([]*history.LedgerSnapshot, error)
	}

	vaultDriver interface {
		ResolveObjectID(reference string) string
		EnsureContainer(parentID string, name string) (string, error)
		ListNames(containerID string, prefix string) ([]string, error)
		Download(objectID string) (*vault.Object, error)
		Upload(containerID string, name string, data []byte, mimeType string) (string, error)
		Capabilities(objectID string) (vault.Capabilities, error)
		HardDelete(objectID string) error
		Trash(objectID string) error
		Parents(objectID string) ([]string, error)
		Move(objectID string, removeParents []string, addParent string) error
	}
)

// Muse represents the top-level object for the pipeline, and is responsible
// for initialising the workbooks, vault driver, services, stores, event
// handling, et cetera...
type museImpl struct {
	eventBus event.EventCoordinator
	config   MuseConfig

	intakeBook *sheet.Workbook
	ledgerBook *sheet.Workbook
	store      vaultDriver
	annotator  *tagging.Annotator
	db         database.Manager

	transferService TransferService
	historyService  HistoryService
	restGateway     RunnableService
}

func New(config MuseConfig) *museImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Muse services using config: %#v\n", config)
	muse := &museImpl{
		eventBus:  event.New(),
		config:    config,
		annotator: tagging.NewAnnotator(),
	}

	store, err := newVaultDriver(config.Vault)
	if err != nil {
		panic(fmt.Sprintf("failed to construct vault driver due to error: %s", err.Error()))
	}
	muse.store = store

	intakeBook, ledgerBook, err := openWorkbooks(config)
	if err != nil {
		panic(fmt.Sprintf("failed to open workbooks due to error: %s", err.Error()))
	}
	muse.intakeBook = intakeBook
	muse.ledgerBook = ledgerBook

	intakeSheet, err := intakeWorksheet(intakeBook, config.IntakeWorksheet)
	if err != nil {
		panic(fmt.Sprintf("failed to open intake worksheet due to error: %s", err.Error()))
	}

	quarantineName := config.QuarantineName
	if quarantineName == "" {
		quarantineName = vault.DefaultQuarantineName
	}

	scanner := submission.NewScanner(intakeSheet, submission.DefaultSchema())
	cleaner := vault.NewCleaner(store, quarantineName)
	ledgerWriter := ledger.NewWriter(ledgerBook)

	transferService, err := transfer.New(
		config.Transfer, scanner, store, cleaner,
		ledgerWriter, muse.annotator,
		workbookFlusher{books: dedupeBooks(intakeBook, ledgerBook)},
		muse.eventBus,
	)
	if err != nil {
		panic(fmt.Sprintf("failed to construct transfer service due to error: %s", err.Error()))
	}
	muse.transferService = transferService

	db := database.New()
	muse.historyService = history.NewService(history.NewStore(), db, transferService, ledgerWriter, muse.eventBus)
	muse.restGateway = api.NewRestGateway(&config.RestConfig, transferService, muse.historyService)
	muse.db = db

	return muse
}

// Run will start all of Muse by bringing up all required services and
// connections, such as:
// - Database connection
// - Service instances
//
// This function will not return until Muse is stopped.
// To stop Muse, the provided context must be cancelled. Errors from which
// Muse cannot recover will also cause Muse to stop.
func (muse *museImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := muse.db.Connect(muse.config.Database); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	muse.spawnAsyncService(ctx, wg, muse.transferService, "transfer-service", crashHandler)
	muse.spawnAsyncService(ctx, wg, muse.historyService, "history-service", crashHandler)
	muse.spawnAsyncService(ctx, wg, muse.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Muse services spawned!\n")

	wg.Wait()
	return nil
}

// RunRetag performs the one-shot maintenance pass which re-derives the
// Title/Artist tags for every audio object in the given container, writing
// a CSV report of the changes to the provided path.
func (muse *museImpl) RunRetag(containerID string, reportPath string) error {
	resolver := func(containerID string, name string) string {
		return muse.store.ResolveObjectID(filepath.Join(containerID, name))
	}

	retagger := tagging.NewRetagger(muse.store, resolver, muse.annotator)
	report, err := retagger.Run(containerID)
	if err != nil {
		return err
	}

	file, err := os.Create(reportPath)
	if err != nil {
		return fmt.Errorf("failed to create retag report '%s': %w", reportPath, err)
	}
	defer file.Close()

	log.Emit(logger.INFO, "Retagged %d objects, writing report to %s\n", len(report), reportPath)
	return tagging.WriteReport(file, report)
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Muse service waitgroup is updated correctly
func (muse *museImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

func newVaultDriver(config VaultConfig) (vaultDriver, error) {
	switch config.Driver {
	case VaultDriverS3:
		return s3vault.New(context.Background(), config.S3)
	default:
		return disk.New(config.BaseDir)
	}
}

// openWorkbooks opens the intake and ledger workbooks, sharing a single
// handle when both paths point to the same file.
func openWorkbooks(config MuseConfig) (*sheet.Workbook, *sheet.Workbook, error) {
	intakeBook, err := sheet.OpenWorkbook(config.Transfer.IntakeWorkbookPath)
	if err != nil {
		return nil, nil, err
	}

	if config.LedgerWorkbookPath == config.Transfer.IntakeWorkbookPath {
		return intakeBook, intakeBook, nil
	}

	ledgerBook, err := sheet.OpenWorkbook(config.LedgerWorkbookPath)
	if err != nil {
		return nil, nil, err
	}

	return intakeBook, ledgerBook, nil
}

func intakeWorksheet(book *sheet.Workbook, name string) (sheet.Worksheet, error) {
	if name == "" {
		return book.DefaultWorksheet()
	}

	return book.Worksheet(name)
}

// workbookFlusher persists every distinct open workbook after each
// processed item.
type workbookFlusher struct {
	books []*sheet.Workbook
}

func (flusher workbookFlusher) Flush() error {
	for _, book := range flusher.books {
		if err := book.Flush(); err != nil {
			return err
		}
	}

	return nil
}

func dedupeBooks(books ...*sheet.Workbook) []*sheet.Workbook {
	seen := make(map[*sheet.Workbook]bool, len(books))
	out := make([]*sheet.Workbook, 0, len(books))
	for _, book := range books {
		if book == nil || seen[book] {
			continue
		}

		seen[book] = true
		out = append(out, book)
	}

	return out
}
