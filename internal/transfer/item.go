package transfer

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/ledger"
	"github.com/hbomb79/Muse/internal/naming"
	"github.com/hbomb79/Muse/internal/sheet"
	"github.com/hbomb79/Muse/internal/submission"
	"github.com/hbomb79/Muse/internal/tagging"
	"github.com/hbomb79/Muse/internal/vault"
	"github.com/hbomb79/Muse/pkg/logger"
)

type (
	TransferItemState int

	// PipelineStage marks how far an item has progressed through the
	// transfer pipeline. The last stage, Committed, is only reached once
	// every durable side-effect before it has succeeded (or, for the
	// ledger, been deliberately swallowed).
	PipelineStage int

	// Receipt captures what a completed transfer actually did, for
	// history persistence and the REST surface.
	Receipt struct {
		Partnership   string        `json:"partnership"`
		Division      string        `json:"division"`
		Season        string        `json:"season"`
		RoutineName   string        `json:"routine_name"`
		Descriptor    string        `json:"descriptor"`
		Version       int           `json:"version"`
		Filename      string        `json:"filename"`
		DestinationID string        `json:"destination_id"`
		Cleanup       vault.Outcome `json:"cleanup"`
		OccurredAt    time.Time     `json:"occurred_at"`
	}

	// TransferItem is a single intake record moving through the pipeline.
	// Mutated only by the worker that claims it; read access goes through
	// the owning service which holds the queue lock.
	TransferItem struct {
		ID       uuid.UUID          `json:"id"`
		Position int                `json:"position"`
		Fields   []string           `json:"-"`
		State    TransferItemState  `json:"state"`
		Stage    PipelineStage      `json:"stage"`
		Trouble  *Trouble           `json:"trouble,omitempty"`
		Record   *submission.Record `json:"record,omitempty"`
		Receipt  *Receipt           `json:"receipt,omitempty"`
	}
)

const (
	IDLE TransferItemState = iota
	PROCESSING
	SKIPPED
	TROUBLED
	COMPLETE
)

const (
	Scanned PipelineStage = iota
	FieldsParsed
	SourceIdentified
	NamespaceResolved
	Downloaded
	VersionResolved
	Annotated
	Uploaded
	Logged
	SourceCleaned
	Committed
)

const unknownDivision = "UnknownDivision"

// Consumer-side views of the collaborators the pipeline drives. Concrete
// implementations live in the sheet, vault, ledger and tagging packages.
type (
	recordScanner interface {
		Unprocessed() ([]submission.ScannedRow, error)
		MarkCommitted(position int) error
		Schema() submission.Schema
	}

	vaultStore interface {
		ResolveObjectID(reference string) string
		EnsureContainer(parentID string, name string) (string, error)
		ListNames(containerID string, prefix string) ([]string, error)
		Download(objectID string) (*vault.Object, error)
		Upload(containerID string, name string, data []byte, mimeType string) (string, error)
	}

	sourceCleaner interface {
		Clean(objectID string, intakeContainerID string) (*vault.CleanupResult, error)
	}

	ledgerStore interface {
		EnsureCategory(name string) (sheet.Worksheet, error)
		AppendAndResort(ws sheet.Worksheet, row ledger.Row) error
	}

	audioAnnotator interface {
		ApplyTags(data []byte, mimeType string, filename string, title string, artist string) []byte
	}
)

// transfer runs this item through the full pipeline. A nil return means the
// item finished as SKIPPED or reached Committed; any non-nil error is a
// Trouble describing the stage that halted it. Side-effects are strictly
// ordered so that the commit flag is the last mutation: a crash or trouble
// at any earlier stage leaves the record uncommitted and retryable.
func (item *TransferItem) transfer(scanner recordScanner, store vaultStore, cleaner sourceCleaner, ledgerStore ledgerStore, annotator audioAnnotator, config Config) error {
	record, err := submission.ParseRecord(scanner.Schema(), item.Fields)
	if err != nil {
		return newTrouble(FieldsParsed, err)
	}
	item.Record = record
	item.Stage = FieldsParsed

	sourceID := store.ResolveObjectID(record.AudioReference)
	if sourceID == "" {
		log.Emit(logger.WARNING, "Row #%d references no resolvable source object (%q), skipping\n", item.Position, record.AudioReference)
		item.State = SKIPPED
		return nil
	}
	item.Stage = SourceIdentified

	key, season, err := naming.BuildKey(record)
	if err != nil {
		return newTrouble(SourceIdentified, err)
	}

	division := naming.Sanitize(record.Division)
	if division == "" {
		division = unknownDivision
	}
	destContainer, err := store.EnsureContainer(config.ArchiveRootID, division)
	if err != nil {
		return newTrouble(NamespaceResolved, fmt.Errorf("ensure container %s: %w", division, err))
	}
	item.Stage = NamespaceResolved

	object, err := store.Download(sourceID)
	if err != nil {
		return newTrouble(Downloaded, fmt.Errorf("download %s: %w", sourceID, err))
	}
	item.Stage = Downloaded

	desired := key + "_v1" + strings.ToLower(filepath.Ext(object.Name))
	finalName, version, err := naming.ResolveVersion(containerLister{store}, destContainer, desired)
	if err != nil {
		return newTrouble(VersionResolved, err)
	}
	item.Stage = VersionResolved

	title := tagTitle(record)
	artist := tagArtist(record, season)
	tagged := annotator.ApplyTags(object.Data, object.MimeType, finalName, title, artist)
	item.Stage = Annotated

	destID, err := store.Upload(destContainer, finalName, tagged, object.MimeType)
	if err != nil {
		return newTrouble(Uploaded, fmt.Errorf("upload %s: %w", finalName, err))
	}
	item.Stage = Uploaded

	item.appendLedgerRow(ledgerStore, division, title, version)
	item.Stage = Logged

	outcome, err := item.cleanSource(cleaner, sourceID, config)
	if err != nil {
		return err
	}
	item.Stage = SourceCleaned

	if err := scanner.MarkCommitted(item.Position); err != nil {
		return newTrouble(Committed, fmt.Errorf("mark row #%d committed: %w", item.Position, err))
	}
	item.Stage = Committed

	item.Receipt = &Receipt{
		Partnership:   title,
		Division:      division,
		Season:        season,
		RoutineName:   naming.Sanitize(record.RoutineName),
		Descriptor:    naming.Sanitize(record.Descriptor),
		Version:       version,
		Filename:      finalName,
		DestinationID: destID,
		Cleanup:       outcome,
		OccurredAt:    time.Now(),
	}
	return nil
}

// appendLedgerRow records the transfer in the per-division ledger tab.
// Ledger failures are logged and swallowed; they never block the commit.
func (item *TransferItem) appendLedgerRow(ledgerStore ledgerStore, division string, title string, version int) {
	ws, err := ledgerStore.EnsureCategory(division)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to open ledger tab %s for row #%d: %v\n", division, item.Position, err)
		return
	}

	row := ledger.Row{
		Timestamp:   item.Record.Timestamp,
		Partnership: title,
		Division:    division,
		RoutineName: naming.Sanitize(item.Record.RoutineName),
		Descriptor:  naming.Sanitize(item.Record.Descriptor),
		Version:     version,
	}
	if err := ledgerStore.AppendAndResort(ws, row); err != nil {
		log.Emit(logger.ERROR, "Failed to record row #%d in ledger tab %s: %v\n", item.Position, division, err)
	}
}

// cleanSource runs the tiered cleanup of the intake object. When cleanup
// exhausts every tier the item is troubled unless the service is configured
// to commit regardless.
func (item *TransferItem) cleanSource(cleaner sourceCleaner, sourceID string, config Config) (vault.Outcome, error) {
	result, err := cleaner.Clean(sourceID, config.IntakeContainerID)
	if err != nil {
		if !config.CommitOnCleanupFailure {
			return 0, newTrouble(SourceCleaned, err)
		}

		log.Emit(logger.WARNING, "Cleanup of source %s failed (%v), committing row #%d anyway per policy\n", sourceID, err, item.Position)
		return 0, nil
	}

	return result.Outcome, nil
}

func tagTitle(record *submission.Record) string {
	return tagging.BuildTagTitle(
		naming.Sanitize(record.LeaderFirst), naming.Sanitize(record.LeaderLast),
		naming.Sanitize(record.FollowerFirst), naming.Sanitize(record.FollowerLast))
}

func tagArtist(record *submission.Record, season string) string {
	return tagging.BuildTagArtist(
		naming.Sanitize(record.Division), season,
		naming.Sanitize(record.RoutineName), naming.Sanitize(record.Descriptor))
}

// containerLister adapts the vault view to the naming package's lister.
type containerLister struct{ store vaultStore }

func (c containerLister) ListNames(containerID string, prefix string) ([]string, error) {
	return c.store.ListNames(containerID, prefix)
}

func (s TransferItemState) String() string {
	switch s {
	case IDLE:
		return fmt.Sprintf("IDLE[%d]", s)
	case PROCESSING:
		return fmt.Sprintf("PROCESSING[%d]", s)
	case SKIPPED:
		return fmt.Sprintf("SKIPPED[%d]", s)
	case TROUBLED:
		return fmt.Sprintf("TROUBLED[%d]", s)
	case COMPLETE:
		return fmt.Sprintf("COMPLETE[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

func (s PipelineStage) String() string {
	switch s {
	case Scanned:
		return fmt.Sprintf("SCANNED[%d]", s)
	case FieldsParsed:
		return fmt.Sprintf("FIELDS_PARSED[%d]", s)
	case SourceIdentified:
		return fmt.Sprintf("SOURCE_IDENTIFIED[%d]", s)
	case NamespaceResolved:
		return fmt.Sprintf("NAMESPACE_RESOLVED[%d]", s)
	case Downloaded:
		return fmt.Sprintf("DOWNLOADED[%d]", s)
	case VersionResolved:
		return fmt.Sprintf("VERSION_RESOLVED[%d]", s)
	case Annotated:
		return fmt.Sprintf("ANNOTATED[%d]", s)
	case Uploaded:
		return fmt.Sprintf("UPLOADED[%d]", s)
	case Logged:
		return fmt.Sprintf("LOGGED[%d]", s)
	case SourceCleaned:
		return fmt.Sprintf("SOURCE_CLEANED[%d]", s)
	case Committed:
		return fmt.Sprintf("COMMITTED[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
