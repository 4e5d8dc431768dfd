package transfer

// Config controls the transfer service. The intake workbook path is only
// used to watch for modifications; the worksheet itself is supplied to the
// service already opened.
type Config struct {
	IntakeWorkbookPath     string `yaml:"intake_workbook_path" env:"INTAKE_WORKBOOK_PATH"`
	IntakeContainerID      string `yaml:"intake_container_id" env:"INTAKE_CONTAINER_ID"`
	ArchiveRootID          string `yaml:"archive_root_id" env:"ARCHIVE_ROOT_ID" env-required:"true"`
	CommitOnCleanupFailure bool   `yaml:"commit_on_cleanup_failure" env:"COMMIT_ON_CLEANUP_FAILURE" env-default:"false"`
	ForceSyncSeconds       int    `yaml:"force_sync_seconds" env:"FORCE_SYNC_SECONDS" env-default:"300"`
}
