// Package exitcode lists the process exit codes of ingestctl, one per
// failure class.
package exitcode

const (
	Success         = 0
	UsageError      = 1
	ValidationError = 2 // bad flags, config or unknown kind/status
	DBConnError     = 3
	StoreError      = 4 // a unit of work failed against the store
	Precondition    = 5 // the ingest is not in a status that allows the command
	NotFound        = 6
	NoTask          = 7 // next-task found nothing to claim
)
