package models

// Supported modules (entity kinds). Each one owns a table, a queue and a
// tracker row.
const (
	ModuleCustomer = "customer"
	ModuleVendor   = "vendor"
)

// SupportedModules maps module names to their entity table.
var SupportedModules = map[string]string{
	ModuleCustomer: "customers",
	ModuleVendor:   "vendors",
}

// IsSupportedModule reports whether module has a table, queue and tracker.
func IsSupportedModule(module string) bool {
	_, ok := SupportedModules[module]
	return ok
}

// Tracker statuses.
const (
	TrackerIdle    = "idle"
	TrackerSyncing = "syncing"
	TrackerSuccess = "success"
	TrackerFailed  = "failed"
)

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobSuccess    = "success"
	JobFailed     = "failed"
)

// Job types.
const (
	JobTypeIncremental = "incremental"
	JobTypeFull        = "full"
)

const (
	// MaxJobAttempts bounds the retry loop; the message is dead-lettered after
	// exactly this many failed attempts.
	MaxJobAttempts = 3

	// DefaultPageSize for remote fetches and paged local reads.
	DefaultPageSize = 50

	// DefaultStalenessHours triggers a sync when the tracker is older.
	DefaultStalenessHours = 12

	// DefaultFetchTimeoutSeconds bounds one remote page fetch.
	DefaultFetchTimeoutSeconds = 30

	// DefaultCacheTTL время жизни закэшированных выборок в Redis, секунды
	DefaultCacheTTL = 5 * 60
)
