package sync

import (
	"fmt"
	"time"

	"erpsync/internal/models"
)

// Inputs is everything the decision needs, injected directly so the engine
// stays a pure function with no network or clock access of its own.
type Inputs struct {
	DBMax         *time.Time
	Tracker       *models.SyncTracker
	RemoteMax     *time.Time
	RemoteHasData bool
	Force         bool
	Staleness     time.Duration
	Now           time.Time
}

// Decision carries the verdict, a human-readable reason and the "since"
// watermark for the fetch loop (nil means fetch everything).
type Decision struct {
	ShouldSync bool
	Reason     string
	Since      *time.Time
}

// Decide applies the trigger rules in order; the first match wins.
func Decide(in Inputs) Decision {
	if in.Staleness <= 0 {
		in.Staleness = models.DefaultStalenessHours * time.Hour
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	since := Watermark(in.Tracker, in.DBMax)

	if in.Force {
		return Decision{ShouldSync: true, Reason: "forced", Since: since}
	}

	if in.Tracker == nil {
		return Decision{ShouldSync: true, Reason: "never synced", Since: since}
	}

	if in.DBMax == nil && in.RemoteHasData {
		return Decision{ShouldSync: true, Reason: "local empty, remote has data", Since: since}
	}

	if in.Tracker.LastSyncAt != nil {
		elapsed := in.Now.Sub(*in.Tracker.LastSyncAt)
		if elapsed > in.Staleness {
			hours := int(elapsed.Hours())
			return Decision{
				ShouldSync: true,
				Reason:     fmt.Sprintf("stale: last sync %d hours ago", hours),
				Since:      since,
			}
		}
	}

	if in.RemoteMax != nil && in.DBMax != nil && in.RemoteMax.After(*in.DBMax) {
		return Decision{ShouldSync: true, Reason: "remote newer than local", Since: since}
	}

	if in.RemoteMax != nil && in.DBMax == nil {
		return Decision{ShouldSync: true, Reason: "remote has data, local empty", Since: since}
	}

	reason := "up to date: synced within staleness window"
	if in.RemoteMax != nil {
		reason = "up to date: remote not newer than local"
	}
	return Decision{ShouldSync: false, Reason: reason, Since: since}
}

// Watermark picks the "since" lower bound for the next incremental fetch:
// the last synced batch maximum when known, then the last attempt time, then
// whatever the local store holds. Nil means a full fetch.
func Watermark(tracker *models.SyncTracker, dbMax *time.Time) *time.Time {
	if tracker != nil {
		if tracker.LastSyncedBatchMax != nil {
			return tracker.LastSyncedBatchMax
		}
		if tracker.LastSyncAt != nil {
			return tracker.LastSyncAt
		}
	}
	return dbMax
}
