// Package types contains the result shapes shared by the service, the HTTP
// API and the CLI.
package types

import "time"

// SyncSummary reports one pass of pushing local-only records to the remote store.
type SyncSummary struct {
	Synced  int  `json:"synced"`
	Skipped int  `json:"skipped"`
	Errors  int  `json:"errors"`
	Offline bool `json:"offline,omitempty"`
}

// ForceSyncSummary reports an unconditional re-upload of every local record.
type ForceSyncSummary struct {
	Synced  int  `json:"synced"`
	Errors  int  `json:"errors"`
	Total   int  `json:"total"`
	Offline bool `json:"offline,omitempty"`
}

// DedupSummary reports one consolidation pass over the remote collection.
type DedupSummary struct {
	Consolidated      int  `json:"consolidated"`
	Removed           int  `json:"removed"`
	Errors            int  `json:"errors"`
	TotalDocuments    int  `json:"totalDocuments"`
	UniqueEvaluations int  `json:"uniqueEvaluations"`
	Offline           bool `json:"offline,omitempty"`
}

// DeleteResult reports where an evaluation was removed from.
type DeleteResult struct {
	ID           string `json:"id"`
	Remote       bool   `json:"remote"`
	LocalRemoved int    `json:"localRemoved"`
}

// BackupResult reports a local backup snapshot.
type BackupResult struct {
	Key        string    `json:"key"`
	Count      int       `json:"count"`
	BackedUpAt time.Time `json:"backedUpAt"`
}

// Stats is a point-in-time view of the service.
type Stats struct {
	ConnectionState  string `json:"connectionState"`
	Evaluations      int    `json:"evaluations"`
	LocalOnly        int    `json:"localOnly"`
	QueueSize        int    `json:"queueSize"`
	QueueCapacity    int    `json:"queueCapacity"`
	ActiveWorkers    int    `json:"activeWorkers"`
	ProcessedIntakes int64  `json:"processedIntakes"`
	FailedIntakes    int64  `json:"failedIntakes"`
	SnapshotAgeMS    int64  `json:"snapshotAgeMs"`
}
