// Package localstore is the device-local persistence layer: a flat
// key/value space holding evaluations in several historical layouts, plus
// the scanner that reads them back as one normalized list.
package localstore

import (
	"context"
	"errors"
)

// Well-known keys and key prefixes.
const (
	KeyQuestionnaireData = "questionnaireData"
	KeyEvaluations       = "evaluations"

	PrefixBackupEvaluation = "backup_evaluation_"
	PrefixEvaluation       = "evaluation_"
	PrefixPatient          = "patient_"
	PrefixTherapistBackup  = "backup_terapeuta_"
)

// Origin tags of scanned entries.
const (
	OriginQuestionnaire = "localStorage-questionnaire"
	OriginEvaluations   = "localStorage-evaluations"
	OriginBackup        = "localStorage-backup"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("local key not found")

// Item is one raw key/value pair.
type Item struct {
	Key   string
	Value []byte
}

// Store is a string-keyed blob store. Items returns keys in ascending order.
type Store interface {
	Items(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}
