// Package identity derives the stable identifiers of an evaluation: the
// canonical id used as the remote document id, and the comparison key used
// to spot duplicates of the same clinical event.
package identity

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/okian/evalsync/internal/domain/model"
)

// DefaultName replaces a patient name that slugs to nothing.
const DefaultName = "avaliacao"

var (
	whitespace = regexp.MustCompile(`\s+`)
	disallowed = regexp.MustCompile(`[^a-z0-9_]`)
)

// Resolver derives identifiers. The clock is only consulted for records that
// carry neither an evaluation date nor a creation timestamp.
type Resolver struct {
	now func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns a resolver using the wall clock unless overridden.
func New(opts ...Option) *Resolver {
	r := &Resolver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultResolver = New()

// Slug lowercases name, turns whitespace runs into underscores and strips
// anything outside [a-z0-9_]. Accented letters are dropped, not transliterated.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = whitespace.ReplaceAllString(s, "_")
	s = disallowed.ReplaceAllString(s, "")
	if s == "" {
		return DefaultName
	}
	return s
}

// PatientKey groups records of the same patient regardless of case and
// surrounding whitespace.
func PatientKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// EvaluationDate resolves the clinical date as YYYY-MM-DD.
func (r *Resolver) EvaluationDate(rec model.EvaluationRecord) string {
	if d, ok := rec.EvaluatedOn(); ok {
		return d.Format(model.DateLayout)
	}
	return r.now().UTC().Format(model.DateLayout)
}

// Fragment returns the 10-digit Unix-seconds fragment of the creation
// timestamp, or "" when the record has none.
func Fragment(rec model.EvaluationRecord) string {
	created := rec.Created()
	if created.IsZero() {
		return ""
	}
	return fmt.Sprintf("%010d", created.Unix()%10_000_000_000)
}

// CanonicalID returns name_date_fragment, or name_date without a fragment.
func (r *Resolver) CanonicalID(rec model.EvaluationRecord) string {
	key := r.ComparisonKey(rec)
	if frag := Fragment(rec); frag != "" {
		return key + "_" + frag
	}
	return key
}

// ComparisonKey returns name_date.
func (r *Resolver) ComparisonKey(rec model.EvaluationRecord) string {
	return Slug(rec.PatientInfo.Name) + "_" + r.EvaluationDate(rec)
}

// CanonicalID derives the canonical id with the wall clock.
func CanonicalID(rec model.EvaluationRecord) string { return defaultResolver.CanonicalID(rec) }

// ComparisonKey derives the comparison key with the wall clock.
func ComparisonKey(rec model.EvaluationRecord) string { return defaultResolver.ComparisonKey(rec) }
