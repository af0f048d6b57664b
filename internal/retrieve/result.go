// Package retrieve runs the memory queries that seed a new session:
// preferences, recent events, semantic knowledge and prior session
// state, fetched in parallel under one shared deadline.
package retrieve

import (
	"time"

	"github.com/nextlevelbuilder/recall/internal/session"
	"github.com/nextlevelbuilder/recall/internal/store"
)

// Query names one of the fixed retrieval queries.
type Query string

const (
	QueryPreferences  Query = "preferences"
	QueryEpisodic     Query = "episodic"
	QueryKnowledge    Query = "knowledge"
	QuerySessionState Query = "session_state"
)

// Queries lists every query a batch runs, one worker each.
var Queries = []Query{QueryPreferences, QueryEpisodic, QueryKnowledge, QuerySessionState}

// Status is the per-query outcome. A batch never fails as a whole; each
// query lands on exactly one of these.
type Status string

const (
	// StatusSuccess means the query returned data in time.
	StatusSuccess Status = "success"
	// StatusEmpty means the query finished but found nothing.
	StatusEmpty Status = "empty"
	// StatusTimedOut means the shared deadline expired first.
	StatusTimedOut Status = "timed_out"
	// StatusFailed means the query errored before the deadline.
	StatusFailed Status = "failed"
)

// Result is one query's outcome. Only the field matching Query is set.
type Result struct {
	Query   Query
	Status  Status
	Err     error
	Latency time.Duration

	Preferences []store.PreferenceRecord
	Events      []store.EpisodicEvent
	Knowledge   []store.SemanticKnowledge
	Session     session.State
}

// OK reports whether the result carries usable data.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Batch is the joined outcome of one retrieval run.
type Batch struct {
	Results map[Query]Result
	Elapsed time.Duration
}

// Degraded reports whether any query missed the deadline or failed.
func (b Batch) Degraded() bool {
	for _, r := range b.Results {
		if r.Status == StatusTimedOut || r.Status == StatusFailed {
			return true
		}
	}
	return false
}

// TimedOut reports whether any query hit the shared deadline.
func (b Batch) TimedOut() bool {
	for _, r := range b.Results {
		if r.Status == StatusTimedOut {
			return true
		}
	}
	return false
}
