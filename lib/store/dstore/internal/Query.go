package internal

import (
	"github.com/ValentinKolb/pKV/lib/apply"
	"github.com/ValentinKolb/pKV/lib/db"
)

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet  QueryType = iota // Retrieve an entry by key.
	QueryTInfo                  // Retrieve the apply state and metadata about the engine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type QueryType // The type of Query to perform.
	CF   db.CF     // The column family to read from (QueryTGet only).
	Key  []byte    // The user key for the Query (empty for QueryTInfo).
}

// QueryResult is the result of a QueryTGet operation.
type QueryResult struct {
	Ok    bool
	Value []byte
}

// InfoResult is the result of a QueryTInfo operation.
type InfoResult struct {
	Apply apply.Info
	DB    db.DatabaseInfo
}
