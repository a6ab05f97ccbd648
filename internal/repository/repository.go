// Package repository provides data access interfaces and their SQLite implementations
// for the research trend service.
//
// # Repository Interfaces
//
//   - PublicationRepository: immutable publication rows keyed by id
//   - QueryRepository: per combination/year fetch results and their reference union
//   - TokenRepository: per combination/year fetch attempt markers
//   - ScopeRepository: registered research scopes
//   - TermRepository: per publication terms and per scope biterm weights
//   - DerivedRepository: candidates, time series and predictions of the pipeline
//
// # Storage Format
//
// List columns hold comma-joined text and timestamps are unix seconds, so store files
// written by earlier tools stay readable.
//
// # Transactions
//
// Every constructor accepts DBTX, so a repository can be bound to the store or to a
// transaction obtained from database.DB.WithTransaction:
//
//	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
//	    if _, err := repository.NewSqlitePublicationRepository(tx).InsertMissing(ctx, pubs); err != nil {
//	        return err
//	    }
//	    return repository.NewSqliteQueryRepository(tx).Upsert(ctx, record)
//	})
package repository

import (
	"strings"
	"time"

	"github.com/helixir/research-trend-service/internal/database"
)

// DBTX is the database interface supporting both store and transaction contexts.
type DBTX = database.DBTX

// idChunkSize bounds the number of bound parameters per IN clause.
const idChunkSize = 500

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// chunkIDs splits ids into slices of at most size entries.
func chunkIDs(ids []uint64, size int) [][]uint64 {
	var chunks [][]uint64
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func idArgs(ids []uint64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	return args
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
