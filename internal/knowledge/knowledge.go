// Package knowledge provides the append-only corpus of past failure
// signatures and the vector-similarity retrieval used during diagnosis
// escalation. Two backends exist: PostgreSQL with pgvector, and SQLite
// with in-application cosine similarity.
package knowledge

import (
	"context"
	"fmt"
	"time"
)

// Entry is one recorded failure: the aggregated signature plus the
// classification the escalated diagnosis produced. Entries are appended
// after successful escalations and never mutated or deleted.
type Entry struct {
	ID               int64
	FailureSignature string
	ErrorType        string
	Source           string
	RunID            string
	OccurredAt       time.Time
}

// Scored is an entry returned from a similarity search.
type Scored struct {
	Entry
	Similarity float32
}

// Store is the persistence contract for the corpus.
type Store interface {
	// Append records a new failure entry with its embedding. The write is
	// flushed before Append returns.
	Append(ctx context.Context, e Entry, vector []float32) error

	// Search returns the k entries most similar to the query vector,
	// most similar first.
	Search(ctx context.Context, vector []float32, k int) ([]Scored, error)

	// Close releases any resources held by the store.
	Close() error
}

// Open creates the store backend selected by kbType ("sqlite" or
// "postgres"). SQLite stores get their schema initialized on open.
func Open(ctx context.Context, kbType, url string) (Store, error) {
	switch kbType {
	case "sqlite":
		s, err := NewSQLiteStore(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		return NewPostgresStore(ctx, url)
	}
	return nil, fmt.Errorf("unknown knowledge base type: %s", kbType)
}
