package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Embeddings are stored as
// little-endian float32 blobs and similarity is computed in application
// memory, which is fine for the corpus sizes one pipeline accumulates
// (well under 10K entries).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath (":memory:" works for
// tests) and verifies connectivity.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// WAL keeps the synchronous append-then-flush policy cheap.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the corpus table if it does not exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS failure_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			failure_signature TEXT NOT NULL,
			error_type TEXT NOT NULL,
			source TEXT NOT NULL,
			run_id TEXT,
			embedding BLOB,
			occurred_at TEXT DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_failure_history_error_type ON failure_history(error_type);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Append records a new failure entry with its embedding.
func (s *SQLiteStore) Append(ctx context.Context, e Entry, vector []float32) error {
	query := `
		INSERT INTO failure_history (failure_signature, error_type, source, run_id, embedding)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, e.FailureSignature, e.ErrorType, e.Source, e.RunID, encodeVector(vector))
	if err != nil {
		return fmt.Errorf("failed to append knowledge entry: %w", err)
	}
	return nil
}

// scoredRow is an internal type for sorting entries by similarity.
type scoredRow struct {
	Scored
	score float32
}

// Search loads all embeddings and ranks them by cosine similarity in the
// application layer, returning the top k.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int) ([]Scored, error) {
	query := `
		SELECT id, failure_signature, error_type, source, run_id, embedding, occurred_at
		FROM failure_history
		WHERE embedding IS NOT NULL
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge entries: %w", err)
	}
	defer rows.Close()

	var results []scoredRow
	for rows.Next() {
		var sc Scored
		var embeddingBlob []byte
		var runID sql.NullString
		var occurredAtStr string
		err := rows.Scan(
			&sc.ID,
			&sc.FailureSignature,
			&sc.ErrorType,
			&sc.Source,
			&runID,
			&embeddingBlob,
			&occurredAtStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
		}
		sc.RunID = runID.String
		sc.OccurredAt, _ = parseTimestamp(occurredAtStr)

		stored := decodeVector(embeddingBlob)
		if len(stored) > 0 && len(stored) == len(vector) {
			sc.Similarity = cosineSimilarity(vector, stored)
			results = append(results, scoredRow{Scored: sc, score: sc.Similarity})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge entries: %w", err)
	}

	// Sort by similarity score (highest first)
	sort.Slice(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	topK := min(k, len(results))
	out := make([]Scored, topK)
	for i := range topK {
		out[i] = results[i].Scored
	}
	return out, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeVector converts a float32 slice to a byte slice for storage.
// Each float32 is encoded as 4 bytes in little-endian format.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector converts a byte slice back to a float32 slice.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// For normalized embedding vectors this is equivalent to dot product.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// parseTimestamp parses a SQLite timestamp string to time.Time.
// SQLite stores timestamps as TEXT in ISO8601/RFC3339 format.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02T15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
