package store

import (
	"context"
	"database/sql"
	"errors"
)

// CheckCache touches last_accessed and access_count, returning the stored
// metadata for a tier-2 cache hit, or nil if no entry exists.
func (s *Store) CheckCache(ctx context.Context, outputFile, contentHash string) ([]byte, error) {
	var metadata []byte

	err := withBusyRetry(ctx, func() error {
		conn, err := s.beginImmediate(ctx)
		if err != nil {
			return err
		}

		runErr := func() error {
			row := conn.QueryRowContext(ctx, `
				SELECT result_metadata FROM result_cache_entries
				WHERE output_file = ? AND content_hash = ?`, outputFile, contentHash)
			if scanErr := row.Scan(&metadata); errors.Is(scanErr, sql.ErrNoRows) {
				metadata = nil

				return nil
			} else if scanErr != nil {
				return scanErr
			}

			if metadata == nil {
				metadata = []byte{}
			}

			_, execErr := conn.ExecContext(ctx, `
				UPDATE result_cache_entries SET last_accessed = ?, access_count = access_count + 1
				WHERE output_file = ? AND content_hash = ?`, s.clock.NowNano(), outputFile, contentHash)

			return execErr
		}()

		return commitImmediate(ctx, conn, runErr)
	})

	return metadata, err
}

// PutCache upserts a tier-2 cache entry.
func (s *Store) PutCache(ctx context.Context, outputFile, contentHash string, metadata []byte) error {
	now := s.clock.NowNano()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO result_cache_entries (output_file, content_hash, result_metadata, created_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (output_file, content_hash) DO UPDATE SET
			result_metadata = excluded.result_metadata,
			last_accessed = excluded.last_accessed`,
		outputFile, contentHash, metadata, now, now)

	return err
}

// GetStoredResult fetches the tier-1 cached artifact bytes, or nil if absent.
func (s *Store) GetStoredResult(ctx context.Context, inputFile, contentHash, outputMetadataFingerprint string) (*StoredResult, error) {
	var r StoredResult
	r.InputFile = inputFile
	r.ContentHash = contentHash
	r.OutputMetadataFingerprint = outputMetadataFingerprint

	err := s.db.QueryRowContext(ctx, `
		SELECT result_bytes, created_at FROM stored_results
		WHERE input_file = ? AND content_hash = ? AND output_metadata_fingerprint = ?`,
		inputFile, contentHash, outputMetadataFingerprint,
	).Scan(&r.ResultBytes, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &r, nil
}

// PutStoredResult upserts the tier-1 artifact bytes.
func (s *Store) PutStoredResult(ctx context.Context, inputFile, contentHash, outputMetadataFingerprint string, resultBytes []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stored_results (input_file, content_hash, output_metadata_fingerprint, result_bytes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (input_file, content_hash, output_metadata_fingerprint) DO UPDATE SET
			result_bytes = excluded.result_bytes`,
		inputFile, contentHash, outputMetadataFingerprint, resultBytes, s.clock.NowNano())

	return err
}
