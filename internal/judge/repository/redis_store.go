package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codelab/internal/common/cache"
	appErr "codelab/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	runKeyPrefix = "codelab:run:"

	formatJSON byte = 'j'
	formatZstd byte = 'z'

	defaultCompressThreshold = 4 * 1024
)

// RedisResultStore persists run records in Redis. Payloads above the
// compression threshold are stored zstd-compressed behind a format byte.
type RedisResultStore struct {
	cache             cache.Cache
	ttl               time.Duration
	compressThreshold int
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
}

// NewRedisResultStore creates a Redis-backed store.
func NewRedisResultStore(cacheClient cache.Cache, ttl time.Duration, compressThreshold int) (*RedisResultStore, error) {
	if cacheClient == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if compressThreshold <= 0 {
		compressThreshold = defaultCompressThreshold
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &RedisResultStore{
		cache:             cacheClient,
		ttl:               ttl,
		compressThreshold: compressThreshold,
		encoder:           enc,
		decoder:           dec,
	}, nil
}

// Save stores record under its run id.
func (s *RedisResultStore) Save(ctx context.Context, record RunRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	payload, err := s.encode(record)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, runKeyPrefix+record.RunID, string(payload), cache.JitterTTL(s.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "store run record failed")
	}
	return nil
}

// Get loads the record for runID.
func (s *RedisResultStore) Get(ctx context.Context, runID string) (RunRecord, error) {
	if runID == "" {
		return RunRecord{}, appErr.ValidationError("run_id", "required")
	}
	val, err := s.cache.Get(ctx, runKeyPrefix+runID)
	if err != nil {
		return RunRecord{}, appErr.Wrapf(err, appErr.CacheError, "load run record failed")
	}
	if val == "" {
		return RunRecord{}, runNotFound(runID)
	}
	return s.decode([]byte(val))
}

func (s *RedisResultStore) encode(record RunRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal run record failed: %w", err)
	}
	if len(data) < s.compressThreshold {
		return append([]byte{formatJSON}, data...), nil
	}
	out := make([]byte, 1, len(data)/2+1)
	out[0] = formatZstd
	return s.encoder.EncodeAll(data, out), nil
}

func (s *RedisResultStore) decode(payload []byte) (RunRecord, error) {
	if len(payload) == 0 {
		return RunRecord{}, appErr.New(appErr.CacheError).WithMessage("empty run record payload")
	}
	body := payload[1:]
	switch payload[0] {
	case formatJSON:
	case formatZstd:
		raw, err := s.decoder.DecodeAll(body, nil)
		if err != nil {
			return RunRecord{}, appErr.Wrapf(err, appErr.CacheError, "decompress run record failed")
		}
		body = raw
	default:
		return RunRecord{}, appErr.Newf(appErr.CacheError, "unknown run record format %q", payload[0])
	}
	var record RunRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return RunRecord{}, appErr.Wrapf(err, appErr.CacheError, "decode run record failed")
	}
	return record, nil
}
