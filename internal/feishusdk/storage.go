package feishusdk

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bezelkit/BezelAgent/internal/env"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RunStorage writes per-group run outcomes into the configured bitable.
type RunStorage struct {
	client   *Client
	tableURL string
}

const maxRunRecordsPerRequest = 500

var (
	runLimiterOnce sync.Once
	runLimiter     *rateLimiter
)

// rateLimiter provides a simple fixed-interval limiter.
type rateLimiter struct {
	ticker *time.Ticker
}

func newRateLimiterFromEnv() *rateLimiter {
	val := env.String("FEISHU_REPORT_RPS", "")
	// Official rate limits: 50 RPS for writes, 20 RPS for reads.
	// We use 15 RPS as a safe default for both.
	rps := 15.0
	if val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err == nil && parsed > 0 && !math.IsInf(parsed, 0) && !math.IsNaN(parsed) {
			rps = parsed
		}
	}
	interval := time.Duration(float64(time.Second) / rps)
	if interval <= 0 {
		interval = time.Second
	}
	return &rateLimiter{ticker: time.NewTicker(interval)}
}

func (l *rateLimiter) wait(ctx context.Context) error {
	if l == nil || l.ticker == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ticker.C:
		return nil
	}
}

// NewRunStorage creates a run storage pointing at the provided table.
func NewRunStorage(client *Client, tableURL string) *RunStorage {
	if client == nil || strings.TrimSpace(tableURL) == "" {
		return nil
	}
	return &RunStorage{client: client, tableURL: strings.TrimSpace(tableURL)}
}

// NewRunStorageFromEnv initializes a run storage using the FEISHU env vars.
// Returns (nil, nil) when RUN_BITABLE_URL is unset so callers can treat
// reporting as optional.
func NewRunStorageFromEnv() (*RunStorage, error) {
	rawURL := env.String(EnvRunBitableURL, "")
	if rawURL == "" {
		return nil, nil
	}
	client, err := NewClientFromEnv()
	if err != nil {
		return nil, errors.Wrap(err, "feishu storage: init client failed")
	}
	log.Info().Str("tableURL", rawURL).Msg("feishu run reporting enabled")
	return NewRunStorage(client, rawURL), nil
}

// Write uploads a single record to the run table.
func (s *RunStorage) Write(ctx context.Context, record RunRecordInput) error {
	return s.writeRecords(ctx, []RunRecordInput{record})
}

// WriteBatch uploads multiple records to the run table using the
// batch_create API.
func (s *RunStorage) WriteBatch(ctx context.Context, records []RunRecordInput) error {
	if len(records) == 0 {
		return errors.New("feishu storage: no records provided for batch write")
	}
	return s.writeRecords(ctx, records)
}

func (s *RunStorage) writeRecords(ctx context.Context, records []RunRecordInput) error {
	if s == nil || s.client == nil {
		return errors.New("feishu storage: storage is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for start := 0; start < len(records); start += maxRunRecordsPerRequest {
		end := start + maxRunRecordsPerRequest
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		if err := s.writeChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *RunStorage) writeChunk(ctx context.Context, chunk []RunRecordInput) error {
	if len(chunk) == 0 {
		return nil
	}
	limiter := s.initLimiter()
	if err := limiter.wait(ctx); err != nil {
		return err
	}
	_, err := s.client.CreateRunRecords(ctx, s.tableURL, chunk, nil)
	if err != nil {
		return errors.Wrapf(err, "feishu storage: create %d run records failed", len(chunk))
	}
	return nil
}

func (s *RunStorage) initLimiter() *rateLimiter {
	runLimiterOnce.Do(func() {
		runLimiter = newRateLimiterFromEnv()
	})
	if runLimiter == nil {
		runLimiter = newRateLimiterFromEnv()
	}
	return runLimiter
}

// TableURL returns the configured bitable link.
func (s *RunStorage) TableURL() string {
	if s == nil {
		return ""
	}
	return s.tableURL
}
