package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	pwcfg "github.com/boogy/permission-warden/pkg/config"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout is the default timeout for S3 operations
	DefaultTimeout = 10 * time.Second

	// DefaultRetries is the default number of retries for S3 operations
	DefaultRetries = 3

	// DefaultBatchSize is the default number of decisions to batch before writing to S3
	DefaultBatchSize = 25

	// DefaultMaxBatchAge is the default maximum time to wait before writing a batch
	DefaultMaxBatchAge = 30 * time.Second

	// DefaultMaxPending bounds the decisions held while S3 is unreachable
	DefaultMaxPending = 1000

	fileExtension = ".json.gz"
)

// Decision is one authorization outcome
type Decision struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"requestId"`
	Source     string    `json:"source,omitempty"` // transport that received the request
	Subject    string    `json:"subject,omitempty"`
	Permission string    `json:"permission"`
	Allowed    bool      `json:"allowed"`
	Code       string    `json:"code,omitempty"`
	Status     int       `json:"status"`
}

// Recorder receives authorization decisions
type Recorder interface {
	Record(d Decision)
	Flush() error
	Close() error
}

// s3ClientInterface defines the subset of S3 API methods used by the recorder
type s3ClientInterface interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Recorder batches decisions as JSON lines and ships them gzip-compressed to S3
type S3Recorder struct {
	bucket      string
	prefix      string
	batchSize   int
	maxBatchAge time.Duration
	maxPending  int

	s3Client    s3ClientInterface
	batch       [][]byte
	mu          sync.Mutex
	batchTimer  *time.Timer
	closed      bool
	flushing    bool      // a size-triggered upload is running
	lastFailure time.Time // size-triggered uploads pause for maxBatchAge after a failure
	dropped     int       // oldest decisions discarded since the last successful write
	ctx         context.Context
	cancel      context.CancelFunc
	timeNow     func() time.Time

	uploadMu sync.Mutex // serializes uploads so requeued batches keep their order
	inflight sync.WaitGroup
}

// Option configures an S3Recorder
type Option func(*S3Recorder)

// WithS3Client injects the S3 client instead of loading the default AWS config
func WithS3Client(client s3ClientInterface) Option {
	return func(r *S3Recorder) {
		r.s3Client = client
	}
}

// WithBatchSize sets the number of decisions to batch before writing to S3
func WithBatchSize(size int) Option {
	return func(r *S3Recorder) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithMaxBatchAge sets the maximum time to wait before writing a batch
func WithMaxBatchAge(age time.Duration) Option {
	return func(r *S3Recorder) {
		if age > 0 {
			r.maxBatchAge = age
		}
	}
}

// WithMaxPending sets how many decisions are kept while writes fail. The oldest are dropped first.
func WithMaxPending(n int) Option {
	return func(r *S3Recorder) {
		if n > 0 {
			r.maxPending = n
		}
	}
}

// WithClock replaces time.Now, used for decision times and object keys
func WithClock(now func() time.Time) Option {
	return func(r *S3Recorder) {
		r.timeNow = now
	}
}

// NewRecorder returns an S3 recorder when auditing is enabled and a no-op recorder otherwise.
func NewRecorder(cfg *pwcfg.Config, opts ...Option) (Recorder, error) {
	if cfg == nil || !cfg.AuditToS3 {
		return Nop{}, nil
	}
	return NewS3Recorder(cfg.AuditBucket, cfg.AuditPrefix, opts...)
}

// NewS3Recorder creates a recorder writing to bucket under prefix
func NewS3Recorder(bucket, prefix string, opts ...Option) (*S3Recorder, error) {
	if bucket == "" {
		return nil, errors.New("audit bucket is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &S3Recorder{
		bucket:      bucket,
		prefix:      prefix,
		batchSize:   DefaultBatchSize,
		maxBatchAge: DefaultMaxBatchAge,
		maxPending:  DefaultMaxPending,
		batch:       make([][]byte, 0),
		ctx:         ctx,
		cancel:      cancel,
		timeNow:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxPending < r.batchSize {
		r.maxPending = r.batchSize
	}

	if r.s3Client == nil {
		awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(DefaultRetries))
		if err != nil {
			cancel()
			slog.Error("Failed to load AWS config for audit recorder", slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		r.s3Client = s3.NewFromConfig(awsConfig)
	}

	slog.Debug("Audit recorder initialized",
		slog.String("bucket", r.bucket),
		slog.String("prefix", r.prefix))

	r.startBatchTimer()
	return r, nil
}

// startBatchTimer schedules the periodic flush
func (r *S3Recorder) startBatchTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batchTimer = time.AfterFunc(r.maxBatchAge, func() {
		if err := r.Flush(); err != nil {
			slog.Error("Failed to flush audit batch on timer", slog.String("error", err.Error()))
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.closed {
			r.batchTimer.Reset(r.maxBatchAge)
		}
	})
}

// Record queues a decision and starts a background write once the batch is full.
// It never waits on S3. Write failures are logged.
func (r *S3Recorder) Record(d Decision) {
	if d.Time.IsZero() {
		d.Time = r.timeNow().UTC()
	}

	line, err := json.Marshal(d)
	if err != nil {
		slog.Error("Failed to encode audit decision", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.batch = append(r.batch, line)
	r.trimPending()

	if len(r.batch) < r.batchSize || r.flushing || r.closed {
		return
	}
	if !r.lastFailure.IsZero() && r.timeNow().Sub(r.lastFailure) < r.maxBatchAge {
		// Backing off, the batch timer retries
		return
	}

	r.flushing = true
	r.inflight.Add(1)
	go r.flushAsync()
}

func (r *S3Recorder) flushAsync() {
	defer r.inflight.Done()

	if err := r.Flush(); err != nil {
		slog.Error("Failed to write audit batch", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	r.flushing = false
	r.mu.Unlock()
}

// trimPending drops the oldest decisions beyond maxPending. Caller must hold mu.
func (r *S3Recorder) trimPending() {
	over := len(r.batch) - r.maxPending
	if over <= 0 {
		return
	}

	if r.dropped == 0 {
		slog.Warn("Audit backlog full, dropping oldest decisions",
			slog.String("bucket", r.bucket),
			slog.Int("maxPending", r.maxPending))
	}
	r.dropped += over

	n := copy(r.batch, r.batch[over:])
	clear(r.batch[n:])
	r.batch = r.batch[:n]
}

// Flush forces all pending decisions to be written to S3. The batch is taken
// out under the lock and uploaded outside it, so Record is never blocked on S3.
// On failure the decisions are put back ahead of any recorded meanwhile.
func (r *S3Recorder) Flush() error {
	r.uploadMu.Lock()
	defer r.uploadMu.Unlock()

	r.mu.Lock()
	pending := r.batch
	r.batch = make([][]byte, 0, r.batchSize)
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	err := r.writeBatch(pending)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.batch = append(pending, r.batch...)
		r.trimPending()
		r.lastFailure = r.timeNow()
		return err
	}

	if r.dropped > 0 {
		slog.Warn("Audit writes resumed after dropping decisions",
			slog.String("bucket", r.bucket),
			slog.Int("dropped", r.dropped))
		r.dropped = 0
	}
	r.lastFailure = time.Time{}
	return nil
}

// writeBatch encodes lines as gzip-compressed JSON lines and writes them as one object
func (r *S3Recorder) writeBatch(lines [][]byte) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	compressed, err := compressGzip(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to compress audit data: %w", err)
	}

	return r.writeObject(r.objectKey(), compressed, len(lines))
}

// objectKey builds prefix/YYYY/MM/DD/<uuid>-<YYYYMMDD-HHMMSS>.json.gz
func (r *S3Recorder) objectKey() string {
	now := r.timeNow().UTC()
	parts := make([]string, 0, 3)
	if prefix := strings.Trim(r.prefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}

	parts = append(parts, fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day()))
	parts = append(parts, fmt.Sprintf("%s-%s%s", uuid.New().String(), now.Format("20060102-150405"), fileExtension))
	return strings.Join(parts, "/")
}

func (r *S3Recorder) writeObject(key string, body []byte, count int) error {
	ctx, cancel := context.WithTimeout(r.ctx, DefaultTimeout)
	defer cancel()

	_, err := r.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(r.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(body),
		ContentType:       aws.String("application/x-ndjson"),
		ContentEncoding:   aws.String("gzip"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		Metadata: map[string]string{
			"source":     "permission-warden",
			"created-at": r.timeNow().UTC().Format(time.RFC3339),
			"decisions":  fmt.Sprintf("%d", count),
		},
	})
	if err != nil {
		slog.Error("Failed to write audit batch to S3",
			slog.String("bucket", r.bucket),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to write audit batch to S3: %w", err)
	}

	slog.Debug("Wrote audit batch to S3",
		slog.String("bucket", r.bucket),
		slog.String("key", key),
		slog.Int("decisions", count),
		slog.Int("bytes", len(body)))
	return nil
}

// Close stops the batch timer, waits for background writes and flushes any remaining decisions
func (r *S3Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	if r.batchTimer != nil {
		r.batchTimer.Stop()
	}
	r.mu.Unlock()

	r.inflight.Wait()
	err := r.Flush()
	r.cancel()
	return err
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)

	if _, err := gzWriter.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}

	if err := gzWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Nop discards decisions
type Nop struct{}

func (Nop) Record(Decision) {}
func (Nop) Flush() error    { return nil }
func (Nop) Close() error    { return nil }
