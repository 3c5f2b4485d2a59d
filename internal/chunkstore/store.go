// Package chunkstore keeps the in-memory index over persisted chunks, ranks chunks for
// retrieval, and writes new chunks to the taxonomy tree in the background.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/metrics"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/parser"
	"github.com/starford/ctxstore/internal/storage"
	"github.com/starford/ctxstore/internal/taxonomy"
	"github.com/starford/ctxstore/internal/tree"
)

// Defaults for Limits.
const (
	DefaultMaxContentChars = 300
	DefaultRecencyWindow   = 1000
	DefaultLoadPerBucket   = 100
	DefaultLimit           = 6

	queueSize = 256
)

// ErrClosed is returned by Store after Close.
var ErrClosed = errors.New("chunkstore: closed")

// Limits bounds content size, the recency window, startup cost and result count.
type Limits struct {
	MaxContentChars int
	RecencyWindow   int
	LoadPerBucket   int
	DefaultLimit    int
}

func (l *Limits) applyDefaults() {
	if l.MaxContentChars <= 0 {
		l.MaxContentChars = DefaultMaxContentChars
	}
	if l.RecencyWindow <= 0 {
		l.RecencyWindow = DefaultRecencyWindow
	}
	if l.LoadPerBucket <= 0 {
		l.LoadPerBucket = DefaultLoadPerBucket
	}
	if l.DefaultLimit <= 0 {
		l.DefaultLimit = DefaultLimit
	}
}

// Observer is called after a chunk enters the index, from the goroutine that added it.
type Observer func(c models.Chunk)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Store) {
		if c != nil {
			s.metrics = c
		}
	}
}

// WithObserver registers a callback for newly indexed chunks.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithLimits overrides the defaults; zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(s *Store) { s.limits = l }
}

// WithClock replaces time.Now for chunk creation times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type job struct {
	task     *Task
	insights []models.Insight
	source   models.Source
}

// Store owns the index and is its only writer. All writes go through one background
// goroutine, so ids are allocated without races; retrievals take a read lock.
type Store struct {
	tree     *tree.Manager
	logger   *slog.Logger
	metrics  metrics.Collector
	observer Observer
	limits   Limits
	now      func() time.Time

	initMu sync.Mutex

	mu      sync.RWMutex
	fs      storage.Provider // nil until Initialize
	index   *Index
	counter int

	qmu     sync.RWMutex
	closed  bool
	jobs    chan *job
	stopped chan struct{}
}

// New creates a store over the tree managed by tm. Call Initialize before use.
func New(tm *tree.Manager, opts ...Option) *Store {
	s := &Store{
		tree:    tm,
		logger:  slog.Default(),
		metrics: metrics.NewNoopCollector(),
		now:     time.Now,
		jobs:    make(chan *job, queueSize),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limits.applyDefaults()
	s.index = newIndex(s.limits.RecencyWindow)
	return s
}

// Root returns the context root directory.
func (s *Store) Root() string { return s.tree.Root() }

// Initialize ensures the tree exists, rebuilds the index from disk and starts the
// background writer. Calling it again is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready() {
		return nil
	}

	start := time.Now()
	res := s.tree.InitializeTree()
	for _, e := range res.Errors {
		s.logger.Warn("chunkstore: tree init", slog.String("error", e))
	}

	fsys, err := storage.NewFS(s.tree.Root())
	if err != nil {
		return fmt.Errorf("chunkstore: open root: %w", err)
	}

	chunks, maxSeq, err := s.load(ctx, fsys)
	if err != nil {
		return err
	}

	ix := newIndex(s.limits.RecencyWindow)
	for _, c := range chunks {
		ix.add(c)
	}

	s.mu.Lock()
	s.index = ix
	s.counter = maxSeq
	s.fs = fsys
	st := ix.stats()
	s.mu.Unlock()

	go s.run()

	s.reportSize(ctx, st)
	s.logger.Info("chunkstore: index rebuilt",
		slog.String("root", fsys.Root()),
		slog.Int("chunks", st.TotalChunks),
		slog.Int("counter", maxSeq),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (s *Store) ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fs != nil
}

// load parses the newest files of every bucket and returns them in replay order,
// oldest first. The id counter seed covers every file name on disk, loaded or not.
func (s *Store) load(ctx context.Context, fsys storage.Provider) ([]*models.Chunk, int, error) {
	var (
		out    []*models.Chunk
		maxSeq int
	)
	for _, leaf := range taxonomy.Leaves() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		files, err := s.tree.ListFiles(leaf.Category, leaf.Subcategory)
		if err != nil {
			s.logger.Warn("chunkstore: list bucket failed", slog.String("bucket", leaf.Key()), slog.String("error", err.Error()))
			continue
		}
		for _, f := range files {
			if seq, ok := sequence(strings.TrimSuffix(filepath.Base(f), ".md")); ok && seq > maxSeq {
				maxSeq = seq
			}
		}
		sort.SliceStable(files, func(i, j int) bool { return newerName(files[i], files[j]) })
		if len(files) > s.limits.LoadPerBucket {
			files = files[:s.limits.LoadPerBucket]
		}
		for _, f := range files {
			c, err := s.readChunk(fsys, f, leaf.Category, leaf.Subcategory)
			if err != nil {
				s.logger.Debug("chunkstore: skipping file", slog.String("path", f), slog.String("error", err.Error()))
				continue
			}
			if seq, ok := sequence(c.ID); ok && seq > maxSeq {
				maxSeq = seq
			}
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return olderChunk(out[i], out[j]) })
	return out, maxSeq, nil
}

func (s *Store) readChunk(fsys storage.Provider, abs, category, subcategory string) (*models.Chunk, error) {
	rel, err := filepath.Rel(fsys.Root(), abs)
	if err != nil {
		return nil, err
	}
	data, err := fsys.Read(rel)
	if err != nil {
		return nil, err
	}
	return parser.ParseChunk(data, category, subcategory)
}

// sequence returns the numeric suffix of an id or file stem.
func sequence(id string) (int, bool) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// newerName orders file paths by descending numeric suffix, then descending name.
func newerName(a, b string) bool {
	sa, oka := sequence(strings.TrimSuffix(filepath.Base(a), ".md"))
	sb, okb := sequence(strings.TrimSuffix(filepath.Base(b), ".md"))
	if oka && okb && sa != sb {
		return sa > sb
	}
	if oka != okb {
		return oka
	}
	return a > b
}

func olderChunk(a, b *models.Chunk) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.Before(b.Created)
	}
	sa, _ := sequence(a.ID)
	sb, _ := sequence(b.ID)
	if sa != sb {
		return sa < sb
	}
	return a.ID < b.ID
}

// Store queues insights for persistence and returns immediately. The insights of one
// call are written in order by the background writer; invalid ones are skipped and
// reported through the task.
func (s *Store) Store(ctx context.Context, insights []models.Insight, source models.Source) (*Task, error) {
	if !s.ready() {
		return nil, apperr.ErrNotInitialized
	}
	if !source.Valid() {
		source = models.SourceUserPrompt
	}

	j := &job{task: newTask(), insights: insights, source: source}

	s.qmu.RLock()
	defer s.qmu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.logger.Debug("chunkstore: batch queued", slog.String("task", j.task.ID), slog.Int("insights", len(insights)))
	return j.task, nil
}

// Close stops accepting batches, waits for queued ones to finish and stops the writer.
func (s *Store) Close() error {
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.qmu.Unlock()

	if s.ready() {
		<-s.stopped
	}
	return nil
}

func (s *Store) run() {
	defer close(s.stopped)
	for j := range s.jobs {
		s.process(j)
	}
}

func (s *Store) process(j *job) {
	ctx := context.Background()
	start := time.Now()
	var (
		ids  []string
		errs []error
	)
	for i, in := range j.insights {
		c, err := s.persist(in, j.source)
		if err != nil {
			s.logger.Warn("chunkstore: insight not stored",
				slog.String("task", j.task.ID),
				slog.Int("index", i),
				slog.String("error", err.Error()))
			s.metrics.RecordError(ctx, "store", errorType(err))
			errs = append(errs, fmt.Errorf("insight %d: %w", i, err))
			continue
		}
		ids = append(ids, c.ID)
	}

	status := metrics.StatusSuccess
	if len(errs) > 0 {
		status = metrics.StatusError
	}
	s.metrics.RecordOperation(ctx, "store", status, time.Since(start).Milliseconds())
	s.reportSize(ctx, s.Stats())
	s.logger.Info("chunkstore: batch stored",
		slog.String("task", j.task.ID),
		slog.Int("stored", len(ids)),
		slog.Int("rejected", len(errs)))

	j.task.finish(TaskResult{IDs: ids, Err: errors.Join(errs...)})
}

func errorType(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidTaxonomy):
		return "taxonomy"
	case errors.Is(err, apperr.ErrInvalidInsight):
		return "validation"
	default:
		return "io"
	}
}

func (s *Store) persist(in models.Insight, source models.Source) (*models.Chunk, error) {
	in, err := sanitizeInsight(in, s.limits.MaxContentChars)
	if err != nil {
		return nil, err
	}

	c := &models.Chunk{
		Created:     s.now().UTC().Truncate(time.Millisecond),
		Keywords:    in.Keywords,
		Confidence:  in.Confidence,
		Source:      source,
		Category:    in.Category,
		Subcategory: in.Subcategory,
		Content:     in.Content,
	}
	for {
		s.mu.Lock()
		s.counter++
		c.ID = fmt.Sprintf("%s-%s-%03d", strings.ToLower(in.Category), in.Subcategory, s.counter)
		fsys := s.fs
		s.mu.Unlock()

		data, err := parser.FormatChunk(c)
		if err != nil {
			return nil, err
		}
		err = fsys.Create(path.Join(in.Category, in.Subcategory, c.ID+".md"), data)
		if err == nil {
			break
		}
		// another process or an external copy took this name; move past it
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
	}

	s.mu.Lock()
	added := s.index.add(c)
	s.mu.Unlock()
	if added && s.observer != nil {
		s.observer(*c)
	}
	return c, nil
}

// Retrieve ranks indexed chunks against the query. limit <= 0 uses the configured default.
// A query with no non-blank keyword or category fails with apperr.ErrNoQuery: recency and
// confidence alone would rank every chunk.
func (s *Store) Retrieve(ctx context.Context, keywords, categories []string, limit int) ([]models.ScoredChunk, error) {
	if limit <= 0 {
		limit = s.limits.DefaultLimit
	}
	start := time.Now()

	q := normalizeQuery(keywords, categories)
	s.mu.RLock()
	if s.fs == nil {
		s.mu.RUnlock()
		return nil, apperr.ErrNotInitialized
	}
	if q.empty() {
		s.mu.RUnlock()
		return nil, apperr.ErrNoQuery
	}
	out := s.index.rank(q, limit)
	s.mu.RUnlock()

	status := metrics.StatusSuccess
	if len(out) == 0 {
		status = metrics.StatusEmpty
	}
	s.metrics.RecordOperation(ctx, "retrieve", status, time.Since(start).Milliseconds())
	return out, nil
}

// Get returns a chunk by id.
func (s *Store) Get(id string) (models.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.index.get(id)
	if !ok {
		return models.Chunk{}, false
	}
	return *c, true
}

// ByKeyword returns the chunks that declared keyword, in insertion order.
func (s *Store) ByKeyword(keyword string) []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.index.byKeyword(keyword))
}

// ByBucket returns the chunks filed under category/subcategory, in insertion order.
func (s *Store) ByBucket(category, subcategory string) []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.index.byBucket(taxonomy.Key(category, subcategory)))
}

func (s *Store) collect(ids []string) []models.Chunk {
	out := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.index.get(id); ok {
			out = append(out, *c)
		}
	}
	return out
}

// Stats summarizes the index.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.stats()
}

func (s *Store) reportSize(ctx context.Context, st Stats) {
	s.metrics.SetIndexSize(ctx, "chunks", int64(st.TotalChunks))
	s.metrics.SetIndexSize(ctx, "keywords", int64(st.Keywords))
	s.metrics.SetIndexSize(ctx, "buckets", int64(st.Categories))
	s.metrics.SetIndexSize(ctx, "recent", int64(st.RecentChunks))
}
