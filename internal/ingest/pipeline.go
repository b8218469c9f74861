// Package ingest implements the multi-file text-ingestion pipeline feeding
// the knowledge index.
//
// Each file in a batch is processed by its own task. Failure domains are
// isolated: one file failing (unsupported type, extraction error, index
// error) never cancels or affects the others, and Process returns once all
// tasks have settled, not once all have succeeded. Outcomes are reported
// through the per-batch status map, never as an error to the batch caller.
//
// The per-file state machine is forward-only:
//
//	queued → uploading → embedding → uploaded
//
// with failed reachable from uploading and embedding, and terminal.
//
// Abort cancels the running batch's context and discards the status map.
// Tasks blocked in extraction or an index call observe the cancellation and
// fail out; a task past its last suspension point may still run to
// completion, so abort is best-effort, not a hard barrier.
package ingest

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Status of one in-flight file.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusEmbedding Status = "embedding"
	StatusUploaded  Status = "uploaded"
	StatusFailed    Status = "failed"
)

// File is one batch entry: a name, its MIME type and the raw bytes.
type File struct {
	Name string
	Type string
	Data []byte
}

// Index is the knowledge-index collaborator. The pipeline treats any error
// as ingestion failure for that file and does not inspect its content.
type Index interface {
	AddDocument(ctx context.Context, title, text string) error
}

var filesIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ingest_files_total",
		Help: "Total number of ingested files, by terminal status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(filesIngested)
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithExtractor registers (or replaces) the extractor for a MIME type.
func WithExtractor(mime string, e Extractor) Option {
	return func(p *Pipeline) { p.extractors[mime] = e }
}

// WithConcurrency bounds the number of files processed at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// Pipeline ingests file batches into the knowledge index. It owns only its
// transient per-batch status map; it never touches the chat repository.
type Pipeline struct {
	index       Index
	extractors  map[string]Extractor
	concurrency int
	log         zerolog.Logger

	mu       sync.Mutex
	statuses map[string]Status
	cancel   context.CancelFunc
}

// New builds a pipeline over the given knowledge index.
func New(index Index, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		index:       index,
		extractors:  defaultExtractors(),
		concurrency: 4,
		log:         log,
		statuses:    make(map[string]Status),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ingests one batch. It blocks until every file has settled and
// never returns an error: per-file outcomes live in the status map.
func (p *Pipeline) Process(ctx context.Context, files []File) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.cancel = cancel
	p.statuses = make(map[string]Status, len(files))
	for _, f := range files {
		p.statuses[f.Name] = StatusQueued
	}
	p.mu.Unlock()

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, f := range files {
		wg.Add(1)
		go func(f File) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			p.processFile(batchCtx, f)
		}(f)
	}
	wg.Wait()
}

// Abort cancels the in-flight batch and discards its status bookkeeping.
func (p *Pipeline) Abort() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.statuses = make(map[string]Status)
	p.mu.Unlock()
}

// Status reports the current status of one file of the running batch.
func (p *Pipeline) Status(name string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.statuses[name]
	return s, ok
}

// Statuses returns a snapshot of the per-batch status map.
func (p *Pipeline) Statuses() map[string]Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Status, len(p.statuses))
	for k, v := range p.statuses {
		out[k] = v
	}
	return out
}

func (p *Pipeline) processFile(ctx context.Context, f File) {
	p.setStatus(f.Name, StatusUploading)

	extractor, ok := p.extractors[f.Type]
	if !ok {
		p.fail(f, ErrUnsupportedType)
		return
	}
	text, err := extractor.Extract(ctx, f.Data)
	if err != nil {
		p.fail(f, err)
		return
	}

	p.setStatus(f.Name, StatusEmbedding)
	if err := p.index.AddDocument(ctx, f.Name, text); err != nil {
		p.fail(f, err)
		return
	}

	p.setStatus(f.Name, StatusUploaded)
	filesIngested.WithLabelValues(string(StatusUploaded)).Inc()
	p.log.Debug().Str("file", f.Name).Msg("file ingested")
}

func (p *Pipeline) fail(f File, err error) {
	p.setStatus(f.Name, StatusFailed)
	filesIngested.WithLabelValues(string(StatusFailed)).Inc()
	p.log.Error().Err(err).Str("file", f.Name).Str("type", f.Type).Msg("file ingestion failed")
}

func (p *Pipeline) setStatus(name string, s Status) {
	p.mu.Lock()
	p.statuses[name] = s
	p.mu.Unlock()
}
