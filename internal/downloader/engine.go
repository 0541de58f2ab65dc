// Package downloader implements the Download Engine: admits a URL,
// resolves a destination via the Path Policy, short-circuits against
// the catalog when possible, coalesces concurrent requests for the same
// content, and otherwise streams the remote body to a temp file while
// hashing it, verifying it, and atomically publishing it.
//
// The existing-file check, temp-file-then-rename publish, and hash
// verification follow the same shape as a plain CLI downloader,
// generalized to hash while streaming instead of after close and to
// emit an NDJSON progress stream instead of writing to the terminal.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modelregistry/internal/alias"
	"modelregistry/internal/catalog"
	"modelregistry/internal/credential"
	"modelregistry/internal/helpers"
	"modelregistry/internal/models"
	"modelregistry/internal/pathpolicy"
	"modelregistry/internal/urladmit"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Download Engine error kinds. Each is a sentinel so callers can
// classify failures with errors.Is.
var (
	ErrUrlForbidden   = errors.New("downloader: url forbidden")
	ErrHashMismatch   = errors.New("downloader: hash mismatch")
	ErrSizeMismatch   = errors.New("downloader: size mismatch")
	ErrHTTPStatus     = errors.New("downloader: unexpected http status")
	ErrFileSystem     = errors.New("downloader: filesystem error")
	ErrAliasCollision = errors.New("downloader: alias collision")
	ErrIdleTimeout    = errors.New("downloader: idle timeout")
)

// progressEventBacklog bounds how many events a subscriber channel can
// buffer before the publisher blocks on a slow consumer.
const progressEventBacklog = 64

// Engine is the Download Engine.
type Engine struct {
	policy      *pathpolicy.Policy
	catalog     *catalog.Catalog
	admitter    *urladmit.Admitter
	broker      *credential.Broker
	client      *http.Client
	idleTimeout time.Duration

	pendingMu sync.Mutex
	pending   map[string]*job
}

// New builds an Engine. client's Transport should already be the
// redacting transport from internal/api when request/response logging
// is enabled. idleTimeout bounds how long a fetch may go without making
// read progress on the response body; it is not a total-request
// deadline, so a healthy multi-gigabyte transfer is never aborted for
// simply taking a long time. Zero disables the idle check.
func New(policy *pathpolicy.Policy, cat *catalog.Catalog, admitter *urladmit.Admitter, broker *credential.Broker, client *http.Client, idleTimeout time.Duration) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &Engine{
		policy:      policy,
		catalog:     cat,
		admitter:    admitter,
		broker:      broker,
		client:      client,
		idleTimeout: idleTimeout,
		pending:     make(map[string]*job),
	}
}

// jobSubscriber is one caller waiting on a coalesced job. dstAbs is that
// caller's own requested destination, which may differ from whichever
// subscriber's destination becomes the canonical path.
type jobSubscriber struct {
	ch     chan models.ProgressEvent
	dstAbs string
}

// job is one in-flight (or recently finished) coalesced download, shared
// by every caller requesting the same content.
type job struct {
	mu          sync.Mutex
	subscribers map[int]*jobSubscriber
	nextSubID   int
	cancel      context.CancelFunc
	finished    bool
}

func newJob(cancel context.CancelFunc) *job {
	return &job{subscribers: make(map[int]*jobSubscriber), cancel: cancel}
}

func (j *job) subscribe(dstAbs string) (int, <-chan models.ProgressEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := j.nextSubID
	j.nextSubID++
	ch := make(chan models.ProgressEvent, progressEventBacklog)
	j.subscribers[id] = &jobSubscriber{ch: ch, dstAbs: dstAbs}
	return id, ch
}

// unsubscribe removes a subscriber. It returns true if that was the last
// subscriber and the job is not yet finished, meaning the caller should
// cancel the underlying fetch.
func (j *job) unsubscribe(id int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if sub, ok := j.subscribers[id]; ok {
		close(sub.ch)
		delete(j.subscribers, id)
	}
	return len(j.subscribers) == 0 && !j.finished
}

func (j *job) broadcast(ev models.ProgressEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, sub := range j.subscribers {
		select {
		case sub.ch <- ev:
		default:
			log.Warn("downloader: dropping progress event for slow subscriber")
		}
	}
}

// finishEach marks the job finished and sends every subscriber its own
// terminal event, computed by makeEvent from that subscriber's requested
// destination path. This is how a subscriber whose requested filename
// differs from the canonical one learns about (and gets) its own alias.
func (j *job) finishEach(makeEvent func(dstAbs string) models.ProgressEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = true
	for id, sub := range j.subscribers {
		ev := makeEvent(sub.dstAbs)
		select {
		case sub.ch <- ev:
		default:
		}
		close(sub.ch)
		delete(j.subscribers, id)
	}
}

// Subscription is returned by Download. Consume Events until it closes;
// call Close when the caller gives up early (e.g. an HTTP client
// disconnects), which lets the engine cancel an orphaned fetch.
type Subscription struct {
	Events <-chan models.ProgressEvent

	engine *Engine
	key    string
	subID  int
	once   sync.Once
}

// Close unsubscribes. If this was the last subscriber of an in-flight
// download, the underlying fetch is cancelled.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.engine.pendingMu.Lock()
		j, ok := s.engine.pending[s.key]
		s.engine.pendingMu.Unlock()
		if !ok {
			return
		}
		if shouldCancel := j.unsubscribe(s.subID); shouldCancel {
			j.cancel()
		}
	})
}

// Download runs the Download Engine algorithm and returns a
// Subscription streaming progress events for req. Short-circuit paths
// (AlreadyExists, AliasCreated) return a Subscription whose channel is
// already closed after the single terminal event.
func (e *Engine) Download(ctx context.Context, requestID string, req models.DownloadRequest) (*Subscription, error) {
	if _, err := e.admitter.Admit(req.URL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUrlForbidden, err)
	}

	dstAbs, err := e.policy.Resolve(req.Kind, req.Filename)
	if err != nil {
		return nil, err
	}

	if req.ExpectedSHA256 != "" {
		if sub, ok, err := e.shortCircuitByHash(req, dstAbs); err != nil {
			return nil, err
		} else if ok {
			return sub, nil
		}
	}

	if sub, ok, err := e.shortCircuitByPath(req, dstAbs); err != nil {
		return nil, err
	} else if ok {
		return sub, nil
	}

	key := req.ExpectedSHA256
	if key == "" {
		key = dstAbs
	}

	e.pendingMu.Lock()
	if existing, ok := e.pending[key]; ok {
		subID, ch := existing.subscribe(dstAbs)
		e.pendingMu.Unlock()
		return &Subscription{Events: ch, engine: e, key: key, subID: subID}, nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := newJob(cancel)
	e.pending[key] = j
	subID, ch := j.subscribe(dstAbs)
	e.pendingMu.Unlock()

	go e.run(jobCtx, requestID, req, dstAbs, key, j)

	return &Subscription{Events: ch, engine: e, key: key, subID: subID}, nil
}

func singleEventClosed(ev models.ProgressEvent) *Subscription {
	ch := make(chan models.ProgressEvent, 1)
	ch <- ev
	close(ch)
	return &Subscription{Events: ch}
}

// shortCircuitByHash resolves a download against the catalog when the
// caller already knows the expected hash.
func (e *Engine) shortCircuitByHash(req models.DownloadRequest, dstAbs string) (*Subscription, bool, error) {
	artifact, err := e.catalog.GetByHash(req.ExpectedSHA256)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if _, statErr := os.Stat(artifact.CanonicalPath); statErr != nil {
		// Canonical file is gone; treat as if the catalog entry didn't exist
		// and fall through to a real download.
		return nil, false, nil
	}

	if dstAbs == artifact.CanonicalPath {
		return singleEventClosed(models.ProgressEvent{Message: "Download complete", Path: artifact.CanonicalPath, SHA256: artifact.Hash}), true, nil
	}

	if err := e.materializeAlias(artifact.Hash, artifact.CanonicalPath, dstAbs); err != nil {
		return nil, false, err
	}
	return singleEventClosed(models.ProgressEvent{Message: "Download complete", Path: dstAbs, SHA256: artifact.Hash}), true, nil
}

// shortCircuitByPath resolves a download when the destination file
// already exists on disk, hashing it in place if the catalog doesn't
// already know it.
func (e *Engine) shortCircuitByPath(req models.DownloadRequest, dstAbs string) (*Subscription, bool, error) {
	if _, err := os.Stat(dstAbs); err != nil {
		return nil, false, nil
	}

	if existing, err := e.catalog.GetByPath(dstAbs); err == nil {
		return singleEventClosed(models.ProgressEvent{Message: "Download complete", Path: dstAbs, SHA256: existing.Hash}), true, nil
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return nil, false, err
	}

	hash, err := helpers.HashFile(dstAbs)
	if err != nil {
		return nil, false, fmt.Errorf("%w: hashing existing file %s: %v", ErrFileSystem, dstAbs, err)
	}
	if req.ExpectedSHA256 != "" && !strings.EqualFold(hash, req.ExpectedSHA256) {
		// The file on disk doesn't match what was requested; let the normal
		// fetch path overwrite it via a fresh download.
		return nil, false, nil
	}

	info, err := os.Stat(dstAbs)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	artifact := models.Artifact{
		Hash:          hash,
		CanonicalPath: dstAbs,
		SizeBytes:     uint64(info.Size()),
		SourceURL:     urladmit.StripCredentials(req.URL),
		Metadata: map[string]string{
			"filename":     filepath.Base(dstAbs),
			"folder":       req.Kind,
			"display_name": req.DisplayName,
		},
		AddedAt: time.Now().UTC(),
	}
	if err := e.catalog.AddArtifact(artifact); err != nil && !errors.Is(err, catalog.ErrConflict) {
		return nil, false, err
	}
	return singleEventClosed(models.ProgressEvent{Message: "Download complete", Path: dstAbs, SHA256: hash}), true, nil
}

func (e *Engine) materializeAlias(hash, canonicalPath, aliasPath string) error {
	if _, err := alias.Link(canonicalPath, aliasPath); err != nil {
		return fmt.Errorf("%w: %v", ErrAliasCollision, err)
	}
	if err := e.catalog.AddAlias(hash, aliasPath); err != nil {
		log.WithError(err).Warnf("downloader: alias materialized on disk but catalog insert failed for %s", aliasPath)
	}
	return nil
}

// run drives a freshly-started (uncoalesced) download through fetch,
// verify, and publish. It always removes the job from the pending map
// on exit.
func (e *Engine) run(ctx context.Context, requestID string, req models.DownloadRequest, dstAbs, key string, j *job) {
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, key)
		e.pendingMu.Unlock()
		if req.RequiresAuth {
			e.broker.Scrub(requestID, req.AuthProvider)
		}
	}()

	if req.Token != "" {
		e.broker.Put(requestID, req.AuthProvider, req.Token)
	}

	j.broadcast(models.ProgressEvent{Message: "Starting download", Bytes: 0})

	startedAt := time.Now().UTC()
	cleanURL := urladmit.StripCredentials(req.URL)

	finalPath, hash, size, err := e.fetch(ctx, requestID, req, dstAbs, j)
	completedAt := time.Now().UTC()
	if err != nil {
		log.WithError(err).WithField("url", cleanURL).Error("downloader: fetch failed")
		e.recordAttempt(models.DownloadAttempt{
			URL: cleanURL, DestPath: dstAbs, Status: models.AttemptStatusError,
			StartedAt: startedAt, CompletedAt: &completedAt, Error: err.Error(),
		})
		j.finishEach(func(string) models.ProgressEvent {
			return models.ProgressEvent{Error: err.Error()}
		})
		return
	}

	_ = size
	e.recordAttempt(models.DownloadAttempt{
		Hash: hash, URL: cleanURL, DestPath: finalPath, Status: models.AttemptStatusSuccess,
		StartedAt: startedAt, CompletedAt: &completedAt,
	})

	// Every coalesced subscriber gets its own requested path: whichever
	// subscriber's destination became the canonical file sees it
	// directly, everyone else gets a freshly materialized alias.
	j.finishEach(func(subDst string) models.ProgressEvent {
		if subDst == finalPath {
			return models.ProgressEvent{Message: "Download complete", Path: finalPath, SHA256: hash}
		}
		if err := e.materializeAlias(hash, finalPath, subDst); err != nil {
			log.WithError(err).WithField("path", subDst).Error("downloader: failed to materialize alias for coalesced subscriber")
			return models.ProgressEvent{Error: err.Error()}
		}
		return models.ProgressEvent{Message: "Download complete", Path: subDst, SHA256: hash}
	})
}

// recordAttempt appends an audit-trail row for operator visibility (the
// `stats` command). A failure here never fails the download itself.
func (e *Engine) recordAttempt(attempt models.DownloadAttempt) {
	if err := e.catalog.RecordAttempt(attempt); err != nil {
		log.WithError(err).Warn("downloader: failed to record download attempt")
	}
}

func (e *Engine) fetch(ctx context.Context, requestID string, req models.DownloadRequest, dstAbs string, j *job) (finalPath string, hash string, size uint64, err error) {
	tmpDir := e.policy.TmpDir()
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return "", "", 0, fmt.Errorf("%w: creating temp directory %s: %v", ErrFileSystem, tmpDir, err)
	}
	tmpPath := filepath.Join(tmpDir, uuid.NewString()+".part")

	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: creating temp file %s: %v", ErrFileSystem, tmpPath, err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	// fetchCtx is cancelled independently of ctx by the idle-timeout
	// watchdog below, so a stalled (not merely slow) connection is
	// abandoned without imposing any bound on total transfer time.
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("downloader: building request for %s: %w", urladmit.StripCredentials(req.URL), err)
	}
	if req.RequiresAuth {
		httpReq = e.broker.Attach(httpReq, requestID, req.AuthProvider)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", "", 0, fmt.Errorf("downloader: performing request for %s: %w", urladmit.StripCredentials(req.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", 0, fmt.Errorf("%w: %d from %s", ErrHTTPStatus, resp.StatusCode, urladmit.StripCredentials(req.URL))
	}

	body := io.ReadCloser(resp.Body)
	if e.idleTimeout > 0 {
		idleBody := newIdleTimeoutReader(resp.Body, e.idleTimeout, cancelFetch)
		defer idleBody.stop()
		body = idleBody
	}

	totalBytes := req.ExpectedSize
	if totalBytes == 0 {
		if resp.ContentLength > 0 {
			totalBytes = uint64(resp.ContentLength)
		}
	}

	hasher := sha256.New()
	reporter := newProgressReporter(j, totalBytes)
	writer := io.MultiWriter(tmpFile, hasher, reporter)

	written, err := io.Copy(writer, body)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.Canceled) && ctx.Err() == nil {
			return "", "", 0, fmt.Errorf("%w: no data received for %s from %s", ErrIdleTimeout, e.idleTimeout, urladmit.StripCredentials(req.URL))
		}
		return "", "", 0, fmt.Errorf("%w: streaming body to %s: %v", ErrFileSystem, tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", "", 0, fmt.Errorf("%w: closing temp file %s: %v", ErrFileSystem, tmpPath, err)
	}

	actualSize := uint64(written)
	if req.ExpectedSize != 0 && actualSize != req.ExpectedSize {
		return "", "", 0, fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, actualSize, req.ExpectedSize)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if req.ExpectedSHA256 != "" && !strings.EqualFold(digest, req.ExpectedSHA256) {
		return "", "", 0, fmt.Errorf("%w: got %s, expected %s", ErrHashMismatch, digest, req.ExpectedSHA256)
	}

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0700); err != nil {
		return "", "", 0, fmt.Errorf("%w: creating destination directory: %v", ErrFileSystem, err)
	}

	canonical, isNewCanonical, err := e.publish(digest, dstAbs, tmpPath)
	if err != nil {
		return "", "", 0, err
	}
	cleanup = false

	if isNewCanonical {
		artifact := models.Artifact{
			Hash:          digest,
			CanonicalPath: canonical,
			SizeBytes:     actualSize,
			SourceURL:     urladmit.StripCredentials(req.URL),
			Metadata: map[string]string{
				"filename":     filepath.Base(canonical),
				"folder":       req.Kind,
				"display_name": req.DisplayName,
			},
			AddedAt: time.Now().UTC(),
		}
		if err := e.catalog.AddArtifact(artifact); err != nil && !errors.Is(err, catalog.ErrConflict) {
			return "", "", 0, err
		}
	} else if canonical != dstAbs {
		if err := e.materializeAlias(digest, canonical, dstAbs); err != nil {
			return "", "", 0, err
		}
	}

	return canonical, digest, actualSize, nil
}

// publish finalizes a fetch: the canonical path for a hash is whichever
// destination first claims it. If another download already
// published this hash under a different path while this one was in
// flight (possible when the two requests were not coalesced, e.g. because
// one of them supplied no expected_sha256 and so used its destination
// path as the coalescing key), the freshly-downloaded bytes become an
// alias instead of a second canonical copy.
func (e *Engine) publish(hash, dstAbs, tmpPath string) (canonicalPath string, isNewCanonical bool, err error) {
	if existing, err := e.catalog.GetByHash(hash); err == nil {
		if _, statErr := os.Stat(existing.CanonicalPath); statErr == nil {
			_ = os.Remove(tmpPath)
			return existing.CanonicalPath, false, nil
		}
	}

	if err := renameAcrossFilesystems(tmpPath, dstAbs); err != nil {
		return "", false, fmt.Errorf("%w: publishing %s to %s: %v", ErrFileSystem, tmpPath, dstAbs, err)
	}
	return dstAbs, true, nil
}

// renameAcrossFilesystems renames src to dst, falling back to a streamed
// copy-then-remove whenever the rename fails, which covers the two paths
// being on different filesystems (EXDEV). The error is not inspected.
func renameAcrossFilesystems(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// idleTimeoutReader wraps a response body so a connection that stops
// making read progress is abandoned without bounding the total time a
// healthy transfer may take. Every successful Read resets the watchdog;
// if it ever fires, cancel aborts the in-flight read via its context.
type idleTimeoutReader struct {
	io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
}

func newIdleTimeoutReader(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutReader {
	return &idleTimeoutReader{ReadCloser: rc, timeout: timeout, timer: time.AfterFunc(timeout, cancel)}
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleTimeoutReader) stop() {
	r.timer.Stop()
}

// progressReporter is an io.Writer that emits NDJSON progress events to
// a job at a bounded rate: every 1% of a known total, or every 8MiB if
// the total is unknown.
type progressReporter struct {
	job            *job
	total          uint64
	written        uint64
	lastReportedAt uint64
}

func newProgressReporter(j *job, total uint64) *progressReporter {
	return &progressReporter{job: j, total: total}
}

const unknownTotalReportIntervalBytes = 8 << 20

func (p *progressReporter) Write(b []byte) (int, error) {
	n := len(b)
	p.written += uint64(n)

	threshold := p.total / 100
	if p.total == 0 {
		threshold = unknownTotalReportIntervalBytes
	}
	if threshold == 0 || p.written-p.lastReportedAt >= threshold {
		p.lastReportedAt = p.written
		progress := float64(p.written) / float64(p.total)
		var progressPtr *float64
		if p.total > 0 {
			progressPtr = &progress
		}
		p.job.broadcast(models.ProgressEvent{Progress: progressPtr, Bytes: p.written, TotalBytes: p.total})
	}
	return n, nil
}
