/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/friendsincode/guildplay/internal/events"
	"github.com/friendsincode/guildplay/internal/telemetry"
)

// PlaylistLoader is a cursor over a playlist's entries. Entries are resolved
// one batch at a time; see Session.loadBatches.
type PlaylistLoader struct {
	SourceURL string
	Entries   []PlaylistEntry
	Cursor    int
	Total     int
	Loading   bool
	Added     int
	Skipped   int
	Batches   int
	StartedAt time.Time
}

func newPlaylistLoader(url string, entries []PlaylistEntry, total int) *PlaylistLoader {
	if total < len(entries) {
		total = len(entries)
	}
	return &PlaylistLoader{
		SourceURL: url,
		Entries:   entries,
		Total:     total,
		StartedAt: time.Now(),
	}
}

// Done reports whether every entry has been consumed.
func (l *PlaylistLoader) Done() bool { return l.Cursor >= len(l.Entries) }

// LoaderProgress summarizes a loader for display.
type LoaderProgress struct {
	SourceURL string `json:"source_url"`
	Cursor    int    `json:"cursor"`
	Total     int    `json:"total"`
	Added     int    `json:"added"`
	Skipped   int    `json:"skipped"`
	Loading   bool   `json:"loading"`
}

func (l *PlaylistLoader) progress() LoaderProgress {
	return LoaderProgress{
		SourceURL: l.SourceURL,
		Cursor:    l.Cursor,
		Total:     l.Total,
		Added:     l.Added,
		Skipped:   l.Skipped,
		Loading:   l.Loading,
	}
}

type batchOutcome int

const (
	batchAborted  batchOutcome = iota // loader replaced or session stopped
	batchArmed                        // lookahead item queued; it will trigger the next batch
	batchContinue                     // nothing can trigger the next batch; load it now
	batchComplete
)

// LoadPlaylist lists the playlist at url and starts progressive ingestion.
// It returns the number of entries found.
func (s *Session) LoadPlaylist(ctx context.Context, url string) (int, error) {
	s.notify("🎵 Extracting playlist information...")
	entries, total, err := s.deps.Resolver.ResolvePlaylist(ctx, url)
	if err != nil {
		s.logger.Error().Err(err).Str("url", url).Msg("playlist listing failed")
		s.notify(fmt.Sprintf("❌ Error processing playlist: %v", err))
		return 0, err
	}
	if len(entries) == 0 {
		s.logger.Warn().Str("url", url).Msg("playlist has no entries")
		s.notify("❌ Could not find playlist entries. Make sure the playlist is public.")
		return 0, ErrEmptyPlaylist
	}

	loader := newPlaylistLoader(url, entries, total)
	loader.Loading = true

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	if s.queue.loader != nil {
		s.logger.Info().Str("previous", s.queue.loader.SourceURL).Msg("replacing active playlist loader")
	}
	s.queue.loader = loader
	s.queue.processing = true
	epoch := s.epoch
	s.mu.Unlock()

	s.logger.Info().Str("url", url).Int("entries", len(entries)).Int("total", loader.Total).Msg("playlist ingestion started")
	s.notify(fmt.Sprintf("Found %d tracks in playlist. Starting processing...", loader.Total))
	go s.loadBatches(epoch, loader)
	return loader.Total, nil
}

// runContinuation interprets a dequeued item's continuation. Failures are
// logged and never reach the caller.
func (s *Session) runContinuation(epoch uint64, c Continuation) {
	switch c {
	case ContinuationNone:
	case ContinuationLoadNextBatch:
		s.mu.Lock()
		loader := s.queue.loader
		if epoch != s.epoch || loader == nil || loader.Loading || loader.Done() {
			s.mu.Unlock()
			return
		}
		loader.Loading = true
		s.mu.Unlock()
		go s.loadBatches(epoch, loader)
	default:
		telemetry.PlaybackFailuresTotal.WithLabelValues("continuation").Inc()
		s.logger.Warn().Err(fmt.Errorf("%w: unknown continuation %s", ErrContinuation, c)).Msg("continuation ignored")
	}
}

// loaderNeedsResumeLocked reports an incomplete loader that nothing is
// loading and no queued item will trigger.
func (s *Session) loaderNeedsResumeLocked() bool {
	l := s.queue.loader
	return l != nil && !l.Loading && !l.Done()
}

func (s *Session) ownsLoaderLocked(epoch uint64, loader *PlaylistLoader) bool {
	return !s.closed && epoch == s.epoch && s.queue.loader == loader
}

// loadBatches loads batches until one is armed with a lookahead trigger, the
// playlist is exhausted, or the loader is abandoned. The caller has set
// loader.Loading.
func (s *Session) loadBatches(epoch uint64, loader *PlaylistLoader) {
	for {
		switch s.loadBatch(epoch, loader) {
		case batchContinue:
			continue
		default:
			return
		}
	}
}

type entryResult struct {
	track Track
	err   error
}

// loadBatch resolves the entries in [cursor, cursor+BatchSize) with bounded
// concurrency and enqueues the successes in playlist order as soon as every
// earlier entry has settled.
func (s *Session) loadBatch(epoch uint64, loader *PlaylistLoader) batchOutcome {
	s.mu.Lock()
	if !s.ownsLoaderLocked(epoch, loader) {
		s.mu.Unlock()
		return batchAborted
	}
	start := loader.Cursor
	end := min(start+s.cfg.BatchSize, len(loader.Entries))
	batch := append([]PlaylistEntry(nil), loader.Entries[start:end]...)
	loader.Batches++
	batchNo := loader.Batches
	s.mu.Unlock()

	if len(batch) == 0 {
		s.finishLoader(epoch, loader)
		return batchComplete
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	results := make([]entryResult, len(batch))
	settled := make([]chan struct{}, len(batch))
	for i := range settled {
		settled[i] = make(chan struct{})
	}

	sem := semaphore.NewWeighted(int64(s.cfg.BatchConcurrency))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range batch {
		g.Go(func() error {
			defer close(settled[i])
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i].err = err
				return nil
			}
			defer sem.Release(1)
			results[i].track, results[i].err = s.deps.Resolver.ResolveEntry(gctx, entry)
			return nil
		})
	}

	added, skipped := 0, 0
	var lookaheadID, lastID string
	for i := range batch {
		<-settled[i]
		r := results[i]
		if r.err != nil {
			skipped++
			telemetry.PlaylistEntriesTotal.WithLabelValues("skipped").Inc()
			s.logger.Debug().Err(r.err).Str("url", batch[i].URL).Msg("skipping playlist entry")
			continue
		}

		item := newItem(r.track)
		s.mu.Lock()
		if !s.ownsLoaderLocked(epoch, loader) {
			s.mu.Unlock()
			cancel()
			_ = g.Wait()
			return batchAborted
		}
		if added == s.cfg.LookaheadIndex {
			item.Continuation = ContinuationLoadNextBatch
			lookaheadID = item.ID
		}
		s.queue.Enqueue(item, -1)
		begin := s.claimStartLocked()
		s.observeQueueLocked()
		s.mu.Unlock()

		added++
		lastID = item.ID
		telemetry.PlaylistEntriesTotal.WithLabelValues("added").Inc()
		if begin {
			s.logger.Info().Str("title", r.track.Title).Msg("starting playback from playlist")
			s.post(sessionEvent{kind: evPlayNext, epoch: epoch})
		}
	}
	_ = g.Wait()
	telemetry.PlaylistBatchesTotal.Inc()

	s.mu.Lock()
	if !s.ownsLoaderLocked(epoch, loader) {
		s.mu.Unlock()
		return batchAborted
	}
	loader.Cursor = end
	loader.Added += added
	loader.Skipped += skipped
	progress := loader.progress()
	done := loader.Done()

	outcome := batchContinue
	switch {
	case done:
		outcome = batchComplete
	case lookaheadID != "" && s.queue.armed():
		outcome = batchArmed
	case lookaheadID == "" && lastID != "" && s.queue.Attach(lastID, ContinuationLoadNextBatch):
		outcome = batchArmed
	}
	if outcome == batchArmed {
		loader.Loading = false
	}
	s.mu.Unlock()

	elapsed := time.Since(loader.StartedAt)
	s.logger.Info().
		Int("batch", batchNo).
		Int("added", added).
		Int("skipped", skipped).
		Int("cursor", progress.Cursor).
		Int("total", progress.Total).
		Dur("elapsed", elapsed).
		Msg("playlist batch loaded")
	s.publish(events.EventPlaylistProgress, events.Payload{
		"batch":   batchNo,
		"added":   added,
		"skipped": skipped,
		"cursor":  progress.Cursor,
		"total":   progress.Total,
	})

	if outcome == batchComplete {
		s.finishLoader(epoch, loader)
		return batchComplete
	}
	s.notify(fmt.Sprintf("✅ Progress: %d/%d tracks processed (%d added, %d skipped, %.1fs)",
		progress.Cursor, progress.Total, progress.Added, progress.Skipped, elapsed.Seconds()))

	if added == 0 {
		s.logger.Warn().Int("batch", batchNo).Msg("batch produced no playable entries; loading next batch")
	}
	return outcome
}

// finishLoader retires a fully consumed loader and reports the totals.
func (s *Session) finishLoader(epoch uint64, loader *PlaylistLoader) {
	s.mu.Lock()
	if !s.ownsLoaderLocked(epoch, loader) {
		s.mu.Unlock()
		return
	}
	loader.Loading = false
	s.queue.loader = nil
	s.queue.processing = false
	added, skipped := loader.Added, loader.Skipped
	s.mu.Unlock()

	elapsed := time.Since(loader.StartedAt)
	s.logger.Info().Str("url", loader.SourceURL).Int("added", added).Int("skipped", skipped).Dur("elapsed", elapsed).Msg("playlist ingestion finished")
	s.notify(fmt.Sprintf("✅ Finished processing playlist!\nAdded: %d tracks\nSkipped: %d tracks\nTime taken: %.2f seconds",
		added, skipped, elapsed.Seconds()))
	s.publish(events.EventPlaylistDone, events.Payload{"added": added, "skipped": skipped, "url": loader.SourceURL})
}
