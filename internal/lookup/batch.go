package lookup

import (
	"context"
	"slices"
	"time"

	"tagify/internal/metadata"
	"tagify/internal/metrics"
)

// Result pairs a track with its lookup outcome. Err is set for failures that
// retrying cannot fix, such as a file name that does not match the pattern.
type Result struct {
	Track   metadata.Track
	Outcome metadata.Outcome
	Err     error
}

// LookupBatch looks up tracks one after another and streams the results. A
// throttled track stays at the head of the queue until a provider admits it.
// A track whose providers could not be reached is retried up to MaxAttempts
// times. Artwork is resolved once a track has matched.
//
// progress, when set, is called after every track with the number of tracks
// processed so far. The channel is closed when the queue is drained or ctx is
// cancelled.
func (o *Orchestrator) LookupBatch(ctx context.Context, tracks []metadata.Track, strategy metadata.Strategy, progress func(done, total int)) <-chan Result {
	results := make(chan Result)
	queue := slices.Clone(tracks)
	total := len(queue)

	go func() {
		defer close(results)

		done, failures := 0, 0
		for len(queue) > 0 {
			if ctx.Err() != nil {
				return
			}
			track := queue[0]

			a, err := o.lookup(ctx, track, strategy, false)
			if err == nil && ctx.Err() == nil {
				if a.out.Throttled && len(a.out.Candidates) == 0 {
					metrics.IncBatchDeferral()
					o.logger.Debug("Rate limited, deferring %s", track.Path)
					if !sleep(ctx, o.cfg.RetryDelay) {
						return
					}
					continue
				}
				if !a.answered && failures+1 < o.cfg.MaxAttempts {
					failures++
					o.logger.Debug("No provider reachable for %s (attempt %d/%d)", track.Path, failures, o.cfg.MaxAttempts)
					if !sleep(ctx, o.cfg.RetryDelay) {
						return
					}
					continue
				}
			}
			if ctx.Err() != nil {
				return
			}
			queue = queue[1:]
			failures = 0

			if err == nil && a.out.Success {
				a.out.Candidates = o.resolveStage(ctx, strategy, a.out.Candidates)
			}
			record(strategy, a.out, err)
			if err != nil {
				o.logger.Warn("Lookup failed for %s: %v", track.Path, err)
			}

			select {
			case results <- Result{Track: track, Outcome: a.out, Err: err}:
			case <-ctx.Done():
				return
			}
			done++
			if progress != nil {
				progress(done, total)
			}
		}
	}()

	return results
}

// resolveStage fetches artwork for a matched track. Fingerprint matches only
// resolve their top candidate.
func (o *Orchestrator) resolveStage(ctx context.Context, strategy metadata.Strategy, cands []metadata.Candidate) []metadata.Candidate {
	if len(cands) == 0 {
		return cands
	}
	if strategy == metadata.StrategyFingerprint {
		cands = slices.Clone(cands)
		cands[0] = o.resolveArtwork(ctx, cands[0])
		return cands
	}
	return o.resolveAll(ctx, cands)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
