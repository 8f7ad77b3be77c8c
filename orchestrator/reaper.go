package orchestrator

import (
	"time"

	"github.com/conductor-dev/conductor/log"
	"github.com/conductor-dev/conductor/session"
)

// StartReaper launches the background sweep that evicts sessions left
// idle past the configured timeout. Bookmarked and running sessions
// are never reaped. No-op when the reaper is disabled in config.
func (o *Orchestrator) StartReaper() {
	if !o.cfg.ReaperEnabled {
		log.Info().Msg("idle session reaper disabled")
		return
	}
	o.reaperStop = make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.ReapInterval)
		defer ticker.Stop()
		log.Info().
			Dur("idle_timeout", o.cfg.IdleTimeout).
			Dur("interval", o.cfg.ReapInterval).
			Msg("idle session reaper started")
		for {
			select {
			case <-o.reaperStop:
				return
			case <-ticker.C:
				o.reapIdle()
			}
		}
	}()
}

func (o *Orchestrator) stopReaper() {
	o.reaperOnce.Do(func() {
		if o.reaperStop != nil {
			close(o.reaperStop)
		}
	})
}

func (o *Orchestrator) reapIdle() {
	cutoff := time.Now().Add(-o.cfg.IdleTimeout)
	var stale []string
	for _, sess := range o.store.List() {
		if sess.IsBookmarked || sess.Status == session.StatusRunning {
			continue
		}
		if sess.LastActivityAt.Before(cutoff) {
			stale = append(stale, sess.ID)
		}
	}
	for _, id := range stale {
		log.Info().Str("session_id", id).Msg("reaping idle session")
		if err := o.DeleteSession(id, false, true); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to reap session")
		}
	}
}
