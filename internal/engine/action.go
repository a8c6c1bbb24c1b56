package engine

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/job"
	"github.com/JakeFAU/grail/internal/metrics"
	"github.com/JakeFAU/grail/internal/progress"
)

// action tracks one render or extract for progress reporting.
type action struct {
	engine *Engine
	id     uuid.UUID
	op     string
	url    string
	site   string
	start  time.Time
	logger *zap.Logger
}

func (e *Engine) begin(op, url string) *action {
	id := e.ids.NewID()
	a := &action{
		engine: e,
		id:     id,
		op:     op,
		url:    url,
		site:   siteOf(url),
		start:  e.clock.Now(),
		logger: e.logger.With(zap.String("action_id", id.String()), zap.String("op", op)),
	}
	a.emit(progress.Event{Stage: progress.StageActionStart})
	return a
}

func (a *action) attemptFailed(attempt int, err error) {
	a.logger.Debug("attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	a.emit(progress.Event{Stage: progress.StageAttemptFail, Attempt: attempt, Note: err.Error()})
}

func (a *action) artifact(name string, size int) {
	a.emit(progress.Event{Stage: progress.StageArtifact, Artifact: name, Bytes: int64(size)})
}

func (a *action) finish(err error) {
	dur := elapsed(a.engine.clock, a.start)
	if err != nil {
		kind := job.KindOf(err)
		metrics.ObserveJob(a.op, string(kind))
		a.logger.Warn("action failed", zap.String("url", a.url), zap.String("kind", string(kind)), zap.Duration("dur", dur), zap.Error(err))
		a.emit(progress.Event{Stage: progress.StageActionError, Dur: dur, Note: err.Error()})
		return
	}
	metrics.ObserveJob(a.op, "success")
	a.logger.Info("action complete", zap.String("url", a.url), zap.Duration("dur", dur))
	a.emit(progress.Event{Stage: progress.StageActionDone, Dur: dur})
}

func (a *action) emit(evt progress.Event) {
	evt.ActionID = progress.UUIDToBytes(a.id)
	evt.TS = a.engine.clock.Now()
	evt.Op = a.op
	evt.URL = a.url
	evt.Site = a.site
	a.engine.emitter.Emit(evt)
}

func siteOf(url string) string {
	if url == "" {
		return "inline"
	}
	return metrics.SanitizeSite(url)
}
