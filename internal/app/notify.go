package app

import (
	"context"
	"errors"

	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/notify"
	"github.com/specialistvlad/lorapack/internal/pipeline"
)

// publisher connects the progress notifier. A missing or unreachable
// endpoint degrades to a no-op publisher.
func (a *App) publisher(ctx context.Context, cfg config.Notify) notify.Publisher {
	if cfg.URL == "" && !a.forcePublish {
		return notify.Nop{}
	}
	pub, err := a.dial(ctx, notify.Options{
		URL:                cfg.URL,
		Namespace:          cfg.Namespace,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Progress notifier unavailable; continuing without it.", "error", err)
		return notify.Nop{}
	}
	return pub
}

// resultMessage summarizes how the run ended.
func (a *App) resultMessage(err error) notify.Message {
	msg := notify.Message{Kind: notify.KindResult, RunID: a.runID, Time: a.now(), State: a.State().String()}
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrDeclined):
		msg.State = "declined"
	default:
		msg.Error = err.Error()
	}
	return msg
}
