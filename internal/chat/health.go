// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/storage"
)

// =============================================================================
// HEALTH POLLING
// =============================================================================

// pollHealth probes once immediately and then every HealthInterval.
func (c *Client) pollHealth(ctx context.Context) error {
	for {
		c.checkHealth(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.opts.HealthInterval):
		}
	}
}

// CheckHealth runs a probe now and returns the recorded result.
func (c *Client) CheckHealth(ctx context.Context) (model.Health, error) {
	if c.opts.Health == nil {
		return model.Health{IsHealthy: true}, nil
	}
	c.checkHealth(ctx)
	var h model.Health
	err := c.call(ctx, func() { h = c.health })
	return h, err
}

func (c *Client) checkHealth(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	report, err := c.opts.Health.Check(reqCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	h := model.Health{CheckedAt: c.clock.Now()}
	if err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		h.Err = &HealthCheckFailure{Cause: err}
	} else {
		h.IsHealthy = report.IsHealthy
		h.Issues = append([]string(nil), report.Issues...)
		h.Hints = append([]string(nil), report.Hints...)
	}
	c.lp.Post(func() {
		// A dismissal holds until the result changes.
		h.Dismissed = c.health.Dismissed && sameHealth(c.health, h)
		c.health = h
		c.publish(ChangeHealth)
	})
}

func sameHealth(a, b model.Health) bool {
	if a.IsHealthy != b.IsHealthy || (a.Err == nil) != (b.Err == nil) {
		return false
	}
	if len(a.Issues) != len(b.Issues) {
		return false
	}
	for i := range a.Issues {
		if a.Issues[i] != b.Issues[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// TRANSCRIPT CACHE
// =============================================================================

// queueTranscript hands the active session's messages to the cache writer.
// Runs on the loop; a full queue drops the snapshot since a later one
// supersedes it.
func (c *Client) queueTranscript() {
	if c.opts.Transcripts == nil || c.bound == "" || len(c.messages) == 0 {
		return
	}
	sess, ok := c.dir.Get(c.bound)
	if !ok {
		return
	}
	tr := storage.Transcript{
		Session:  sess,
		Messages: model.CloneMessages(c.messages),
		SavedAt:  c.clock.Now(),
	}
	select {
	case c.transcripts <- tr:
	default:
		c.logger.Debug("transcript queue full", zap.String("session_id", sess.ID))
	}
}

func (c *Client) writeTranscripts(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.drainTranscripts()
			return nil
		case tr := <-c.transcripts:
			c.saveTranscript(tr)
		}
	}
}

func (c *Client) drainTranscripts() {
	for {
		select {
		case tr := <-c.transcripts:
			c.saveTranscript(tr)
		default:
			return
		}
	}
}

func (c *Client) saveTranscript(tr storage.Transcript) {
	if err := c.opts.Transcripts.Save(&tr); err != nil {
		c.logger.Warn("transcript save failed", zap.String("session_id", tr.Session.ID), zap.Error(err))
	}
}
