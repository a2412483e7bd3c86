package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tasktrack-io/tasktrack/pkg/retry"
	"github.com/tasktrack-io/tasktrack/pkg/telemetry"
)

// maxLineSize bounds a single SSE data line; chat envelopes with large
// embedded content can run long.
const maxLineSize = 1 << 20

// SSESource consumes a server-sent-events stream of chat envelopes and
// feeds each data line to the pipeline. It reconnects forever with
// capped backoff; a dropped connection marks the session's running
// tasks interrupted before the next attempt.
type SSESource struct {
	url       string
	sessionID string
	pipeline  *Pipeline
	logger    *slog.Logger
	client    *http.Client
}

// NewSSESource builds a source for one upstream stream URL. sessionID
// scopes stream-loss handling; empty means all sessions.
func NewSSESource(url, sessionID string, pipeline *Pipeline, logger *slog.Logger) *SSESource {
	return &SSESource{
		url:       url,
		sessionID: sessionID,
		pipeline:  pipeline,
		logger:    logger,
		// No client timeout: the stream stays open indefinitely.
		client: &http.Client{},
	}
}

// Run consumes the stream until ctx is cancelled.
func (s *SSESource) Run(ctx context.Context) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts: 0, // reconnect until shutdown
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		OnRetry: func(attempt int, err error) {
			telemetry.IngestReconnects.Inc()
			s.logger.Warn("stream connection lost, reconnecting",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// The producer went away without terminal events for its tasks.
		if n, lerr := s.pipeline.tracker.MarkStreamLost(context.WithoutCancel(ctx), s.sessionID); lerr == nil && n > 0 {
			s.logger.Warn("marked running tasks interrupted", slog.Int("count", n))
		}
		if err == nil {
			err = fmt.Errorf("stream %s closed by server", s.url)
		}
		return err
	})
}

func (s *SSESource) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned %s", resp.Status)
	}

	s.logger.Info("stream connected", slog.String("url", s.url))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue // comments, event names, blank keep-alives
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
			continue
		}
		if err := s.pipeline.HandleLine(ctx, data); err != nil {
			return err
		}
	}
	return scanner.Err()
}
