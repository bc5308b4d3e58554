package server

import (
	"context"
	"io"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// Counter names.
const (
	metricConnections       = "connections"
	metricSubscribers       = "subscribers"
	metricMessagesPublished = "messages.published"
	metricSubscribersPruned = "subscribers.pruned"
	metricRequestsMalformed = "requests.malformed"
	metricRequestsNotFound  = "requests.notfound"
	metricRequestsTooLarge  = "requests.toolarge"
	metricDesktopRateLimit  = "desktop.ratelimited"
)

// Metrics is a set of counters backed by a go-metrics registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	reg gometrics.Registry
}

// NewMetrics returns Metrics with a fresh registry.
func NewMetrics() *Metrics {
	return &Metrics{reg: gometrics.NewRegistry()}
}

func (m *Metrics) incr(name string, i int64) {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func (m *Metrics) decr(name string, i int64) {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

// Count returns the current value of the named counter.
func (m *Metrics) Count(name string) int64 {
	if m == nil {
		return 0
	}
	return gometrics.GetOrRegisterCounter(name, m.reg).Count()
}

// WriteJSON writes a snapshot of every counter to w.
func (m *Metrics) WriteJSON(w io.Writer) {
	if m == nil {
		_, _ = io.WriteString(w, "{}\n")
		return
	}
	gometrics.WriteJSONOnce(m.reg, w)
}

// Report logs a snapshot every tick until ctx is done, then logs a final one.
func (m *Metrics) Report(ctx context.Context, tick time.Duration, logger *zap.Logger) {
	if m == nil || tick <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logger.Info("metrics", zap.Any("counters", m.reg.GetAll()))
		case <-ctx.Done():
			logger.Info("final metrics", zap.Any("counters", m.reg.GetAll()))
			return
		}
	}
}
