// Package metrics provides Prometheus metrics for mirror sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as the reason label of frames_dropped_total.
const (
	DropStale = "stale"
	DropStage = "stage"
)

// Staging paths used as the path label of staged_planes_total.
const (
	PathZeroCopy = "zero_copy"
	PathCopied   = "copied"
)

var (
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pwmirror",
		Subsystem: "session",
		Name:      "state",
		Help:      "Current session state (0=created .. 5=closed)",
	}, []string{"session_id"})

	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwmirror",
		Subsystem: "session",
		Name:      "frames_sent_total",
		Help:      "Frames delivered to the consumer",
	}, []string{"session_id"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwmirror",
		Subsystem: "session",
		Name:      "frames_dropped_total",
		Help:      "Frames discarded before delivery",
	}, []string{"session_id", "reason"})

	malformedParams = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwmirror",
		Subsystem: "negotiate",
		Name:      "malformed_params_total",
		Help:      "Parameter objects dropped because they failed to decode",
	}, []string{"session_id"})

	negotiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwmirror",
		Subsystem: "negotiate",
		Name:      "formats_accepted_total",
		Help:      "Accepted format selections, including renegotiations",
	}, []string{"session_id"})

	stagedPlanes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwmirror",
		Subsystem: "stage",
		Name:      "planes_total",
		Help:      "Planes staged for transfer by path",
	}, []string{"session_id", "path"})

	copiedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwmirror",
		Subsystem: "stage",
		Name:      "copied_bytes_total",
		Help:      "Bytes copied into sealed memfd regions",
	}, []string{"session_id"})

	// Local cache for status API access.
	sessionCache   = make(map[string]*SessionMetrics)
	sessionCacheMu sync.RWMutex
)

// SessionMetrics holds current metric values for a session.
type SessionMetrics struct {
	State          string
	FramesSent     uint64
	StaleDropped   uint64
	StageDropped   uint64
	ZeroCopyPlanes uint64
	CopiedPlanes   uint64
	CopiedBytes    uint64
	Malformed      uint64
	Negotiations   uint64
}

// SetSessionState records the state of a session.
func SetSessionState(sessionID string, ordinal int, name string) {
	sessionState.WithLabelValues(sessionID).Set(float64(ordinal))
	updateCache(sessionID, func(m *SessionMetrics) { m.State = name })
}

// IncFramesSent counts a delivered frame.
func IncFramesSent(sessionID string) {
	framesSent.WithLabelValues(sessionID).Inc()
	updateCache(sessionID, func(m *SessionMetrics) { m.FramesSent++ })
}

// AddFramesDropped counts discarded frames for the given reason.
func AddFramesDropped(sessionID, reason string, n int) {
	if n <= 0 {
		return
	}
	framesDropped.WithLabelValues(sessionID, reason).Add(float64(n))
	updateCache(sessionID, func(m *SessionMetrics) {
		switch reason {
		case DropStale:
			m.StaleDropped += uint64(n)
		case DropStage:
			m.StageDropped += uint64(n)
		}
	})
}

// IncMalformedParams counts a parameter object that failed to decode.
func IncMalformedParams(sessionID string) {
	malformedParams.WithLabelValues(sessionID).Inc()
	updateCache(sessionID, func(m *SessionMetrics) { m.Malformed++ })
}

// IncNegotiations counts an accepted format.
func IncNegotiations(sessionID string) {
	negotiations.WithLabelValues(sessionID).Inc()
	updateCache(sessionID, func(m *SessionMetrics) { m.Negotiations++ })
}

// AddStagedPlanes counts planes of one staged frame.
func AddStagedPlanes(sessionID string, zeroCopy, copied, bytes int) {
	if zeroCopy > 0 {
		stagedPlanes.WithLabelValues(sessionID, PathZeroCopy).Add(float64(zeroCopy))
	}
	if copied > 0 {
		stagedPlanes.WithLabelValues(sessionID, PathCopied).Add(float64(copied))
		copiedBytes.WithLabelValues(sessionID).Add(float64(bytes))
	}
	updateCache(sessionID, func(m *SessionMetrics) {
		m.ZeroCopyPlanes += uint64(zeroCopy)
		m.CopiedPlanes += uint64(copied)
		m.CopiedBytes += uint64(bytes)
	})
}

// DeleteSessionMetrics removes all metrics for a session.
func DeleteSessionMetrics(sessionID string) {
	sessionState.DeleteLabelValues(sessionID)
	framesSent.DeleteLabelValues(sessionID)
	framesDropped.DeletePartialMatch(prometheus.Labels{"session_id": sessionID})
	malformedParams.DeleteLabelValues(sessionID)
	negotiations.DeleteLabelValues(sessionID)
	stagedPlanes.DeletePartialMatch(prometheus.Labels{"session_id": sessionID})
	copiedBytes.DeleteLabelValues(sessionID)

	sessionCacheMu.Lock()
	delete(sessionCache, sessionID)
	sessionCacheMu.Unlock()
}

// GetSessionMetrics returns current metric values for a session.
func GetSessionMetrics(sessionID string) *SessionMetrics {
	sessionCacheMu.RLock()
	defer sessionCacheMu.RUnlock()
	if m, ok := sessionCache[sessionID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllSessionMetrics returns metrics for all known sessions.
func GetAllSessionMetrics() map[string]*SessionMetrics {
	sessionCacheMu.RLock()
	defer sessionCacheMu.RUnlock()
	result := make(map[string]*SessionMetrics, len(sessionCache))
	for id, m := range sessionCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(sessionID string, update func(*SessionMetrics)) {
	sessionCacheMu.Lock()
	defer sessionCacheMu.Unlock()
	m, ok := sessionCache[sessionID]
	if !ok {
		m = &SessionMetrics{}
		sessionCache[sessionID] = m
	}
	update(m)
}
