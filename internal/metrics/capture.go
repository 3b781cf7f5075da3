// Package metrics provides Prometheus metrics for the capture loop.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrab",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames copied out of the driver",
	}, []string{"device"})

	grabFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrab",
		Subsystem: "capture",
		Name:      "grab_failures_total",
		Help:      "GrabFrame calls that returned no frame, by failure kind",
	}, []string{"device", "kind"})

	appOwnedBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framegrab",
		Subsystem: "capture",
		Name:      "app_owned_buffers",
		Help:      "Buffers currently owned by the application (0 or 1)",
	}, []string{"device"})

	poolBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framegrab",
		Subsystem: "capture",
		Name:      "pool_buffers",
		Help:      "Buffers granted by the driver",
	}, []string{"device"})

	engineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framegrab",
		Subsystem: "capture",
		Name:      "state",
		Help:      "Engine state: 0 closed, 1 configured, 2 streaming, 3 stopped",
	}, []string{"device"})

	frameCopySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "framegrab",
		Subsystem: "capture",
		Name:      "frame_copy_seconds",
		Help:      "Time spent in successful GrabFrame calls",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	}, []string{"device"})

	// failure counts mirrored for the status endpoint
	failureCache   = make(map[string]map[string]int64)
	failureCacheMu sync.RWMutex
)

// RecordFrame counts one grabbed frame and its GrabFrame duration.
func RecordFrame(device string, took time.Duration) {
	framesTotal.WithLabelValues(device).Inc()
	frameCopySeconds.WithLabelValues(device).Observe(took.Seconds())
}

// RecordGrabFailure counts one failed GrabFrame by kind.
func RecordGrabFailure(device, kind string) {
	grabFailures.WithLabelValues(device, kind).Inc()

	failureCacheMu.Lock()
	defer failureCacheMu.Unlock()
	byKind, ok := failureCache[device]
	if !ok {
		byKind = make(map[string]int64)
		failureCache[device] = byKind
	}
	byKind[kind]++
}

// GetGrabFailures returns a copy of the failure counts for device.
func GetGrabFailures(device string) map[string]int64 {
	failureCacheMu.RLock()
	defer failureCacheMu.RUnlock()
	out := make(map[string]int64, len(failureCache[device]))
	for k, v := range failureCache[device] {
		out[k] = v
	}
	return out
}

// SetPool records pool size and application-owned buffers.
func SetPool(device string, buffers, appOwned int) {
	poolBuffers.WithLabelValues(device).Set(float64(buffers))
	appOwnedBuffers.WithLabelValues(device).Set(float64(appOwned))
}

// SetState records the numeric engine state.
func SetState(device string, state int) {
	engineState.WithLabelValues(device).Set(float64(state))
}

// DeleteCaptureMetrics removes every series for device.
func DeleteCaptureMetrics(device string) {
	labels := prometheus.Labels{"device": device}
	framesTotal.DeletePartialMatch(labels)
	grabFailures.DeletePartialMatch(labels)
	appOwnedBuffers.DeletePartialMatch(labels)
	poolBuffers.DeletePartialMatch(labels)
	engineState.DeletePartialMatch(labels)
	frameCopySeconds.DeletePartialMatch(labels)

	failureCacheMu.Lock()
	delete(failureCache, device)
	failureCacheMu.Unlock()
}
