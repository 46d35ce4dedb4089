package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	EndpointDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "endpoint_duration_ms",
		Help:    "Time spent serving an endpoint request in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 16), // 100us to ~3.3s
	}, []string{"endpoint"})

	// Batched GEMM dispatch metrics
	GemmDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemm_dispatch_duration_ms",
		Help:    "Duration of a batched GEMM dispatch including staging and readback in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 16), // 50us to ~1.6s
	}, []string{"kernel"})

	GemmDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_dispatch_total",
		Help: "Total number of batched GEMM dispatches by kernel and outcome",
	}, []string{"kernel", "status"})

	GemmGFLOPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemm_gflops",
		Help: "Performance of the last batched GEMM in GFLOPS",
	})

	GemmBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemm_batch_size",
		Help: "Batch count of the last batched GEMM",
	})

	// Verification metrics
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_verifications_total",
		Help: "Total number of verified outputs by outcome",
	}, []string{"outcome"})

	DeviceMemoryUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_memory_used_bytes",
		Help: "Device memory staged by the last batched GEMM in bytes",
	})
)
