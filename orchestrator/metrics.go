// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelarena_queries_total",
			Help: "Total number of comparison queries by terminal status",
		},
		[]string{"status"},
	)
	promQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelarena_query_duration_milliseconds",
			Help:    "End-to-end query duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000, 60000},
		},
		[]string{"outcome"},
	)
	promProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelarena_provider_calls_total",
			Help: "Total number of model provider API calls",
		},
		[]string{"provider", "status"},
	)
	promProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelarena_provider_latency_milliseconds",
			Help:    "Provider call latency in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		},
		[]string{"provider"},
	)
	promCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelarena_cache_events_total",
			Help: "Fingerprint cache lookups by outcome",
		},
		[]string{"outcome"},
	)
	promRateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelarena_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)
	promBudgetRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelarena_budget_rejections_total",
			Help: "Requests rejected because the user budget was exhausted",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promQueriesTotal)
	prometheus.MustRegister(promQueryDuration)
	prometheus.MustRegister(promProviderCalls)
	prometheus.MustRegister(promProviderLatency)
	prometheus.MustRegister(promCacheEvents)
	prometheus.MustRegister(promRateLimitRejections)
	prometheus.MustRegister(promBudgetRejections)
}
