// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus collectors exposing the internal counters a production
// deployment would want to alert on: run-queue depth, timer overruns,
// PI boost-chain depth and mayday traffic.
var (
	runQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: NAME,
		Name:      "runqueue_depth",
		Help:      "Number of runnable threads currently queued, per CPU.",
	}, []string{"cpu"})

	timerOverrunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAME,
		Name:      "timer_overruns_total",
		Help:      "Total missed periodic timer fires observed via GetOverruns.",
	}, []string{"clock"})

	boostChainDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: NAME,
		Name:      "mutex_boost_chain_depth",
		Help:      "Depth of the priority-inheritance booster chain walked on lock contention.",
		Buckets:   prometheus.LinearBuckets(0, 1, 8),
	})

	maydayTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAME,
		Name:      "mayday_total",
		Help:      "Number of stage-switch mayday requests delivered, by cause.",
	}, []string{"cause"})
)

func init() {
	prometheus.MustRegister(runQueueDepth, timerOverrunsTotal, boostChainDepth, maydayTotal)
}

func observeRunQueueDepth(cpu int, depth int) {
	runQueueDepth.WithLabelValues(strconv.Itoa(cpu)).Set(float64(depth))
}

func observeOverrun(clockName string, n uint64) {
	if n > 0 {
		timerOverrunsTotal.WithLabelValues(clockName).Add(float64(n))
	}
}

func observeMayday(cause MaydayCause) {
	label := "kick"
	if cause == MaydayCancel {
		label = "cancel"
	}
	maydayTotal.WithLabelValues(label).Inc()
}

func observeBoostChainDepth(depth int) {
	boostChainDepth.Observe(float64(depth))
}
