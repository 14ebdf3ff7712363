// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Command rrosdemo wires up a small in-process system on top of the
// rros package: a handful of threads across scheduling classes, a
// priority-inheritance mutex contention scenario, and (optionally) a
// time-partitioned global schedule loaded from a YAML file. It exposes
// the package's Prometheus collectors over HTTP and runs until
// interrupted or until the -run-for duration elapses.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/intuitivelabs/rros"
)

type scheduleFile struct {
	Windows []rros.TPWindow `yaml:"windows"`
}

func loadSchedule(path string) ([]rros.TPWindow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var sf scheduleFile
	if err := yaml.NewDecoder(f).Decode(&sf); err != nil {
		return nil, err
	}
	return sf.Windows, nil
}

func main() {
	cpus := flag.Int("cpus", 1, "number of simulated CPUs")
	tick := flag.Duration("tick", time.Millisecond, "timer wheel tick duration")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	schedulePath := flag.String("schedule", "", "optional YAML file with a TP window schedule")
	runFor := flag.Duration("run-for", 2*time.Second, "how long to run the demo before exiting")
	flag.Parse()

	cfg := rros.DefaultConfig()
	cfg.NumCPUs = *cpus
	cfg.TickDuration = *tick

	if *schedulePath != "" {
		windows, err := loadSchedule(*schedulePath)
		if err != nil {
			rros.ERR("failed to load schedule %s: %v\n", *schedulePath, err)
			os.Exit(1)
		}
		cfg.TPSchedule = windows
	}

	rros.InitClocks(cfg.NumCPUs, cfg.TickDuration)
	cfg.Apply()

	sys := rros.NewSystem(rros.Monotonic, cfg.NumCPUs)
	if len(cfg.TPSchedule) > 0 {
		for cpu := 0; cpu < cfg.NumCPUs; cpu++ {
			sys.RunQueue(cpu).SetTPSchedule(cfg.TPSchedule)
		}
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil && err != http.ErrServerClosed {
			rros.ERR("metrics server: %v\n", err)
		}
	}()
	rros.INFO("metrics listening on %s/metrics\n", *metricsAddr)

	rq := sys.RunQueue(0)
	low := rros.NewThread("low", rq, rros.FIFOClass, 10)
	mid := rros.NewThread("mid", rq, rros.FIFOClass, 20)
	high := rros.NewThread("high", rq, rros.FIFOClass, 30)

	contested := rros.NewMutex("demo-mutex")
	if err := contested.Lock(low); err != nil {
		rros.PANIC("low failed to take the uncontended mutex: %v\n", err)
	}
	rros.INFO("%s holds demo-mutex at base priority %d\n", low.Name, 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := contested.Lock(high); err != nil {
			rros.ERR("high failed to lock: %v\n", err)
			return
		}
		rros.INFO("high acquired the mutex, boosting released\n")
		contested.Unlock(high)
	}()

	go func() {
		if err := contested.Lock(mid); err != nil {
			rros.ERR("mid failed to lock: %v\n", err)
			return
		}
		contested.Unlock(mid)
	}()

	time.Sleep(50 * time.Millisecond)
	rros.NOTICE("releasing low: hands off directly to the highest-priority waiter\n")
	contested.Unlock(low)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	runCtx, runCancel := context.WithTimeout(ctx, *runFor)
	defer runCancel()

	if err := sys.Run(runCtx, cfg.TickDuration); err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		rros.ERR("system run loop exited: %v\n", err)
		os.Exit(1)
	}

	<-done
	rros.INFO("demo finished\n")
}
