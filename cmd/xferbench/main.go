// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command xferbench pushes messages through local xfer channels and
// reports delivery throughput.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"code.hybscloud.com/xfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "xferbench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg := xfer.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = xfer.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	log := xfer.NewLogger(cfg.Log)
	xfer.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Bench.MetricsAddr != "" {
		srv := serveMetrics(cfg.Bench.MetricsAddr, log)
		defer srv.Close()
	}

	chs := make([]xfer.Channel, cfg.Bench.Channels)
	for i := range chs {
		chs[i] = xfer.LocalChannel{ChannelID: fmt.Sprintf("bench-%d", i)}
	}
	w := xfer.NewDataWriter("bench-writer", cfg.Job, cfg.Writer, chs)
	r := xfer.NewDataReader("bench-reader", cfg.Job, cfg.Reader, chs)
	loop := xfer.NewIOLoop("xferbench", xfer.WithJob(cfg.Job))
	loop.Register(w)
	loop.Register(r)
	loop.Start()
	defer loop.Close()

	total := cfg.Bench.Messages * len(chs)
	log.Info().Int("channels", len(chs)).Int("messages", total).Int("payload_size", cfg.Bench.PayloadSize).Msg("bench started")
	start := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, len(chs))
	for _, ch := range chs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := make([]byte, cfg.Bench.PayloadSize)
			for range cfg.Bench.Messages {
				if err := w.Write(ctx, ch.ID(), payload); err != nil {
					errs <- fmt.Errorf("write %s: %w", ch.ID(), err)
					return
				}
			}
		}()
	}

	received := 0
	for received < total {
		if _, ok := r.ReadBytes(); ok {
			received++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(10 * time.Microsecond)
	}
	wg.Wait()
	close(errs)
	elapsed := time.Since(start)

	var err error
	for e := range errs {
		err = errors.Join(err, e)
	}
	rate := float64(received) / elapsed.Seconds()
	log.Info().
		Int("received", received).
		Dur("elapsed", elapsed).
		Float64("msgs_per_sec", rate).
		Float64("mib_per_sec", rate*float64(cfg.Bench.PayloadSize)/(1<<20)).
		Msg("bench finished")
	return err
}

func serveMetrics(addr string, log zerolog.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(xfer.Metrics())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
