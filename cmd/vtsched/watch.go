package main

import (
	"context"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"vtsched/internal/config"
	"vtsched/internal/metrics"
	"vtsched/internal/observability"
	"vtsched/internal/scenario"
	"vtsched/internal/task/scheduler"
	logx "vtsched/pkg/logx"
)

// latestExecutor exposes the executor of the most recent run to the metrics
// collector.
type latestExecutor struct {
	p atomic.Pointer[scheduler.Executor]
}

func (l *latestExecutor) set(e *scheduler.Executor) { l.p.Store(e) }

func (l *latestExecutor) Snapshot() scheduler.Snapshot {
	if e := l.p.Load(); e != nil {
		return e.Snapshot()
	}
	return scheduler.Snapshot{}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <scenario>",
		Short: "Re-run a scenario whenever its file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := config.NewManager(args[0])
			s, err := m.Load()
			if err != nil {
				return err
			}
			svc, log := newLogger(cmd, s)
			defer svc.Close()
			m.SetLogger(log)

			var latest latestExecutor
			reg := prometheus.NewRegistry()
			reg.MustRegister(metrics.NewCollector(&latest, prometheus.Labels{"scenario": s.Name}))
			obs := observability.New(&latest, reg, log)
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				obs.Stop(sctx)
			}()
			if err := obs.Apply(ctx, observabilityConfig(s.Metrics)); err != nil {
				return err
			}

			runOnce := func(s *config.Scenario) {
				st, err := scenario.OpenStore(s.Storage, log)
				if err != nil {
					log.Error("storage open failed", logx.Err(err))
					return
				}
				if st != nil {
					defer st.Close()
				}
				rep, err := scenario.New(scenario.Options{Log: log, Store: st, OnExecutor: latest.set}).Run(ctx, s)
				if err != nil {
					log.Error("scenario run failed", logx.Err(err))
					if rep == nil {
						return
					}
				}
				if err := printReport(cmd, rep, false); err != nil {
					log.Warn("report output failed", logx.Err(err))
				}
			}

			runOnce(s)

			ch := m.Subscribe(4)
			defer m.Unsubscribe(ch)
			watchErr := make(chan error, 1)
			go func() { watchErr <- m.Watch(ctx) }()

			prev := s
			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-watchErr:
					return err
				case next := <-ch:
					sections, attrs, tasks := config.SummarizeChange(prev, next)
					attrs = append(attrs, logx.String("sections", strings.Join(sections, ",")))
					log.Info("scenario changed; re-running", attrs...)
					if len(tasks) > 0 {
						log.Debug("tasks changed", logx.String("tasks", strings.Join(tasks, ",")))
					}
					if slices.Contains(sections, "metrics") {
						if err := obs.Apply(ctx, observabilityConfig(next.Metrics)); err != nil {
							log.Error("metrics endpoint not applied", logx.Err(err))
						}
					}
					if slices.Contains(sections, "logging") {
						lc := next.Logging.Logx()
						if lvl, _ := cmd.Flags().GetString("level"); strings.TrimSpace(lvl) != "" {
							lc.Level = lvl
						}
						svc.Apply(lc)
					}
					runOnce(next)
					prev = next
				}
			}
		},
	}
}

func observabilityConfig(mc *config.MetricsConfig) observability.Config {
	if mc == nil {
		return observability.Config{}
	}
	return observability.Config{
		Enabled:       mc.Enabled,
		Addr:          mc.Addr,
		MetricsPath:   mc.Path,
		Token:         mc.Token,
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
	}
}
