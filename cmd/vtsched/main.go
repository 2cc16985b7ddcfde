// Command vtsched runs declarative scenarios against a virtual-time executor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"vtsched/internal/config"
	"vtsched/internal/eventbus"
	"vtsched/internal/scenario"
	"vtsched/internal/storage"
	logx "vtsched/pkg/logx"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vtsched",
		Short:         "Deterministic virtual-time task scheduling scenarios",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("level", "", "override the scenario log level")
	root.AddCommand(versionCmd(), checkCmd(), runCmd(), watchCmd(), historyCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vtsched %s (commit: %s)\n", version, commit)
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <scenario>",
		Short: "Validate a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.NewManager(args[0]).Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scenario %s OK (%d tasks, %d steps)\n", s.Name, len(s.Tasks), len(s.Steps))
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario once and print its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			showEvents, _ := cmd.Flags().GetBool("events")

			s, err := config.NewManager(args[0]).Load()
			if err != nil {
				return err
			}
			svc, log := newLogger(cmd, s)
			defer svc.Close()

			st, err := scenario.OpenStore(s.Storage, log)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			opt := scenario.Options{Log: log, Store: st}
			if showEvents {
				bus := eventbus.New(nil)
				events, unsub := bus.Subscribe(1024)
				defer func() {
					unsub()
					for ev := range events {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %+v\n", ev.Time.Format("15:04:05.000"), ev.Type, ev.Data)
					}
				}()
				opt.Bus = bus
			}

			rep, err := scenario.New(opt).Run(cmd.Context(), s)
			if err != nil {
				return err
			}
			if err := printReport(cmd, rep, asJSON); err != nil {
				return err
			}
			if !rep.OK() {
				return fmt.Errorf("scenario %s: %d unmet expectation(s)", rep.Scenario, rep.Unmet)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the report as JSON")
	cmd.Flags().Bool("events", false, "print executor events to stderr")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <scenario>",
		Short: "List stored runs of a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			runID, _ := cmd.Flags().GetString("run")
			keep, _ := cmd.Flags().GetInt("prune")

			s, err := config.NewManager(args[0]).Load()
			if err != nil {
				return err
			}
			svc, log := newLogger(cmd, s)
			defer svc.Close()

			st, err := scenario.OpenStore(s.Storage, log)
			if err != nil {
				return err
			}
			if st == nil {
				return storage.ErrDisabled
			}
			defer st.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case keep > 0:
				n, err := st.Prune(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d run(s)\n", n)
				return nil
			case runID != "":
				execs, err := st.Executions(ctx, runID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(execs)
			}

			runs, err := st.Runs(ctx, s.Name, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				status := "ok"
				if !r.OK {
					status = "FAIL"
				}
				fmt.Fprintf(out, "%s  %s  %-4s executions=%d failures=%d unmet=%d\n",
					r.RecordedAt.Format("2006-01-02 15:04:05"), r.ID, status, r.Executions, r.Failures, r.Unmet)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum runs to list (0 = all)")
	cmd.Flags().String("run", "", "print the executions of one run")
	cmd.Flags().Int("prune", 0, "keep only the newest N runs per scenario")
	return cmd
}

func newLogger(cmd *cobra.Command, s *config.Scenario) (*logx.Service, logx.Logger) {
	lc := s.Logging.Logx()
	if lvl, _ := cmd.Flags().GetString("level"); strings.TrimSpace(lvl) != "" {
		lc.Level = lvl
	}
	if !lc.Console && !lc.File.Enabled {
		lc.Console = true
	}
	return logx.New(lc)
}

func printReport(cmd *cobra.Command, rep *scenario.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return rep.WriteText(cmd.OutOrStdout())
}
