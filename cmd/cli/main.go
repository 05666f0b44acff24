// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"refactor-pipeline/internal/app/worker"
	"refactor-pipeline/pkg/config"
	perrors "refactor-pipeline/pkg/errors"
)

const version = "0.3.0"

var (
	configPath string
	outputFmt  string
	apiURL     string
	apiToken   string
	resetAll   bool

	rootCmd = &cobra.Command{
		Use:           "refactorctl",
		Short:         "Operate the code-smell refactoring pipeline and inspect its ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "refactorctl", version)
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run against the configured repository",
		RunE:  runOnce,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show ledger counters and status breakdown",
		RunE: withBackend(func(cmd *cobra.Command, b backend, args []string) error {
			s, err := b.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), s, func() string { return renderStats(s) })
		}),
	}

	failedCmd = &cobra.Command{
		Use:   "failed",
		Short: "List records awaiting retry or permanently failed",
		RunE: withBackend(func(cmd *cobra.Command, b backend, args []string) error {
			recs, err := b.Failed(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), recs, func() string { return renderRecords(recs) })
		}),
	}

	showCmd = &cobra.Command{
		Use:   "show <identifier>",
		Short: "Show one ledger record with its error history",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(cmd *cobra.Command, b backend, args []string) error {
			rec, err := b.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), rec, func() string { return renderRecord(rec) })
		}),
	}

	resetCmd = &cobra.Command{
		Use:   "reset [identifier]",
		Short: "Reset a record (or all with --all) to pending",
		Args:  cobra.MaximumNArgs(1),
		RunE: withBackend(func(cmd *cobra.Command, b backend, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" && !resetAll {
				return fmt.Errorf("identifier or --all is required")
			}
			n, err := b.Reset(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.ok.Render(fmt.Sprintf("reset %d record(s)", n)))
			return nil
		}),
	}

	skipCmd = &cobra.Command{
		Use:   "skip <identifier>",
		Short: "Mark a record as skipped so it is never processed",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(cmd *cobra.Command, b backend, args []string) error {
			rec, err := b.Skip(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.ok.Render(rec.Identifier+" skipped"))
			return nil
		}),
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "pipeline config file")
	pf.StringVarP(&outputFmt, "output", "o", "table", "output format: table | json | yaml")
	pf.StringVar(&apiURL, "api", os.Getenv("REFACTOR_API_URL"), "status API base URL; local ledger is used when empty")
	pf.StringVar(&apiToken, "token", os.Getenv("REFACTOR_API_TOKEN"), "bearer token for the status API")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "reset every record")

	rootCmd.AddCommand(versionCmd, runCmd, statsCmd, failedCmd, showCmd, resetCmd, skipCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styles.fail.Render("error: ")+err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode 致命错误与普通失败区分，便于调度器判断是否需要人工介入
func exitCode(err error) int {
	if perrors.IsFatal(err) {
		return 2
	}
	return 1
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	w, err := worker.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer w.Shutdown(context.WithoutCancel(ctx))

	sum, runErr := w.RunOnce(ctx)
	if err := render(cmd.OutOrStdout(), sum, func() string { return renderSummary(sum) }); err != nil {
		return err
	}
	return runErr
}
