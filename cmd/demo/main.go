// Demo writes a simulated Cloud Foundry instance log directory that
// "cftail tail APP --local DIR" can follow.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/clarabennett2626/cftail/internal/session"
	"github.com/spf13/cobra"
)

var stagingLines = []string{
	"Downloading go_buildpack...",
	"Downloaded go_buildpack",
	"Cell 2d3b6c1e creating container for instance 5f0a9b2c",
	"-----> Go Buildpack version 1.10.20",
	"-----> Installing go 1.24.2",
	"-----> Running: go install -tags cloudfoundry -buildmode pie .",
	"Exit status 0",
	"Uploading droplet, build artifacts cache...",
	"Uploaded droplet (4.2M)",
	"Uploading complete",
}

var stdoutLines = []string{
	`{"level":"info","msg":"starting server","port":8080}`,
	`level=info msg="connected to database" pool=10`,
	`{"level":"debug","msg":"cache warmed","entries":1024}`,
	`level=warn msg="slow request" path=/api/orders duration=1.2s`,
	`{"level":"info","msg":"request served","status":200}`,
}

var stderrLines = []string{
	"WARN deprecated environment variable DATABASE_URL, use DB_URL",
	`{"level":"error","msg":"upstream timeout","upstream":"payments"}`,
}

func main() {
	var (
		dir      string
		instance int
		delay    time.Duration
		loops    int
	)
	cmd := &cobra.Command{
		Use:          "demo APP",
		Short:        "Write a simulated instance log directory",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := filepath.Join(dir, args[0], strconv.Itoa(instance))
			fmt.Fprintf(cmd.OutOrStdout(), "writing logs to %s, follow with: cftail tail %s -i %d --local %s\n",
				root, args[0], instance, dir)
			return simulate(cmd.Context(), root, delay, loops)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", filepath.Join(os.TempDir(), "cftail-demo"), "root directory")
	cmd.Flags().IntVarP(&instance, "instance", "i", 0, "instance index")
	cmd.Flags().DurationVar(&delay, "delay", 400*time.Millisecond, "pause between lines")
	cmd.Flags().IntVar(&loops, "loops", 20, "rounds of running output after staging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// simulate stages the app, then keeps appending to stdout and stderr.
func simulate(ctx context.Context, root string, delay time.Duration, loops int) error {
	if err := os.MkdirAll(filepath.Join(root, "logs"), 0o755); err != nil {
		return err
	}
	for _, line := range stagingLines {
		if err := appendLine(filepath.Join(root, session.StagingLogPath), line); err != nil {
			return err
		}
		if !sleep(ctx, delay) {
			return nil
		}
	}
	for i := 0; i < loops; i++ {
		if err := appendLine(filepath.Join(root, session.StdoutLogPath), stdoutLines[i%len(stdoutLines)]); err != nil {
			return err
		}
		if i%3 == 2 {
			if err := appendLine(filepath.Join(root, session.StderrLogPath), stderrLines[(i/3)%len(stderrLines)]); err != nil {
				return err
			}
		}
		if !sleep(ctx, delay) {
			return nil
		}
	}
	return nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
