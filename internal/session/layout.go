package session

import "github.com/clarabennett2626/cftail/internal/tail"

// Instance log files, relative to the instance root.
const (
	StagingLogPath = "logs/staging_task.log"
	StdoutLogPath  = "logs/stdout.log"
	StderrLogPath  = "logs/stderr.log"
)

// RunningLayout tails the stdout and stderr logs of a running instance.
func RunningLayout() []tail.StreamConfig {
	return []tail.StreamConfig{
		{Name: "stdout", Path: StdoutLogPath, Channel: tail.Standard},
		{Name: "stderr", Path: StderrLogPath, Channel: tail.Error},
	}
}

// StagingLayout tails the staging log first. The running logs start once
// staging produced output or gave up.
func StagingLayout() []tail.StreamConfig {
	return []tail.StreamConfig{
		{
			Name:      "staging",
			Path:      StagingLogPath,
			Channel:   tail.Standard,
			Followers: RunningLayout(),
		},
	}
}
