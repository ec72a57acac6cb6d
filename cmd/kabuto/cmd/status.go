package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adimian/kabuto/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [pipeline_id]",
	Short: "Show a pipeline and the state of its jobs",
	Long:  `Retrieve a pipeline with its jobs in sequence order, including each job's state (ready, in_queue, running, done, failed, killed) and resource usage once finished.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pipelineID := args[0]

		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		client := NewClient(url, key)
		pipeline, err := client.GetPipeline(pipelineID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		printPipeline(cmd, pipeline)
	},
}

func printPipeline(cmd *cobra.Command, pipeline *PipelineDetail) {
	cmd.Printf("%s%s%s\n", colorBold, pipeline.Name, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s       %s\n", colorDim, colorReset, pipeline.ID)
	cmd.Printf("%sCreated:%s  %s\n", colorDim, colorReset, formatTimeWithRelative(pipeline.CreatedAt))
	cmd.Printf("%sJobs:%s     %d\n", colorDim, colorReset, len(pipeline.Jobs))

	for _, job := range pipeline.Jobs {
		cmd.Printf("\n%s#%d%s %s\n", colorBold, job.SequenceNumber, colorReset, job.ID)
		cmd.Printf("  %sState:%s    %s\n", colorDim, colorReset, colorizeState(job.State))
		cmd.Printf("  %sCommand:%s  %s\n", colorDim, colorReset, job.Command)
		if terminal(job.State) {
			cmd.Printf("  %sUsage:%s    cpu %s, memory %s, io %s\n", colorDim, colorReset,
				formatCPU(job.CPU), formatBytes(job.Memory), formatBytes(job.IO))
		}
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func terminal(state string) bool {
	return state == api.StateDone || state == api.StateFailed || state == api.StateKilled
}

func stateIcon(state string) string {
	switch state {
	case api.StateDone:
		return colorGreen + "✓" + colorReset
	case api.StateFailed, api.StateKilled:
		return colorRed + "✗" + colorReset
	case api.StateRunning:
		return colorYellow + "⏳" + colorReset
	case api.StateReady, api.StateInQueue:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeState(state string) string {
	icon := stateIcon(state)
	switch state {
	case api.StateDone:
		return icon + " " + colorGreen + state + colorReset
	case api.StateFailed, api.StateKilled:
		return icon + " " + colorRed + state + colorReset
	case api.StateRunning:
		return icon + " " + colorYellow + state + colorReset
	case api.StateReady, api.StateInQueue:
		return icon + " " + colorCyan + state + colorReset
	default:
		return state
	}
}

func formatTimeWithRelative(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	relative := relativeTime(t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatCPU(ns int64) string {
	return time.Duration(ns).String()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
