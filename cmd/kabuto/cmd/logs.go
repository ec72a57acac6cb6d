package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var follow bool

var logsCmd = &cobra.Command{
	Use:   "logs [job_id]",
	Short: "Print or follow logs for a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		// Trap Ctrl+C to exit gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			os.Exit(0)
		}()

		client := NewClient(url, key)
		var lastID int64 = 0

		for {
			newLogs, err := client.GetLogs(jobID, lastID)
			if err != nil {
				cmd.Printf("Error fetching logs: %v\n", err)
				if !follow {
					break
				}
				time.Sleep(2 * time.Second) // Retry backoff
				continue
			}

			for _, line := range newLogs {
				cmd.Println(line.Line)
				if line.ID > lastID {
					lastID = line.ID
				}
			}

			if !follow {
				// Without --follow one fetch is one page; an empty page
				// means we caught up.
				if len(newLogs) == 0 {
					break
				}
				continue
			}

			time.Sleep(1 * time.Second)
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
}
