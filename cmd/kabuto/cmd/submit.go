package cmd

import (
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit [pipeline_id]",
	Short: "Submit a pipeline's jobs to the dispatch queue",
	Long: `Submit every waiting job of a pipeline to the dispatch queue. Jobs
that already finished are not re-run. The per-job states after dispatch
are printed; 'in_queue' means a worker will pick the job up.

Example:
  kabuto submit <pipeline-id>`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pipelineID := args[0]

		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		client := NewClient(url, key)
		states, err := client.Submit(pipelineID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Submit failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Submit failed: %v\n", err)
			}
			if len(states) == 0 {
				return
			}
			// Fall through to print whatever was dispatched before the
			// failure.
		} else {
			cmd.Println("✓ Pipeline submitted!")
		}

		ids := make([]string, 0, len(states))
		for id := range states {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			cmd.Printf("%s  %s\n", id, colorizeState(states[id]))
		}
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
}
