package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var killCmd = &cobra.Command{
	Use:   "kill [job_id]",
	Short: "Kill a running job",
	Long: `Broadcast a kill for a running job. The worker stops the container
and reports the job as killed; whatever reached the outbox so far is kept
as the job's results.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		client := NewClient(url, key)
		if err := client.Kill(args[0]); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}
		cmd.Println("✓ Kill requested")
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}
