package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var resultsCmd = &cobra.Command{
	Use:   "results [job_id]",
	Short: "Download the result archive of a finished job",
	Long: `Download everything the job wrote to its outbox as a zip archive.
Only finished jobs (done, failed or killed) have results.

Example:
  kabuto results <job-id> -o results.zip`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		output, _ := cmd.Flags().GetString("output")

		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		if output == "" {
			output = jobID + ".zip"
		}

		f, err := os.Create(output)
		if err != nil {
			cmd.Printf("Error: failed to create %s: %v\n", output, err)
			return
		}

		client := NewClient(url, key)
		if err := client.DownloadResults(jobID, f); err != nil {
			f.Close()
			os.Remove(output)
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}
		if err := f.Close(); err != nil {
			cmd.Printf("Error: failed to write %s: %v\n", output, err)
			return
		}

		cmd.Printf("✓ Results saved to %s\n", output)
	},
}

func init() {
	resultsCmd.Flags().StringP("output", "o", "", "Output file (default <job-id>.zip)")
	rootCmd.AddCommand(resultsCmd)
}
