package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs within a pipeline",
}

var jobAddCmd = &cobra.Command{
	Use:   "add [pipeline_id]",
	Short: "Add a job to a pipeline",
	Long: `Add a job to a pipeline. The job runs the given command inside the
given image. Input files attached with --attach appear in the container's
working directory; anything the command writes to /outbox comes back as
the job's results.

Example:
  kabuto job add <pipeline-id> --image <image-id> --command "python train.py" --attach data.csv --attach model.cfg`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pipelineID := args[0]
		flags := cmd.Flags()
		command, _ := flags.GetString("command")
		imageID, _ := flags.GetString("image")
		attachments, _ := flags.GetStringArray("attach")

		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		if command == "" {
			cmd.Println("Error: --command is required")
			return
		}

		if imageID == "" {
			cmd.Println("Error: --image is required")
			return
		}

		client := NewClient(url, key)
		result, err := client.CreateJob(pipelineID, command, imageID, attachments)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Job added!\nID: %s\nPosition: %d\n", result.ID, result.SequenceNumber)
	},
}

var jobRmCmd = &cobra.Command{
	Use:   "rm [pipeline_id] [job_id]",
	Short: "Delete a job from a pipeline",
	Long: `Delete a job. Running jobs are killed first; jobs sitting in the
dispatch queue cannot be deleted.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		client := NewClient(url, key)
		if err := client.DeleteJob(args[0], args[1]); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}
		cmd.Println("✓ Job deleted")
	},
}

func init() {
	flags := jobAddCmd.Flags()
	flags.StringP("command", "c", "", "Command to execute (required)")
	flags.StringP("image", "i", "", "Image ID to run the command in (required)")
	flags.StringArrayP("attach", "a", nil, "Input file to attach (repeatable)")

	jobCmd.AddCommand(jobAddCmd)
	jobCmd.AddCommand(jobRmCmd)
	rootCmd.AddCommand(jobCmd)
}
