package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage pipelines",
}

var pipelineCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new pipeline",
	Long: `Create a new, empty pipeline. Add jobs with 'kabuto job add' and run
them with 'kabuto submit'.

Example:
  kabuto pipeline create --name nightly-training`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")

		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		client := NewClient(url, key)
		result, err := client.CreatePipeline(name)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Pipeline created!\nID: %s\nName: %s\n", result.ID, result.Name)
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your pipelines",
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		client := NewClient(url, key)
		pipelines, err := client.ListPipelines()
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		if len(pipelines) == 0 {
			cmd.Println("No pipelines.")
			return
		}
		for _, p := range pipelines {
			cmd.Printf("%s  %s\n", p.ID, p.Name)
		}
	},
}

var pipelineRmCmd = &cobra.Command{
	Use:   "rm [pipeline_id]",
	Short: "Delete a pipeline and all of its jobs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		client := NewClient(url, key)
		if err := client.DeletePipeline(args[0]); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}
		cmd.Println("✓ Pipeline deleted")
	},
}

func init() {
	pipelineCreateCmd.Flags().StringP("name", "n", "", "Name of the pipeline (required)")

	pipelineCmd.AddCommand(pipelineCreateCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineRmCmd)
	rootCmd.AddCommand(pipelineCmd)
}
