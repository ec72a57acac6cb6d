package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adimian/kabuto/pkg/api"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage container images",
}

var imageBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a new image from a Dockerfile or a git repository",
	Long: `Build a container image and push it to the platform registry.

Exactly one source must be given: a local Dockerfile with --dockerfile, or
a git repository containing one with --repo.

Example:
  kabuto image build --name trainer --dockerfile ./Dockerfile
  kabuto image build --name trainer --repo https://github.com/acme/trainer.git --nocache`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		dockerfile, _ := flags.GetString("dockerfile")
		repo, _ := flags.GetString("repo")
		nocache, _ := flags.GetBool("nocache")

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

		if (dockerfile == "") == (repo == "") {
			cmd.Println("Error: exactly one of --dockerfile or --repo is required")
			return
		}

		req := api.CreateImageRequest{
			Name:    name,
			RepoURL: repo,
			NoCache: nocache,
		}
		if dockerfile != "" {
			content, err := os.ReadFile(dockerfile)
			if err != nil {
				cmd.Printf("Error: failed to read Dockerfile: %v\n", err)
				return
			}
			req.Dockerfile = string(content)
		}

		client := NewClient(url, key)
		result, err := client.BuildImage(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Build failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Build failed: %v\n", err)
			}
			return
		}

		for _, line := range result.Output {
			cmd.Println(line)
		}
		cmd.Printf("✓ Image built!\nID: %s\nRef: %s\n", result.ID, result.Ref)
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your images",
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		client := NewClient(url, key)
		images, err := client.ListImages()
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		if len(images) == 0 {
			cmd.Println("No images.")
			return
		}
		for _, img := range images {
			cmd.Printf("%s  %s  %s\n", img.ID, img.Name, img.Ref)
		}
	},
}

var imageRmCmd = &cobra.Command{
	Use:   "rm [image_id]",
	Short: "Delete an image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		key := viper.GetString("key")

		if key == "" {
			cmd.Println("API key not found. Please set it using the --key flag or the KABUTO_KEY environment variable")
			return
		}

		client := NewClient(url, key)
		if err := client.DeleteImage(args[0]); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Println("✓ Image deleted")
	},
}

func init() {
	flags := imageBuildCmd.Flags()
	flags.StringP("name", "n", "", "Name of the image (required)")
	flags.StringP("dockerfile", "f", "", "Path to a local Dockerfile")
	flags.StringP("repo", "r", "", "Git repository URL containing a Dockerfile")
	flags.Bool("nocache", false, "Build without the layer cache")

	imageCmd.AddCommand(imageBuildCmd)
	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageRmCmd)
	rootCmd.AddCommand(imageCmd)
}
