package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var registerCmd = &cobra.Command{
	Use:   "register [login]",
	Short: "Register a new user and print its API key",
	Long: `Register a new user on the platform. The API key is printed exactly
once; save it in $HOME/.kabuto.yaml or the KABUTO_KEY environment variable.

Example:
  kabuto register alice`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		login := args[0]
		url := viper.GetString("url")

		client := NewClient(url, "")
		result, err := client.Register(login)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ User registered!\nLogin: %s\nAPI key: %s\n", result.Login, result.APIKey)
		cmd.Println("\nStore the key now; it cannot be retrieved again.")
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
