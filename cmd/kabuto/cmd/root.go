package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kabuto",
	Short: "Kabuto is a command line tool for running container pipelines",
	Long: `kabuto is the command-line interface for the kabuto job execution platform.

Kabuto runs pipelines of containerized jobs: you build an image from a
Dockerfile or a git repository, attach input files to jobs, submit the
pipeline and collect logs and result archives when the jobs finish.

Common workflows:

  Register and save your API key:
    kabuto register alice

  Build an image:
    kabuto image build --name trainer --dockerfile ./Dockerfile

  Create a pipeline and add a job:
    kabuto pipeline create --name nightly
    kabuto job add <pipeline-id> --image <image-id> --command "python train.py" --attach data.csv

  Submit and watch:
    kabuto submit <pipeline-id>
    kabuto logs <job-id> --follow
    kabuto results <job-id> -o results.zip

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    KABUTO_URL    API endpoint (default: http://localhost:5000)
    KABUTO_KEY    API key for authentication

For more information, visit: https://github.com/adimian/kabuto`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".kabuto"
		viper.AddConfigPath(home)
		viper.SetConfigName(".kabuto")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "KABUTO_VARNAME"
	viper.SetEnvPrefix("KABUTO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kabuto.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:5000", "Kabuto coordinator URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("key", "k", "", "API key for authentication")
	viper.BindPFlag("key", rootCmd.PersistentFlags().Lookup("key"))
}
