package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "smart-doctor",
	Short: "Terminal client for the Smart Doctor assistant",
	Long: `smart-doctor talks to a running Smart Doctor API server.
Use "chat" for an interactive conversation and "diagnose" to send an image
to one of the hosted diagnosis models.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/smart-doctor/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("server", "", "API server base URL")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("SMART_DOCTOR")
	viper.AutomaticEnv()

	viper.SetDefault("server", "http://localhost:8080")
	viper.SetDefault("busy_policy", "queue")
	viper.SetDefault("history_window", 10)
	viper.SetDefault("history_file", "")
	viper.SetDefault("predict_urls.skin", "https://mostafa3x-ahmed-predict-image.hf.space/predict-image/")
	viper.SetDefault("predict_urls.eye", "https://mostafa3x-eye-model.hf.space/eye-predict/")
	viper.SetDefault("predict_urls.blood", "https://islamfekryx0-blood-model.hf.space/blood-predict/")
	viper.SetDefault("predict_urls.brain", "https://mostafa3x-brain-tumor1.hf.space/predict-tumor/")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(filepath.Join(home, ".config", "smart-doctor"))
		viper.SetConfigType("toml")
		viper.SetConfigName("config")
	}

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		cobra.CheckErr(err)
	}
}
