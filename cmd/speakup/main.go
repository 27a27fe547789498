package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFilePath string

var rootCmd = &cobra.Command{
	Use:   "speakup",
	Short: "Classroom loudness streaming client",
	Long: `speakup streams a student's microphone to a ranking server,
and shows teachers the live loudness ranking and transcript history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadConfig(configFilePath)
		logFilePointer, err := utils.ConfigureDefaultLogger(
			viper.GetString("loglevel"),
			viper.GetString("logfile"),
			slog.HandlerOptions{},
		)
		if err != nil {
			return fmt.Errorf("error while configuring default logger: %w", err)
		}
		if logFilePointer != nil {
			cobra.OnFinalize(func() { logFilePointer.Close() })
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilePath, "configFilePath", "config.yaml", "Set the file path to the config file.")

	rootCmd.AddCommand(studentCmd)
	rootCmd.AddCommand(teacherCmd)
	rootCmd.AddCommand(devicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
