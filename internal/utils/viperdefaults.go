package utils

import "github.com/spf13/viper"

// Set the viper defaults for a speakup client.
// For use by cmd/config, and by tests that read configuration.
func SetViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("timeout", 30)

	viper.SetDefault("server", "http://localhost:8000")
	viper.SetDefault("name", "Student")
	viper.SetDefault("transport", "websocket")
	viper.SetDefault("ICEServers", []string{})

	viper.SetDefault("input", "tone")
	viper.SetDefault("inputfile", "")
	viper.SetDefault("inputloop", false)
	viper.SetDefault("inputdevice", -1)
	viper.SetDefault("sourcerate", 48000)
	viper.SetDefault("targetrate", 16000)
	viper.SetDefault("blocksize", 1024)
	viper.SetDefault("sendbuffer", 32)
	viper.SetDefault("levelscale", 200.0)
	viper.SetDefault("recordfile", "")

	viper.SetDefault("historyinterval", "3s")
	viper.SetDefault("historylimit", 200)
}
