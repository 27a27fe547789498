package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/speakup/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SPEAKUP"

// Load configuration into viper: defaults, then the config file, then
// SPEAKUP_* environment variables (which may come from a .env file).
func LoadConfig(configFilePath string) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error loading .env file", "err", err)
	}

	utils.SetViperDefaults()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}

	// A data channel link cannot connect outside the local network without an ICE server
	if viper.GetString("transport") == "webrtc" && len(viper.GetStringSlice("ICEServers")) == 0 {
		slog.Warn("webrtc transport without ICE servers, only host candidates will be offered. See the `config` section of the README.")
	}
}
