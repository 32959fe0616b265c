package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/MirrorRoom/internal/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "mirrorroom",
		Short: "MirrorRoom - webcam-driven projection room",
		Long: `MirrorRoom turns a webcam feed into an interactive room: two projection
walls built from thresholded camera samples and a screen that redraws the
viewer's silhouette out of words.

Features:
  • Camera capture via GStreamer, V4L2 or a synthetic pattern
  • Instanced point walls streamed over websocket
  • Text-silhouette screen with contour and glitch effects
  • Live per-pipeline settings and presets
  • REST API, MJPEG stream, X11 and terminal previews`,
		SilenceUsage: true,
	}
)

// flagKeys binds persistent flags to the config keys they override.
var flagKeys = map[string]string{
	"port":           "server_port",
	"log-level":      "log_level",
	"backend":        "capture.backend",
	"device":         "capture.device",
	"user-agent":     "device.user_agent",
	"viewport-width": "device.viewport_width",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mirrorroom/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "capture backend (auto, gstreamer, gst-launch, v4l2, synthetic, x11grab)")
	rootCmd.PersistentFlags().String("device", "", "capture device id, e.g. /dev/video0")
	rootCmd.PersistentFlags().String("user-agent", "", "client user agent used to pick the device profile")
	rootCmd.PersistentFlags().Int("viewport-width", 0, "client viewport width used to pick the device profile")

	// Bind flags to viper
	for flag, key := range flagKeys {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("mirrorroom")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file and applies flag and environment overrides
// to the returned copy. Overrides are never written back.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	applyOverrides(cfg, viper.GetViper())
	return configMgr, cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if port := v.GetInt("server_port"); v.IsSet("server_port") && port > 0 {
		cfg.ServerPort = port
	}
	if level := v.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if backend := v.GetString("capture.backend"); backend != "" {
		cfg.Capture.Backend = backend
	}
	if dev := v.GetString("capture.device"); dev != "" {
		cfg.Capture.Device = dev
	}
	if ua := v.GetString("device.user_agent"); ua != "" {
		cfg.Device.UserAgent = ua
	}
	if w := v.GetInt("device.viewport_width"); w > 0 {
		cfg.Device.ViewportWidth = w
	}
}
