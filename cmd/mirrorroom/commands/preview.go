package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/MirrorRoom/internal/capture"
	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
	"github.com/bryanchriswhite/MirrorRoom/internal/output"
	"github.com/bryanchriswhite/MirrorRoom/internal/pipeline"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview the text-silhouette screen locally",
	Long: `Open the camera and draw the silhouette screen without starting the HTTP
server. The terminal preview renders ASCII art; --x11 opens a window instead.`,
	Example: `  # ASCII preview in this terminal
  mirrorroom preview

  # X11 window preview using the synthetic pattern
  mirrorroom preview --x11 --backend synthetic

  # Keep logs out of the way of the ASCII frame
  mirrorroom preview --log-file /tmp/mirrorroom.log`,
	RunE: runPreview,
}

var (
	previewX11     bool
	previewCols    int
	previewRows    int
	previewLogFile string
)

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().BoolVar(&previewX11, "x11", false, "preview in an X11 window instead of the terminal")
	previewCmd.Flags().IntVar(&previewCols, "cols", 0, "terminal columns (default: terminal width)")
	previewCmd.Flags().IntVar(&previewRows, "rows", 0, "terminal rows (default: terminal height)")
	previewCmd.Flags().StringVar(&previewLogFile, "log-file", "", "write logs to this file during a terminal preview")
}

func runPreview(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The terminal preview owns stdout, so logs go elsewhere.
	var logOut io.Writer = os.Stdout
	pretty := true
	if !previewX11 {
		logOut = io.Discard
		if previewLogFile != "" {
			f, err := os.OpenFile(previewLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			logOut, pretty = f, false
		}
	}
	logger.InitWriter(cfg.LogLevel, pretty, logOut)

	cfg.LeftWall.Enabled = false
	cfg.RightWall.Enabled = false
	cfg.Screen.Enabled = true

	inst, err := pipeline.New(pipeline.Options{
		Config: cfg,
		Router: capture.DefaultRouter(),
		Preset: configMgr.ActivePreset(),
	})
	if err != nil {
		return fmt.Errorf("failed to build screen pipeline: %w", err)
	}
	defer inst.Dispose()
	screen, _ := inst.Pipeline(pipeline.ScreenID)

	var out output.Output
	if previewX11 {
		out = output.NewX11Window("MirrorRoom Preview", output.Config{
			Width:  cfg.Preview.Width,
			Height: cfg.Preview.Height,
			FPS:    cfg.Screen.FPS,
		})
	} else {
		out = output.NewTerminal(cmd.OutOrStdout(), previewCols, previewRows)
	}
	if err := out.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", out.Name(), err)
	}
	screen.AddOutput(out)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := screen.Initialize(ctx); err != nil {
			logger.WithComponent("preview").Warn().Err(err).Msg("Camera unavailable, showing placeholder")
		}
	}()
	screen.Run(ctx)
	return nil
}
