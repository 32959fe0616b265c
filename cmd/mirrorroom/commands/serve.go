package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/MirrorRoom/internal/api"
	"github.com/bryanchriswhite/MirrorRoom/internal/capture"
	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
	"github.com/bryanchriswhite/MirrorRoom/internal/output"
	"github.com/bryanchriswhite/MirrorRoom/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MirrorRoom server",
	Long: `Start the MirrorRoom HTTP server and the three pipelines.

Cameras are not opened until a client calls
POST /api/pipelines/{id}/initialize, unless --initialize is given.`,
	Example: `  # Start server on default port (8080)
  mirrorroom serve

  # Open every camera at startup with the synthetic pattern
  mirrorroom serve --initialize --backend synthetic

  # Share one camera between both walls
  mirrorroom config set capture.shared true && mirrorroom serve

  # Start with debug logging
  mirrorroom serve --log-level debug`,
	RunE: runServe,
}

var (
	serveInitialize bool
	servePretty     bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveInitialize, "initialize", false, "acquire cameras at startup")
	serveCmd.Flags().BoolVar(&servePretty, "pretty", true, "human-readable console logs")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, servePretty)
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Str("preset", configMgr.ActivePreset().ID).
		Msg("Configuration loaded")

	router := capture.DefaultRouter()
	inst, err := pipeline.New(pipeline.Options{
		Config:      cfg,
		Router:      router,
		Preset:      configMgr.ActivePreset(),
		WatchResume: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipelines: %w", err)
	}
	defer inst.Dispose()

	if cfg.Preview.X11 {
		if screen, ok := inst.Pipeline(pipeline.ScreenID); ok {
			win := output.NewX11Window("MirrorRoom", output.Config{
				Width:  cfg.Preview.Width,
				Height: cfg.Preview.Height,
				FPS:    cfg.Screen.FPS,
			})
			if err := win.Start(); err != nil {
				log.Warn().Err(err).Msg("X11 preview unavailable")
			} else {
				screen.AddOutput(win)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveInitialize {
		// A pending permission prompt must not hold up the server.
		go func() {
			if err := inst.Initialize(ctx); err != nil {
				log.Warn().Err(err).Msg("Some cameras failed to initialize, showing placeholders")
			}
		}()
	}

	server := api.NewServer(inst, configMgr, router)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		inst.Run(ctx)
	}()

	log.Info().
		Str("web_ui", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("stream", fmt.Sprintf("http://localhost:%d/stream/%s", cfg.ServerPort, pipeline.ScreenID)).
		Msg("MirrorRoom is running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		stop()
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("HTTP shutdown incomplete")
	}
	<-runDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
