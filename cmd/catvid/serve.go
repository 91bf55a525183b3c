package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/pipeline"
	"github.com/RyanBlaney/catvid/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the classification HTTP API",
	Long: `Serve loads the current model and exposes:

  GET  /health         liveness and model status
  GET  /api/model      loaded artifact details
  POST /api/upload     multipart upload (field video, audio or file)
  POST /api/classify   raw request body

Send SIGHUP to reload the model after training a new version. The server
starts without a model if none is published yet and answers 503 until one
is loaded.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":5000", "listen address")
	serveCmd.Flags().String("resample", "soxr", "resampler (soxr, sinc)")
	serveCmd.Flags().Bool("no-ffmpeg", false, "accept WAV input only")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frontend, err := newFrontend(appConfig)
	if err != nil {
		return err
	}

	registry := artifact.NewRegistry(artifact.NewStore(appConfig.Artifacts.Dir), frontend.FeatureVersion())
	if b, err := registry.Reload(); err != nil {
		logging.Warn("Starting without a model", logging.Fields{"error": err.Error()})
	} else {
		logging.Info("Model loaded", logging.Fields{"artifact_id": b.ID})
	}

	go reloadOnHangup(ctx, registry)

	srv := server.New(appConfig.Server.HTTP(), pipeline.NewInference(frontend, registry), registry)
	return srv.ListenAndServe(ctx)
}

// reloadOnHangup swaps in the newest published model on every SIGHUP.
// A failed reload keeps serving the previous model.
func reloadOnHangup(ctx context.Context, registry *artifact.Registry) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			b, err := registry.Reload()
			if err != nil {
				logging.Error(err, "Model reload failed, keeping current model")
				continue
			}
			logging.Info("Model reloaded", logging.Fields{"artifact_id": b.ID})
		}
	}
}
