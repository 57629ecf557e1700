package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/example/damage-check/internal/analysis"
	"github.com/example/damage-check/internal/auth"
	"github.com/example/damage-check/internal/config"
	"github.com/example/damage-check/internal/handlers"
	"github.com/example/damage-check/internal/imagesource"
	"github.com/example/damage-check/internal/logging"
	"github.com/example/damage-check/internal/session"
	"github.com/example/damage-check/internal/workflow"
)

// Exit codes of the analyze command.
const (
	exitOK        = 0
	exitTechnical = 1
	exitNoVehicle = 2
)

func main() {
	app := &cli.App{
		Name:  "damagecheck",
		Usage: "photograph a damaged vehicle and get a repair cost estimate",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML config file",
				EnvVars: []string{"DAMAGECHECK_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "analysis service base URL",
				EnvVars: []string{"ANALYSIS_BASE_URL"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "human readable debug logging",
			},
		},
		Commands: []*cli.Command{
			analyzeCommand(),
			serveCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitTechnical)
	}
}

func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	newLogger := logging.NewLogger
	if c.Bool("debug") {
		newLogger = logging.NewDevelopmentLogger
	}
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, logging.NewOperationError("config.load", "", err)
	}
	if u := c.String("base-url"); u != "" {
		cfg.Analysis.BaseURL = u
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return cfg, logger, nil
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "analyze one photo and print the damage report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Usage: "photo to analyze (gallery pick)"},
			&cli.StringFlag{Name: "camera-dir", Usage: "capture directory; the newest JPEG is used", EnvVars: []string{"CAPTURE_DIR"}},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := analyzeOptions{
				image:     c.String("image"),
				cameraDir: c.String("camera-dir"),
				json:      c.Bool("json"),
			}
			client := analysis.New(cfg.Analysis.BaseURL, analysis.WithTimeout(cfg.Analysis.Timeout), analysis.WithLogger(logger))
			controller := workflow.NewController(client, logger, workflow.WithScanPhase(cfg.Workflow.ScanPhase))

			if code := runAnalyze(ctx, opts, controller, logger, c.App.Writer, c.App.ErrWriter); code != exitOK {
				return cli.Exit("", code)
			}
			return nil
		},
	}
}

type analyzeOptions struct {
	image     string
	cameraDir string
	json      bool
}

// runAnalyze performs one attempt: select an image, confirm it, render the terminal state.
func runAnalyze(ctx context.Context, opts analyzeOptions, controller *workflow.Controller, logger *zap.Logger, stdout, stderr io.Writer) int {
	source := imagesource.NewSource(imagesource.FileGallery{Path: opts.image}, imagesource.SpoolCamera{Dir: opts.cameraDir}, logger)

	var (
		image imagesource.Handle
		err   error
	)
	if opts.image == "" && opts.cameraDir != "" {
		image, err = source.CaptureFromCamera(ctx)
	} else {
		image, err = source.PickFromGallery(ctx)
	}
	switch {
	case errors.Is(err, imagesource.ErrPermissionDenied):
		fmt.Fprintln(stderr, "Yetki Hatası: Kamera erişim izni gerekiyor.")
		return exitTechnical
	case errors.Is(err, imagesource.ErrCancelled):
		fmt.Fprintln(stderr, "Fotoğraf seçilmedi.")
		return exitOK
	case err != nil:
		fmt.Fprintln(stderr, "Fotoğraf alınamadı:", err)
		return exitTechnical
	}

	states, unsubscribe := controller.Subscribe()
	defer unsubscribe()

	if _, err := controller.Confirm(ctx, image); err != nil {
		fmt.Fprintln(stderr, "Analiz başlatılamadı:", err)
		return exitTechnical
	}

	var final workflow.State
	for !final.Phase.Terminal() {
		select {
		case <-ctx.Done():
			controller.Abandon()
			fmt.Fprintln(stderr, "Analiz iptal edildi.")
			return exitTechnical
		case s := <-states:
			switch s.Phase {
			case workflow.Scanning:
				fmt.Fprintln(stderr, "Araç Taranıyor...")
			case workflow.Analyzing:
				fmt.Fprintln(stderr, "Hasar Analiz Ediliyor...")
			}
			final = s
		}
	}

	switch final.Phase {
	case workflow.Complete:
		if opts.json {
			if err := json.NewEncoder(stdout).Encode(final.Result); err != nil {
				logger.Error("failed to write report", zap.Error(err))
				return exitTechnical
			}
			return exitOK
		}
		fmt.Fprintln(stdout, "Araç Doğrulandı")
		if err := final.Result.Format(stdout); err != nil {
			logger.Error("failed to write report", zap.Error(err))
			return exitTechnical
		}
		return exitOK
	case workflow.NoVehicleDetected:
		fmt.Fprintln(stderr, "Araç Bulunamadı:", final.Message)
		return exitNoVehicle
	default:
		fmt.Fprintln(stderr, "Hata:", final.Message)
		return exitTechnical
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the presentation API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address", EnvVars: []string{"HTTP_ADDR"}},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if a := c.String("addr"); a != "" {
				cfg.Server.Addr = a
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}

			router, manager, err := newAPI(cfg, logger)
			if err != nil {
				return err
			}
			listener, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return logging.NewOperationError("server.listen", "", err)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(stop)

			logger.Info("presentation API listening", zap.String("addr", listener.Addr().String()), zap.String("analysis_base_url", cfg.Analysis.BaseURL))
			server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
			err = runServer(server, listener, stop, shutdownTimeout, logger)
			logger.Info("presentation API stopped", zap.Int("users_with_attempts", manager.Users()))
			if err != nil {
				logger.Error("server failed", zap.Error(err))
			}
			return err
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue a bearer token for the presentation API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"sub"}, Usage: "user id carried by the token", Required: true},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, 0)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(c.String("subject"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

// shutdownTimeout bounds how long in-flight requests may run after a stop signal.
// Analysis calls are detached from requests and are not waited for.
const shutdownTimeout = 15 * time.Second

// newAPI wires the presentation API: one workflow per user over a shared analysis
// client, behind bearer token authentication.
func newAPI(cfg *config.Config, logger *zap.Logger) (*gin.Engine, *session.Manager, error) {
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, 30*time.Second)
	if err != nil {
		return nil, nil, err
	}

	client := analysis.New(cfg.Analysis.BaseURL, analysis.WithTimeout(cfg.Analysis.Timeout), analysis.WithLogger(logger))
	manager := session.NewManager(func(userID string, opts ...workflow.Option) *workflow.Controller {
		opts = append(opts, workflow.WithScanPhase(cfg.Workflow.ScanPhase))
		return workflow.NewController(client, logger.With(zap.String("user_id", userID)), opts...)
	}, cfg.Capture.Dir, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes
	handlers.RegisterRoutes(r, manager, auth.Middleware(verifier), cfg.Server.MaxUploadBytes)
	return r, manager, nil
}

// runServer serves on listener until stop fires, then drains in-flight requests
// for at most drain.
func runServer(server *http.Server, listener net.Listener, stop <-chan os.Signal, drain time.Duration, logger *zap.Logger) error {
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		logger.Info("draining presentation API", zap.Any("signal", sig), zap.Duration("timeout", drain))
	}

	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return logging.NewOperationError("server.shutdown", "", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
