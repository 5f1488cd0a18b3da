package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"bgremover/internal/capability"
	"bgremover/internal/infra"
	"bgremover/internal/presentation"
	"bgremover/internal/session"
	"bgremover/internal/storage"
	"bgremover/internal/transfer"
)

const downloadPath = "/download-image"

// removeCommand takes its flag defaults from cfg, so the environment and
// .env feed the CLI through the same infra.Config as the API server.
func removeCommand(cfg *infra.Config) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove the background from one or more images",
		ArgsUsage: "<image> [image...]",
		Description: `Each image is selected into a session, processed by the chosen backend and the
result is saved as background-removed.png in the output folder. Existing files are
never overwritten; later results are numbered.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "embedded, http or function (BGREMOVE_BACKEND)",
				Aliases: []string{"b"},
				Value:   cfg.Backend,
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "Backend base URL for the http and function backends (BGREMOVE_ENDPOINT)",
				Aliases: []string{"e"},
				Value:   cfg.Endpoint,
			},
			&cli.StringFlag{
				Name:    "output",
				Usage:   "Folder where results are written (DOWNLOAD_DIR)",
				Aliases: []string{"o"},
				Value:   cfg.DownloadDir,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Maximum time to wait for one image (PROCESS_TIMEOUT_SECONDS)",
				Aliases: []string{"t"},
				Value:   cfg.ProcessTimeout,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent workers for the embedded backend (REMOVAL_WORKERS)",
				Value: cfg.RemovalWorkers,
			},
			&cli.Float64Flag{
				Name:  "tolerance",
				Usage: "Colour distance treated as background by the embedded backend (REMOVAL_TOLERANCE)",
				Value: cfg.RemovalTolerance,
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Usage:   "Only print the saved paths",
				Aliases: []string{"q"},
			},
		},
		Action: func(c *cli.Context) error {
			return runRemove(c, cfg)
		},
	}
}

func newApp(cfg *infra.Config) *cli.App {
	return &cli.App{
		Name:     "bgremove",
		Usage:    "Background removal from the command line",
		Commands: []*cli.Command{removeCommand(cfg)},
	}
}

func main() {
	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newApp(cfg).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRemove(c *cli.Context, cfg *infra.Config) error {
	if c.NArg() == 0 {
		return errors.New("at least one image path is required")
	}

	backend, err := capability.ParseBackend(c.String("backend"))
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(c.String("endpoint"), "/")
	if backend != capability.BackendEmbedded && endpoint == "" {
		return fmt.Errorf("--endpoint is required for the %s backend", backend)
	}

	logger := infra.NewLoggerTo(cfg.AppEnv, c.App.ErrWriter).Level(zerolog.WarnLevel)

	remover, err := capability.New(capability.Config{
		Backend:   backend,
		Endpoint:  endpoint,
		Timeout:   c.Duration("timeout"),
		Workers:   c.Int("workers"),
		Tolerance: c.Float64("tolerance"),
		Logger:    &logger,
	})
	if err != nil {
		return err
	}

	store, err := storage.NewFileStore(c.String("output"))
	if err != nil {
		return err
	}

	registry := transfer.NewRegistry()
	encOpts := transfer.EncoderOptions{Registry: registry}
	if backend != capability.BackendEmbedded {
		encOpts.DownloadEndpoint = endpoint + downloadPath
	}

	sess := session.New(remover,
		session.WithTimeout(c.Duration("timeout")),
		session.WithLogger(logger),
		session.WithRegistry(registry),
		session.WithEncoder(transfer.NewEncoder(encOpts)),
		session.WithSaver(store),
		session.WithMaxUploadBytes(cfg.MaxUploadBytes),
	)
	defer sess.Close()

	progress := io.Discard
	if !c.Bool("quiet") && isTerminal(c.App.ErrWriter) {
		progress = c.App.ErrWriter
	}

	fmt.Fprintf(progress, "saving results to %s\n", store.BasePath())

	done := make(chan session.Snapshot, 8)
	unsubscribe := sess.Subscribe(func(snap session.Snapshot) {
		fmt.Fprintln(progress, presentation.Bind(snap).Status())
		if snap.State == session.Ready || snap.State == session.Error {
			done <- snap
		}
	})
	defer unsubscribe()

	var failures []error
	for _, path := range c.Args().Slice() {
		if err := processOne(c.Context, sess, done, path, c.App.Writer); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", path, err))
		}
	}
	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	return nil
}

func processOne(ctx context.Context, sess *session.Session, done <-chan session.Snapshot, path string, out io.Writer) error {
	if err := sess.Select(transfer.OSFile{Path: path}); err != nil {
		return err
	}
	seq := sess.Snapshot().Seq

	var snap session.Snapshot
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap = <-done:
		}
		if snap.Seq == seq {
			break
		}
	}
	if snap.State == session.Error {
		return errors.New(snap.Message())
	}

	delivery, err := sess.Download(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, delivery.Location)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
