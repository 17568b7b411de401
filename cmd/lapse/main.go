package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"lapse/internal/core"
	"lapse/internal/server/config"
	"lapse/internal/server/database"
	"lapse/internal/server/retention"
	"lapse/internal/server/service"
	"lapse/internal/server/storage"
)

const usage = `Usage: lapse [global flags] <command> [args]

Commands:
  upload [--retention 7d] [--id ID] <path>...   store files
  info <id>                                     show metadata
  download [-o file] <id>                       write a file's content
  delete <id>                                   delete a stored blob
  sweep blobs|metadata|all                      run expiration sweeps now

Global flags are the server's (--config, --metadata-driver, --database-url,
--storage-path, --log-level); settings also come from the environment and
config.yaml.
`

type app struct {
	repo    database.Repository
	svc     *service.FileService
	cleanup *storage.CleanupService
	out     io.Writer
}

func main() {
	_ = godotenv.Load()

	cfg, args, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.repo.Close()

	if err := a.run(ctx, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	repo, err := database.Open(ctx, cfg.DatabaseOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		repo.Close()
		return nil, err
	}

	policy, err := retention.NewPolicy(cfg.RetentionPeriods, cfg.RetentionGrace)
	if err != nil {
		repo.Close()
		return nil, err
	}

	clock := clockwork.NewRealClock()
	cleanup, err := storage.NewCleanupService(repo, store, policy, clock, storage.CleanupConfig{
		BlobSchedule:     cfg.BlobSchedule,
		MetadataSchedule: cfg.MetadataSchedule,
	})
	if err != nil {
		repo.Close()
		return nil, err
	}

	return &app{
		repo:    repo,
		svc:     service.NewFileService(repo, store, policy, clock, cfg.MaxFileSize),
		cleanup: cleanup,
		out:     os.Stdout,
	}, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "upload":
		return a.upload(ctx, args)
	case "info":
		return a.info(ctx, args)
	case "download":
		return a.download(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "sweep":
		return a.sweep(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) upload(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	period := fs.StringP("retention", "r", "", "Retention period, e.g. 1d, 7d or \"14 days\" (default: shortest configured)")
	id := fs.String("id", "", "File id (single file only; default: random UUID)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	paths, err := core.ParseArgs(fs.Args())
	if err != nil {
		return err
	}
	if *id != "" && len(paths) > 1 {
		return errors.New("--id can only be used with a single file")
	}
	if *period == "" {
		*period = retention.Format(a.svc.Retentions()[0])
	}

	for _, p := range paths {
		content, err := os.ReadFile(p.FullPath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p.FullPath, err)
		}

		fileID := *id
		if fileID == "" {
			fileID = uuid.NewString()
		}

		rec, err := a.svc.UploadFile(ctx, service.UploadRequest{
			ID:        fileID,
			Name:      p.Name,
			MimeType:  p.MimeType,
			Content:   content,
			Retention: *period,
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", p.FullPath, err)
		}

		fmt.Fprintf(a.out, "✓ %s  %s  %s  expires %s\n",
			rec.ID, rec.Name, humanize.IBytes(uint64(rec.Size)), humanize.Time(rec.DeleteDate))
	}
	return nil
}

func (a *app) info(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: lapse info <id>")
	}

	rec, err := a.svc.GetFileInfo(ctx, args[0])
	if err != nil {
		return err
	}

	status := "active"
	if a.svc.Expired(rec) {
		status = "expired"
	}

	fmt.Fprintf(a.out, "ID:        %s\n", rec.ID)
	fmt.Fprintf(a.out, "Name:      %s\n", rec.Name)
	fmt.Fprintf(a.out, "Size:      %s (%d bytes)\n", humanize.IBytes(uint64(rec.Size)), rec.Size)
	fmt.Fprintf(a.out, "Type:      %s\n", rec.MimeType)
	fmt.Fprintf(a.out, "Uploaded:  %s\n", rec.UploadDate.Format(time.RFC3339))
	fmt.Fprintf(a.out, "Deletes:   %s (%s)\n", rec.DeleteDate.Format(time.RFC3339), humanize.Time(rec.DeleteDate))
	fmt.Fprintf(a.out, "Downloads: %d\n", rec.Downloads)
	fmt.Fprintf(a.out, "Status:    %s\n", status)
	return nil
}

func (a *app) download(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("download", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "", "Output path, \"-\" for stdout (default: the stored file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: lapse download [-o file] <id>")
	}
	id := fs.Arg(0)

	content, err := a.svc.DownloadFile(ctx, id)
	if err != nil {
		return err
	}

	if *output == "-" {
		_, err := a.out.Write(content)
		return err
	}

	path := *output
	if path == "" {
		path = id
		if rec, err := a.svc.GetFileInfo(ctx, id); err == nil {
			path = rec.Name
		}
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "✓ wrote %s (%s)\n", path, humanize.IBytes(uint64(len(content))))
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: lapse delete <id>")
	}
	if err := a.svc.DeleteFile(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "✓ deleted %s\n", args[0])
	return nil
}

func (a *app) sweep(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: lapse sweep blobs|metadata|all")
	}

	var results []storage.SweepResult
	switch args[0] {
	case "blobs":
		results = append(results, a.cleanup.SweepBlobs(ctx))
	case "metadata":
		results = append(results, a.cleanup.SweepMetadata(ctx))
	case "all":
		results = append(results, a.cleanup.SweepBlobs(ctx), a.cleanup.SweepMetadata(ctx))
	default:
		return fmt.Errorf("unknown sweep %q", args[0])
	}

	var errs []error
	for _, r := range results {
		fmt.Fprintf(a.out, "%-8s scanned=%d deleted=%d failed=%d in %s\n",
			r.Sweep, r.Scanned, r.Deleted, r.Failed, r.Duration.Round(time.Millisecond))
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
