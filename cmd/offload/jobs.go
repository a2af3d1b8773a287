package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/phrazzld/offload/internal/platform/ytdlp"
	"github.com/phrazzld/offload/internal/task"
	"github.com/spf13/cobra"
)

// jobOptions holds the flags of the one-shot commands
type jobOptions struct {
	*globalOptions
	lang string
}

// withApp loads the configuration, runs fn against a fresh application and
// shuts it down. Logs go to stderr so stdout only carries results.
func withApp(cmd *cobra.Command, opts *jobOptions, fn func(ctx context.Context, app *application) error) error {
	cfg, log, err := loadAppConfig(opts.globalOptions, loggerToStderr(cmd)...)
	if err != nil {
		return err
	}

	app, err := newApplication(cmd.Context(), cfg, log, opts.configPath)
	if err != nil {
		return err
	}
	defer app.cleanup()

	return fn(cmd.Context(), app)
}

// printResults writes one line per task: the id, then the link, the local
// file or the failure message
func printResults(w io.Writer, lang string, results []*task.Task) error {
	failed := 0
	for _, t := range results {
		var detail string
		switch {
		case !t.Result:
			failed++
			detail = "failed: " + t.Message.Text(lang)
		case t.StorageLink != "":
			detail = t.StorageLink
		default:
			detail = t.LocalPath
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", t.ID, detail); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(results))
	}
	return nil
}

func newUploadCommand(global *globalOptions) *cobra.Command {
	opts := &jobOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Store files and print their links",
		Long: `Upload files through the storage executor. Each file is copied into a
staging directory first; the storage worker owns and removes the copy.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			staging, err := os.MkdirTemp("", "offload-upload-")
			if err != nil {
				return fmt.Errorf("failed to create staging directory: %w", err)
			}
			defer os.RemoveAll(staging)

			tasks := make([]*task.Task, 0, len(args))
			for _, path := range args {
				staged, size, err := stageFile(path, staging)
				if err != nil {
					return err
				}
				tasks = append(tasks, task.New(task.KindUpload,
					task.WithID(filepath.Base(path)),
					task.WithLocalFile(staged, size)))
			}

			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				results, err := app.service.Store(ctx, tasks)
				if err != nil {
					return err
				}
				return printResults(cmd.OutOrStdout(), opts.lang, results)
			})
		},
	}

	cmd.Flags().StringVar(&opts.lang, "lang", task.DefaultLanguage, "language of failure messages")
	return cmd
}

// stageFile copies path into dir, keeping its base name
func stageFile(path, dir string) (string, int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	dst := filepath.Join(dir, filepath.Base(path))
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, fmt.Errorf("failed to stage %s: %w", path, err)
	}

	size, copyErr := io.Copy(out, src)
	if err := errors.Join(copyErr, out.Close()); err != nil {
		return "", 0, fmt.Errorf("failed to stage %s: %w", path, err)
	}
	return dst, size, nil
}

func newTranscribeCommand(global *globalOptions) *cobra.Command {
	opts := &jobOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "transcribe <file>...",
		Short: "Transcribe audio files next to their source",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks := make([]*task.Task, 0, len(args))
			for _, path := range args {
				abs, err := filepath.Abs(path)
				if err != nil {
					return fmt.Errorf("invalid path %s: %w", path, err)
				}
				tasks = append(tasks, task.New(task.KindTranscription,
					task.WithID(filepath.Base(path)),
					task.WithSource(abs)))
			}

			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				results, err := app.service.Transcribe(ctx, tasks)
				if err != nil {
					return err
				}
				return printResults(cmd.OutOrStdout(), opts.lang, results)
			})
		},
	}

	cmd.Flags().StringVar(&opts.lang, "lang", task.DefaultLanguage, "language of failure messages")
	return cmd
}

func newDownloadCommand(global *globalOptions) *cobra.Command {
	opts := &jobOptions{globalOptions: global}
	var (
		audio     bool
		subtitles bool
		req       ytdlp.Request
	)

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download media, storing results over the transfer limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = args[0]
			switch {
			case audio:
				req.Mode = ytdlp.ModeAudio
			case subtitles:
				req.Mode = ytdlp.ModeSubtitles
			default:
				req.Mode = ytdlp.ModeVideo
			}

			t := task.New(task.KindDownload, task.WithPayload(req))
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				result, err := app.service.Download(ctx, t)
				if err != nil {
					return err
				}
				return printResults(cmd.OutOrStdout(), opts.lang, []*task.Task{result})
			})
		},
	}

	cmd.Flags().BoolVar(&audio, "audio", false, "extract the audio track")
	cmd.Flags().BoolVar(&subtitles, "subtitles", false, "fetch subtitles only")
	cmd.MarkFlagsMutuallyExclusive("audio", "subtitles")
	cmd.Flags().StringVar(&req.Title, "title", "", "file name stem, normalized")
	cmd.Flags().StringVar(&req.Quality, "quality", "", "video quality, for example 720p")
	cmd.Flags().StringVar(&req.SubLangs, "sub-langs", "", "subtitle languages, comma separated")
	cmd.Flags().StringVar(&opts.lang, "lang", task.DefaultLanguage, "language of failure messages")
	return cmd
}
