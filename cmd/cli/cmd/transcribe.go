package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"echoscript/internal/assemble"
	"echoscript/internal/config"
	"echoscript/internal/decode"
	"echoscript/internal/domain"
	"echoscript/internal/engine"
	"echoscript/internal/jobs"
)

var (
	transcribeModel   string
	transcribeOutput  string
	transcribeFormat  string
	transcribeLang    string
	transcribeChunk   int
	transcribeOverlap int
	transcribeWorkers int
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <media file> [media file...]",
	Short: "Transcribe one or more media files",
	Long: `Transcribe queues the given media files and waits until every job
reaches a terminal state. Files are processed in submission order;
inference runs one chunk at a time on a single model session.

Flags override the persisted settings for this invocation only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeModel, "model", "m", "", "model file or directory (default: settings)")
	transcribeCmd.Flags().StringVarP(&transcribeOutput, "output", "o", "", "output directory (default: settings)")
	transcribeCmd.Flags().StringVarP(&transcribeFormat, "format", "f", "", "output format: txt, srt, md, or docx (default: settings)")
	transcribeCmd.Flags().StringVarP(&transcribeLang, "language", "l", "", "spoken language code or auto (default: settings)")
	transcribeCmd.Flags().IntVar(&transcribeChunk, "chunk-seconds", 0, "chunk duration in seconds (default: settings)")
	transcribeCmd.Flags().IntVar(&transcribeOverlap, "overlap-seconds", -1, "chunk overlap in seconds (default: settings)")
	transcribeCmd.Flags().IntVar(&transcribeWorkers, "workers", 0, "decode worker count (default: settings)")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	settings = applyTranscribeFlags(settings)
	settings = config.Normalize(settings)

	if !assemble.Supported(settings.OutputFormat) {
		return fmt.Errorf("unsupported output format: %q", settings.OutputFormat)
	}

	session := engine.NewSession(engine.NewWhisperCPP(), func() string {
		return settings.ModelPath
	}, log)

	scheduler := jobs.NewScheduler(jobs.Config{
		DecodeWorkers: settings.DecodeWorkers,
		ChunkDuration: time.Duration(settings.ChunkSeconds) * time.Second,
		Overlap:       time.Duration(settings.OverlapSeconds) * time.Second,
	}, jobs.NewMediaDecoder(decode.NewAdapter()), session, jobs.NewEventBus(1000), log)
	defer scheduler.Close()

	// The sink only wakes the wait loop; events are read back from the
	// bus history, so a coalesced wakeup never loses a terminal event.
	wakeup := make(chan struct{}, 1)
	scheduler.Events().SetSink(func(jobs.Event) {
		select {
		case wakeup <- struct{}{}:
		default:
		}
	})
	scheduler.Start()

	pending := make(map[string]string, len(args))
	for _, path := range args {
		job, err := scheduler.Submit(jobs.SubmitRequest{
			SourcePath: path,
			Format:     settings.OutputFormat,
			OutputDir:  settings.OutputDir,
			Language:   settings.Language,
		})
		if err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}
		pending[job.ID] = path
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	failed := awaitJobs(scheduler, pending, wakeup, interrupt, os.Stdout, os.Stderr)
	if failed > 0 {
		return fmt.Errorf("%d job(s) did not complete", failed)
	}
	return nil
}

// awaitJobs drains bus events until every pending job is terminal and
// returns the number that did not complete. The ticker covers wakeups
// lost while the loop was already awake.
func awaitJobs(scheduler *jobs.Scheduler, pending map[string]string, wakeup <-chan struct{}, interrupt <-chan os.Signal, out, errOut io.Writer) int {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	failed := 0
	var lastSeq int64
	for len(pending) > 0 {
		select {
		case <-interrupt:
			fmt.Fprintln(errOut, "interrupted, cancelling remaining jobs")
			for id := range pending {
				_ = scheduler.Cancel(id)
			}
		case <-wakeup:
		case <-ticker.C:
		}

		for _, event := range scheduler.Events().Since(lastSeq) {
			lastSeq = event.Seq
			path, known := pending[event.JobID]
			if !known {
				continue
			}

			switch event.Type {
			case jobs.EventTypeWarning:
				fmt.Fprintf(errOut, "warning: %s: %s\n", path, event.Message)
			case jobs.EventTypeCompleted:
				fmt.Fprintf(out, "%s -> %s\n", path, event.OutputPath)
				delete(pending, event.JobID)
			case jobs.EventTypeFailed:
				fmt.Fprintf(errOut, "failed: %s: %s\n", path, event.Message)
				failed++
				delete(pending, event.JobID)
			case jobs.EventTypeState:
				if event.State == domain.JobStateCancelled {
					fmt.Fprintf(errOut, "cancelled: %s\n", path)
					failed++
					delete(pending, event.JobID)
				}
			}
		}
	}
	return failed
}

// loadSettings reads persisted settings, falling back to defaults when
// no settings file exists yet.
func loadSettings() (domain.Settings, error) {
	path, err := config.SettingsPath()
	if err != nil {
		return config.DefaultSettings(), nil
	}

	settings, err := config.NewJSONStore(path).Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// applyTranscribeFlags overlays flag values onto persisted settings.
func applyTranscribeFlags(settings domain.Settings) domain.Settings {
	if transcribeModel != "" {
		settings.ModelPath = transcribeModel
	}
	if transcribeOutput != "" {
		settings.OutputDir = transcribeOutput
	}
	if transcribeFormat != "" {
		settings.OutputFormat = domain.OutputFormat(transcribeFormat)
	}
	if transcribeLang != "" {
		settings.Language = transcribeLang
	}
	if transcribeChunk > 0 {
		settings.ChunkSeconds = transcribeChunk
	}
	if transcribeOverlap >= 0 {
		settings.OverlapSeconds = transcribeOverlap
	}
	if transcribeWorkers > 0 {
		settings.DecodeWorkers = transcribeWorkers
	}
	return settings
}
