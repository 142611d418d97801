// Package cmd implements the echoscript command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"echoscript/internal/logging"

	"github.com/rs/zerolog"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "echoscript",
	Short: "Local media transcription",
	Long: `EchoScript transcribes audio and video files on the local machine.

Media is decoded with ffmpeg, split into overlapping chunks, and
recognized one chunk at a time with a whisper.cpp model. No audio
leaves the machine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the CLI logger honoring the verbose flag.
func newLogger() zerolog.Logger {
	level := "info"
	if verbose {
		level = "debug"
	}
	return logging.New(level)
}
