package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"echoscript/internal/diagnostics"
	"echoscript/internal/domain"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify external tools and configured paths",
	Long: `Check runs the same startup diagnostics as the desktop app: it
verifies ffmpeg and whisper.cpp are on PATH, the model path points at a
usable model, the output directory is writable, and the chunking policy
is sane.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	report := diagnostics.NewChecker().Run(settings)
	for _, item := range report.Items {
		icon := "[+]"
		if item.Status == domain.DiagnosticStatusFail {
			icon = "[-]"
		}
		fmt.Printf("%s %-18s %s\n", icon, item.Name, item.Message)
		if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
			fmt.Printf("    hint: %s\n", item.Hint)
		}
	}

	if report.HasFailures {
		return fmt.Errorf("diagnostics reported failures")
	}
	fmt.Println("All checks passed.")
	return nil
}
