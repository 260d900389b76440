package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cueframe",
	Short: "Overlay stock footage onto narration videos from bracketed script cues",
	Long: `Cueframe reads a narration script with bracketed footage cues such as
"[Show footage of the harbour at dusk]", maps each cue to a moment in the
narration video, finds a matching clip and composites it on top.`,
	SilenceUsage: true,
}

var strictMode bool

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&strictMode, "strict", false, "Reject scripts with an unterminated cue")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(renderCmd)
}

func mode() annotation.Mode {
	if strictMode {
		return annotation.ModeStrict
	}
	return annotation.ModeLenient
}

// readScript reads a script file, or stdin when path is "-".
func readScript(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	return newIndentEncoder(cmd.OutOrStdout()).Encode(v)
}

func newIndentEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}
