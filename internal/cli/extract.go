package cli

import (
	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <script-file|->",
	Short: "Print the narration text and cue positions of a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtractCommand,
}

type extractOutput struct {
	Cleaned     string              `json:"cleaned"`
	WordCount   int                 `json:"word_count"`
	Annotations []models.Annotation `json:"annotations"`
}

func runExtractCommand(cmd *cobra.Command, args []string) error {
	script, err := readScript(cmd, args[0])
	if err != nil {
		return err
	}

	res, err := annotation.Extract(script, mode())
	if err != nil {
		return err
	}

	out := extractOutput{Cleaned: res.Cleaned, WordCount: res.WordCount, Annotations: res.Annotations}
	if out.Annotations == nil {
		out.Annotations = []models.Annotation{}
	}
	return printJSON(cmd, out)
}
