package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"backroom/internal/demux"
	"backroom/internal/domain"

	"github.com/spf13/cobra"
)

type demuxOutput struct {
	Mode     string           `json:"mode"`
	Messages []domain.Message `json:"messages"`
}

func demuxCmd() *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "demux [file]",
		Short: "Split a raw agent reply into direct and backroom messages",
		Long:  "Reads a raw reply from the file argument (or stdin) and prints the resulting messages as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read reply: %w", err)
			}

			if author == "" {
				author = demux.DefaultAuthor
			}
			result := demux.Parse(string(raw))
			out := demuxOutput{
				Mode:     result.Mode().String(),
				Messages: result.Messages(author),
			}
			if out.Messages == nil {
				out.Messages = []domain.Message{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&author, "author", demux.DefaultAuthor, "author name stamped on the messages")
	return cmd
}
