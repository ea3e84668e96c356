package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	htmlshot "github.com/porticus-lab/go-html-shot"
)

var errNoWatermark = errors.New("no watermark found")

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <image>",
		Short: "Print the watermark embedded in a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			text, ok := htmlshot.ExtractWatermark(data)
			if !ok {
				return errNoWatermark
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
