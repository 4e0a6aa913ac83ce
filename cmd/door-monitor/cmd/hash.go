package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/integrity"
)

func newHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [model-file]",
		Short: "Print the SHA-256 of a model file for model.sha256",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := integrity.HashFile(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, args[0])
			return err
		},
	}
}
