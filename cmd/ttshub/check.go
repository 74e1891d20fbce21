package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ttshub/pkg/engine/sherpa"
)

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the readiness checks once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			checks, ok := a.Health().Run(cmd.Context())

			names := make([]string, 0, len(checks))
			for name := range checks {
				names = append(names, name)
			}
			slices.Sort(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintf(out, "%-18s %s\n", name, checks[name])
			}
			fmt.Fprintf(out, "%-18s %v\n", "native_runtime", sherpa.Available)
			if !ok {
				return errors.New("readiness checks failed")
			}
			return nil
		},
	}
}
