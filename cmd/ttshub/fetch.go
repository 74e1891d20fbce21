package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCmd(c *cli) *cobra.Command {
	var (
		all         bool
		language    string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "fetch [model...]",
		Short: "Download voice artifacts ahead of time",
		Long: `Download every artifact the given voices need into the local cache,
including the segmentation dictionary, without building engines.

Example:
  ttshub fetch csukuangfj/vits-ljs csukuangfj/vits-vctk
  ttshub fetch --language German
  ttshub fetch --all --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			cat := a.Catalog()

			ids := args
			switch {
			case all:
				ids = cat.IDs()
			case language != "":
				ids, err = cat.ModelsFor(language)
				if err != nil {
					return err
				}
			}
			if len(ids) == 0 {
				return errors.New("nothing to fetch; name models, --language or --all")
			}

			if err := a.Prefetch(cmd.Context(), ids, concurrency); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched %d voices into %s\n", len(ids), c.cfg.Hub.CacheDir)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&all, "all", false, "fetch every voice in the catalog")
	f.StringVarP(&language, "language", "l", "", "fetch every voice of a language")
	f.IntVar(&concurrency, "concurrency", 4, "voices fetched in parallel (0 = unlimited)")
	cmd.MarkFlagsMutuallyExclusive("all", "language")
	return cmd
}
