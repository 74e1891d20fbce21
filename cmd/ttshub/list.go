package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ttshub/internal/catalog"
)

func newLanguagesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the catalog languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := c.catalog()
			if err != nil {
				return err
			}
			for _, lang := range cat.Languages() {
				ids, _ := cat.ModelsFor(lang)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", lang, len(ids))
			}
			return nil
		},
	}
}

func newModelsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "models <language>",
		Short: "List the voices of a language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := c.catalog()
			if err != nil {
				return err
			}
			ids, err := cat.ModelsFor(args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				p, err := cat.Plan(id)
				if err != nil {
					return err
				}
				speakers := "-"
				if p.Speakers > 0 {
					speakers = fmt.Sprint(p.Speakers)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, p.Kind, speakers)
			}
			return nil
		},
	}
}

// catalog loads the voice catalog without building the rest of the app.
func (c *cli) catalog() (*catalog.Catalog, error) {
	if p := c.cfg.Catalog.Path; p != "" {
		return catalog.Load(p)
	}
	return catalog.Default()
}
