package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ttshub/internal/synth"
	"github.com/MrWong99/ttshub/pkg/audio"
)

func newSynthCmd(c *cli) *cobra.Command {
	var (
		req       synth.Request
		outputDir string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "synth [text]",
		Short: "Synthesize text into a WAV file",
		Long: `Synthesize text into a 16-bit PCM WAV file.

The text comes from the argument, or from standard input when the argument
is "-" or missing. Without -o the file gets a random name in --output-dir.

Example:
  ttshub synth -m csukuangfj/vits-piper-en_US-amy-low "Hello there"
  echo "Guten Tag" | ttshub synth -m csukuangfj/vits-piper-de_DE-thorsten-medium -o hi.wav`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			req.Text = text

			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(cmd.Context()) }()

			res, err := a.Synth().Synthesize(cmd.Context(), req)
			if err != nil {
				return err
			}

			path := output
			if path != "" {
				err = audio.WriteWAVFile(path, res.Audio)
			} else {
				path, err = audio.WriteWAV(outputDir, res.Audio)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.Model, "model", "m", "", "voice identifier (see 'ttshub models')")
	f.Float64VarP(&req.Speed, "speed", "s", 1, "speaking rate; 1 is the voice's natural rate")
	f.IntVar(&req.Speaker, "speaker", 0, "speaker index of a multi-speaker voice")
	f.StringVarP(&output, "output", "o", "", "output WAV path")
	f.StringVar(&outputDir, "output-dir", ".", "directory for randomly named output when -o is not set")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read text from stdin: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", errors.New("no text given")
	}
	return text, nil
}
