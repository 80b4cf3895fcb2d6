package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/go-voice-assistant/internal/tts"
)

func newVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List voices from the voice manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			vm, err := tts.NewVoiceManager(cfg.Paths.VoiceManifest)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tLANGUAGE\tLICENSE\tPATH")
			for _, v := range vm.ListVoices() {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.Language, v.License, v.Path)
			}
			return tw.Flush()
		},
	}
}
