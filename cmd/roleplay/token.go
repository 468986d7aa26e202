package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/MrWong99/roleplay/internal/token"
)

func newTokenCmd(g *globalFlags) *cobra.Command {
	var room, participant string
	cmd := &cobra.Command{
		Use:   "token --room <room> --participant <name>",
		Short: "Mint a media access token from the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			issuer := token.NewIssuer(cfg.Channel.APIKey, cfg.Channel.APISecret, cfg.Channel.URL, cfg.Channel.TokenTTL)
			grant, err := issuer.Issue(room, participant)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(grant)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room name")
	cmd.Flags().StringVar(&participant, "participant", "", "participant identity")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}
