package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"liveclass/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "liveclass",
		Short: "Live classroom signaling and coordination server",
		Long: `liveclass runs the real-time coordination core of a live classroom:
rooms, chat, WebRTC signaling relay and instructor moderation over WebSocket.

Configuration is read from flags, LIVECLASS_* environment variables and an
optional config file, in that order of precedence.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newServeCmd(), newClassCmd())
	return root
}

// loadConfig resolves configuration for cmd from its parsed flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(viper.New(), cmd.Flags(), "")
}
