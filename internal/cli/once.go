package cli

import (
	"github.com/spf13/cobra"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single calculation cycle and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Once(cmd.Context())
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Run a single cycle and print every intermediate value",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Debug(cmd.Context())
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Print the index value in every configured fiat currency",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Convert(cmd.Context())
	},
}
