package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [package_id]",
	Short: "Rebuild a package against every Zig version",
	Long:  `Reset every Zig version of a package to pending and build them again.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		result, err := client.RebuildPackage(args[0])
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				cmd.Printf("Rebuild failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Rebuild failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Rebuild queued for package %d: %s\n", result.PackageID, strings.Join(result.Versions, ", "))
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}
