package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List submitted packages",
	Run: func(cmd *cobra.Command, args []string) {
		pkgs, err := NewClient(viper.GetString("url")).ListPackages()
		if err != nil {
			cmd.Printf("List failed: %v\n", err)
			return
		}
		if len(pkgs) == 0 {
			cmd.Println("No packages submitted yet")
			return
		}

		cmd.Printf("%s%-6s %-30s %s%s\n", colorBold, "ID", "NAME", "URL", colorReset)
		for _, p := range pkgs {
			cmd.Printf("%-6d %-30s %s\n", p.ID, p.Name, p.URL)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
