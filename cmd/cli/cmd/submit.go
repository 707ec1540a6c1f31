package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit [repo_url]",
	Short: "Submit a repository to be built against every Zig version",
	Long: `Submit a GitHub repository. zigcheck looks up its metadata, stores it and
queues one build per supported Zig version. Builds run in the background; use
'status' to follow them.

Example:
  zigcheckctl submit https://github.com/karlseguin/http.zig`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repoURL := strings.TrimSpace(args[0])
		if repoURL == "" {
			cmd.Println("Error: repository URL is required")
			return
		}

		client := NewClient(viper.GetString("url"))
		result, err := client.SubmitPackage(repoURL)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				cmd.Printf("Submit failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Submit failed: %v\n", err)
			}
			return
		}

		versions := make([]string, 0, len(result.Builds))
		for _, b := range result.Builds {
			versions = append(versions, b.ZigVersion)
		}
		cmd.Printf("✓ Package submitted!\nPackage ID: %d\nName:       %s\nQueued:     %s\n",
			result.Package.ID, result.Package.Name, strings.Join(versions, ", "))
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
}
