package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"zigcheck/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status [package_id]",
	Short: "Show build results of a package",
	Long: `Show the latest result of a package for every Zig version: build status
(pending, success, failed), test status, when it was last checked and, for
failures, the stored error summary.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		verbose, _ := cmd.Flags().GetBool("verbose")

		pkg, err := client.GetPackage(args[0])
		if err != nil {
			printRequestError(cmd, err)
			return
		}
		builds, err := client.GetBuilds(args[0])
		if err != nil {
			printRequestError(cmd, err)
			return
		}

		printStatus(cmd, pkg, builds, verbose)
	},
}

func printRequestError(cmd *cobra.Command, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Request failed: %v\n", err)
}

func printStatus(cmd *cobra.Command, pkg *api.PackageResponse, builds *api.PackageBuildsResponse, verbose bool) {
	cmd.Printf("%s%s%s %s(#%d)%s\n", colorBold, pkg.Name, colorReset, colorDim, pkg.ID, colorReset)
	cmd.Printf("%sURL:%s     %s\n", colorDim, colorReset, pkg.URL)
	if pkg.License != "" {
		cmd.Printf("%sLicense:%s %s\n", colorDim, colorReset, pkg.License)
	}
	cmd.Println("──────────────────────────────")

	for _, b := range builds.Builds {
		cmd.Printf("%-8s %s  %stests:%s %-8s %s\n",
			b.ZigVersion,
			colorizeStatus(b.BuildStatus),
			colorDim, colorReset,
			testLabel(b.TestStatus),
			formatTimeWithRelative(&b.LastChecked))
		if verbose && b.ErrorLog != "" {
			for _, line := range strings.Split(b.ErrorLog, "\n") {
				cmd.Printf("    %s%s%s\n", colorRed, line, colorReset)
			}
		}
	}
	for _, v := range builds.Missing {
		cmd.Printf("%-8s %s\n", v, colorDim+"not yet checked"+colorReset)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func statusIcon(status string) string {
	switch status {
	case "success":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "pending":
		return colorYellow + "⏳" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "success":
		return icon + " " + colorGreen + status + colorReset
	case "failed":
		return icon + " " + colorRed + status + colorReset
	case "pending":
		return icon + " " + colorYellow + status + colorReset
	default:
		return status
	}
}

func testLabel(status string) string {
	switch status {
	case "":
		return "-"
	case "no_tests":
		return "none"
	}
	return status
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func init() {
	statusCmd.Flags().BoolP("verbose", "v", false, "Print stored error summaries")
	rootCmd.AddCommand(statusCmd)
}
