package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the release version stamped at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "beutl-auth",
	Short: "beutl-auth is the Beutl desktop authentication service",
	Long: `The authentication exchange for the Beutl desktop editor: the desktop
client registers a loopback callback, the browser completes sign-in, and a
one-time code is exchanged for a JWT access token with a rotating refresh
token. Complete documentation is available at https://github.com/b-editor/beutl-auth`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
