// Command paytool bundles the out-of-band operations of the payment proxy:
// key provisioning, decryption of stored processor responses and the
// pending cancellation report.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paytool",
		Short:         "Operational tools for the payment proxy",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(decryptResponseCmd())
	rootCmd.AddCommand(decryptArchiveCmd())
	rootCmd.AddCommand(cancellationsCmd())
	return rootCmd
}
