package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/internal/keys"
)

// keygenCmd ensures the watcher keypair exists and prints the public
// half for manual installation.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Ensure the watcher keypair and print the public key",
	Long: `Generate the watcher's ed25519 keypair if it doesn't exist yet and
print the authorized_keys line. Add that line to root's authorized_keys
on hosts you can't provision through the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pubKey, err := keys.Ensure(cfg.KeysDir())
		if err != nil {
			return err
		}
		fmt.Println(pubKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
