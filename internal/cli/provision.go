package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/perchlabs/perch/internal/errors"
	"github.com/perchlabs/perch/internal/keys"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/provision"
	"github.com/perchlabs/perch/internal/registry"
)

var (
	provisionUserFlag string
	provisionPortFlag int
)

// provisionCmd installs the watcher key onto one host from the
// terminal, for fleets managed outside the dashboard.
var provisionCmd = &cobra.Command{
	Use:   "provision <host>",
	Short: "Install the watcher key onto a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProvision(args[0])
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().StringVar(&provisionUserFlag, "user", "root", "Login user")
	provisionCmd.Flags().IntVar(&provisionPortFlag, "port", 22, "SSH port")
}

func runProvision(host string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pubKey, err := keys.Ensure(cfg.KeysDir())
	if err != nil {
		return err
	}

	password, err := promptPassword(fmt.Sprintf("Password for %s@%s: ", provisionUserFlag, host))
	if err != nil {
		return err
	}

	server := registry.Server{
		Host: host,
		Port: provisionPortFlag,
		User: provisionUserFlag,
	}
	prov := provision.New(cfg.SSHTimeout(), logger.Default())
	if err := prov.InstallKey(server, password, pubKey); err != nil {
		return err
	}

	fmt.Printf("Watcher key installed on %s\n", host)
	return nil
}

// promptPassword reads a password from the terminal with echo off.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"failed to read password", "run from an interactive terminal")
	}
	return string(data), nil
}
