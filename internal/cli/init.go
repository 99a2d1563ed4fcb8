package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/errors"
)

var initForce bool

// initCmd writes a starter config to the current directory.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter perch.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(config.ConfigFileName, initForce)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("config file already exists: %s", path),
			"Use --force to overwrite")
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "failed to render config", "")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("failed to write %s", path), "check directory permissions")
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}
