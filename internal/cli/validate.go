package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"spotlx/internal/config"
)

var errConfigInvalid = errors.New("configuration is invalid")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(vp)
		if err != nil {
			return err
		}

		issues := config.Validate(cfg)
		for _, iss := range issues {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
		if config.HasErrors(issues) {
			return errConfigInvalid
		}
		Successf(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}
