package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Config prints the merged configuration: defaults, the config file,
SPOTLX_* environment variables and flags, in that order of precedence.
${VAR} references in storage.dsn are printed unexpanded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if f := vp.ConfigFileUsed(); f != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n", f)
		}
		out, err := yaml.Marshal(vp.AllSettings())
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
