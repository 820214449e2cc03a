package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/cli"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/gateway"
)

var validateFlags struct {
	strict bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the server.

Validation checks field values (URLs, names, capability flags, durations),
that every routing binding names a configured provider, and that specialized
bindings point at providers with the matching capability. Routing gaps such
as a missing thinking provider are reported as warnings; --strict turns them
into errors.

Examples:
  aimux validate --config aimux.yaml
  aimux validate --config aimux.json --strict`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.strict, "strict", false, "treat warnings as errors")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, err := gateway.NewFromConfig(cfg)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s is valid\n", cfgFile)
	fmt.Fprintf(out, "  providers: %d\n", len(cfg.Providers))

	b := manager.Bindings()
	for _, binding := range []struct{ name, value string }{
		{"default", b.Default},
		{"thinking", b.Thinking},
		{"vision", b.Vision},
		{"tools", b.Tools},
	} {
		value := binding.value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(out, "  %s provider: %s\n", binding.name, value)
	}

	warnings := manager.ConfigurationErrors()
	for _, w := range warnings {
		fmt.Fprintf(out, "! %s\n", w)
	}
	if validateFlags.strict && len(warnings) > 0 {
		return cli.NewConfigError(cfgFile, fmt.Errorf("%d warning(s) in strict mode", len(warnings)))
	}
	return nil
}
