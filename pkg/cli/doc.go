/*
Package cli provides command-line helpers for the aimux command.

Output Formatting:

Command results can be printed as an aligned table, JSON or CSV. Values
that implement Tabular render as rows in the table and CSV formats; any
value renders as JSON:

	formatter := cli.NewFormatter(cli.FormatTable)
	if err := formatter.FormatTo(os.Stdout, providers); err != nil {
		return err
	}

Signal Handling:

	ctx, stop := cli.ShutdownContext(context.Background())
	defer stop()

	reload := cli.ReloadSignals()
	defer cli.StopSignals(reload)

Errors:

ConfigError and CommandError carry the exit code the process should use;
see ExitCode.
*/
package cli
