package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var subjectCmd = &cobra.Command{
	Use:   "subject <ingest-id> <value>...",
	Short: "Resolve the subject code for a tuple of identifying values",
	Long: "Prints the subject code for the given values, in the order of subject_config.map_keys. " +
		"A new tuple is issued the next code from the ingest's code_format.",
	Args: cobra.MinimumNArgs(2),
	RunE: runSubject,
}

func init() {
	rootCmd.AddCommand(subjectCmd)
}

func runSubject(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	code, err := a.client(args[0]).ResolveSubject(a.ctx, args[1:])
	if err != nil {
		a.fatal(err, "resolve subject failed")
	}
	fmt.Println(code)
	return nil
}
