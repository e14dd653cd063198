package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hiagors92/open-filter-challange/filters"
)

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List the built-in filter implementations",
	Args:  cobra.NoArgs,
	RunE:  runFilters,
}

func runFilters(cmd *cobra.Command, args []string) error {
	reg := filters.NewRegistry()
	w := stdout(cmd)
	for _, name := range reg.Names() {
		if aliases := reg.Aliases(name); len(aliases) > 0 {
			fmt.Fprintf(w, "%s (aliases: %s)\n", name, strings.Join(aliases, ", "))
			continue
		}
		fmt.Fprintln(w, name)
	}
	return nil
}

func stdout(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
