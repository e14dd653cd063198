package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hiagors92/open-filter-challange/filters"
	"github.com/hiagors92/open-filter-challange/types"
	"github.com/hiagors92/open-filter-challange/validate"
)

var strict bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipeline config without running it",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	result := &validate.ValidationResult{}

	schemaErrs, err := validate.ValidatePipelineYAML(data)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	for _, e := range schemaErrs {
		result.Errors = append(result.Errors, fmt.Sprintf("schema: %s", e))
	}

	// Semantic checks need a parsed config; skip them when the schema
	// already rejected the document.
	if len(schemaErrs) == 0 {
		cfg, err := types.ParsePipelineConfig(data)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		semantic := validate.ValidatePipelineConfig(cfg, filters.NewRegistry())
		result.Errors = append(result.Errors, semantic.Errors...)
		result.Warnings = append(result.Warnings, semantic.Warnings...)
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(stderr, "WARNING: %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(stderr, "ERROR: %s\n", e)
	}

	if strict && len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d warning(s) treated as errors in strict mode", len(result.Warnings))
	}
	if !result.IsValid() {
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	}

	fmt.Fprintln(stdout(cmd), "Validation passed.")
	return nil
}
