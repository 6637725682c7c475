package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"guardian/rules"
)

func newValidateRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-rule <file>...",
		Short: "Validate rule definition files without storing them",
		Long: "Validates one or more rule files (YAML or JSON) against the rule " +
			"schema and known-field registry. Exits non-zero if any file is invalid.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator, err := rules.NewValidator(rules.NewFieldRegistry())
			if err != nil {
				return err
			}

			failed := 0
			for _, path := range args {
				if err := validateRuleFile(validator, path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "INVALID %s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK      %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d rule files invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateRuleFile(validator *rules.Validator, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data := raw
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yml" || ext == ".yaml" {
		var doc interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("malformed YAML: %w", err)
		}
		data, err = json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to convert YAML document: %w", err)
		}
	}

	_, err = validator.ValidateJSON(data)
	return err
}
