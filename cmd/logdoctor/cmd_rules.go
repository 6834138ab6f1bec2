package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/config"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the learned rule collections",
	RunE:  runRulesList,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filter and diagnosis rules in match order",
	RunE:  runRulesList,
}

func runRulesList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if flagRulesDir != "" {
		cfg.RulesDir = flagRulesDir
	}

	filters, err := rules.LoadFilterStore(filepath.Join(cfg.RulesDir, "filter_rules.json"))
	if err != nil {
		return err
	}
	diagRules, err := rules.LoadDiagnosisStore(filepath.Join(cfg.RulesDir, "diagnosis_rules.json"))
	if err != nil {
		return err
	}

	fmt.Printf("Filter rules (%d):\n", filters.Len())
	for i, p := range filters.Patterns() {
		fmt.Printf("  %2d. %s\n", i+1, p)
	}

	// Diagnosis rules are matched first-match-wins, so the displayed
	// order is the match priority.
	fmt.Printf("\nDiagnosis rules (%d):\n", diagRules.Len())
	for i, r := range diagRules.Rules() {
		fmt.Printf("  %2d. %s\n", i+1, r.Regex)
		fmt.Printf("      error_type=%s source=%s recoverable=%v\n", r.Diagnosis.ErrorType, r.Diagnosis.Source, r.Diagnosis.IsRecoverable)
	}
	return nil
}
