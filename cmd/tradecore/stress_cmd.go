package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gannquant/tradecore/internal/config"
	"github.com/gannquant/tradecore/internal/risk"
)

func newStressCmd() *cobra.Command {
	stressCmd := &cobra.Command{
		Use:   "stress",
		Short: "Run CVaR and Monte Carlo stress analysis on a returns file",
		Long: `Reads a CSV of fractional trade returns (one per line, first column)
and reports tail-risk metrics plus the Monte Carlo stress distribution.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			equity, _ := cmd.Flags().GetFloat64("equity")
			method, _ := cmd.Flags().GetString("method")
			scenarios, _ := cmd.Flags().GetBool("scenarios")

			returns, err := readReturns(file)
			if err != nil {
				return err
			}

			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			assessment, err := risk.NewCVaRCalculator().Calculate(returns, risk.CVaRHistorical, "1d")
			if err != nil {
				return err
			}
			if err := printJSON(map[string]interface{}{"cvar": assessment, "dangerous": assessment.Dangerous()}); err != nil {
				return err
			}

			sim, err := risk.NewMonteCarloSimulator(cfg.MonteCarlo)
			if err != nil {
				return err
			}

			if scenarios {
				reports, err := sim.StressTest(returns, equity, nil)
				if err != nil {
					return err
				}
				return printJSON(reports)
			}

			report, err := sim.Simulate(returns, equity, risk.SimMethod(method))
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"report":                 report,
				"institutional_standard": report.PassesInstitutionalStandard(),
			})
		},
	}

	stressCmd.Flags().String("file", "", "CSV file of fractional returns")
	stressCmd.Flags().Float64("equity", 100000, "Initial equity")
	stressCmd.Flags().String("method", string(risk.SimBootstrap), "Simulation method (bootstrap|parametric|block_bootstrap)")
	stressCmd.Flags().Bool("scenarios", false, "Run the full stress scenario ladder")
	_ = stressCmd.MarkFlagRequired("file")

	return stressCmd
}

func readReturns(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stress: open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stress: parse %s: %w", path, err)
	}

	returns := make([]float64, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			if i == 0 {
				continue // header line
			}
			return nil, fmt.Errorf("stress: line %d: %w", i+1, err)
		}
		returns = append(returns, v)
	}
	if len(returns) == 0 {
		return nil, fmt.Errorf("stress: no returns found in %s", path)
	}
	return returns, nil
}
