package cli

import (
	"github.com/spf13/cobra"

	"avgx-index/internal/app"
)

var (
	simulateWF   float64
	simulateWC   float64
	simulateLast float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟一次计算周期（可选触发守护告警）",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			WFRaw: simulateWF,
			WCRaw: simulateWC,
			Last:  simulateLast,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateWF, "wf", 0, "法币篮子加权均值 (USD)")
	simulateCmd.Flags().Float64Var(&simulateWC, "wc", 0, "加密篮子加权均值 (USD)")
	simulateCmd.Flags().Float64Var(&simulateLast, "last", 0, "Seed a previous published value to exercise the clamp")
}
