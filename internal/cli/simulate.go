package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stockwatch/internal/app"
)

var (
	simulateUser  string
	simulateCode  string
	simulateName  string
	simulatePrice float64
	simulateUpper float64
	simulateLower float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格越界并触发告警通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 || simulateUpper <= 0 || simulateLower <= 0 {
			return errors.New("--price, --upper 与 --lower 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			UserEmail: simulateUser,
			StockCode: simulateCode,
			StockName: simulateName,
			Price:     decimal.NewFromFloat(simulatePrice),
			Upper:     decimal.NewFromFloat(simulateUpper),
			Lower:     decimal.NewFromFloat(simulateLower),
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateUser, "user", "sim@example.com", "收件人邮箱")
	simulateCmd.Flags().StringVar(&simulateCode, "code", "600036.SH", "标的代码")
	simulateCmd.Flags().StringVar(&simulateName, "name", "模拟标的", "标的名称")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟价格")
	simulateCmd.Flags().Float64Var(&simulateUpper, "upper", 0, "上轨阈值")
	simulateCmd.Flags().Float64Var(&simulateLower, "lower", 0, "下轨阈值")
}
