package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Maestro - 적응형 자본 배분 엔진",
	Long: `Maestro Unified CLI

파티클 필터 + Thompson Sampling 기반 전략 배분과
메타 컨트롤러(시스템 상태/하모니/PID) 기반 리스크 조절.

Usage:
  go run ./cmd/maestro [command]

Examples:
  go run ./cmd/maestro run
  go run ./cmd/maestro simulate --periods 500
  go run ./cmd/maestro status`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
