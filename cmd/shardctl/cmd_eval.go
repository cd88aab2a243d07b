package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm/shardroute"
)

var (
	keyName string
	keyVal  int64
)

// evalCmd evaluates one rule expression
var evalCmd = &cobra.Command{
	Use:   "eval <expression>",
	Short: "Evaluate a sharding rule for a key",
	Example: `  shardctl eval --key-name userId --key 130 '"ds-" + (userId % 1024 / 64)'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev := shardroute.NewEvaluator()
		if err := ev.Validate(args[0], keyName); err != nil {
			return err
		}
		result, err := ev.Evaluate(args[0], keyName, keyVal)
		if err != nil {
			return err
		}
		logger.Debug("rule evaluated", zap.String("expression", args[0]), zap.Int64("key", keyVal), zap.String("result", result))
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&keyName, "key-name", "userId", "Placeholder used by the expression")
	evalCmd.Flags().Int64Var(&keyVal, "key", 0, "Sharding key value")
}
