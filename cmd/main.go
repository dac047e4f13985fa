package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

var LogLevel string

var rootCmd = &cobra.Command{
	Use:   "bscanner",
	Short: "bscanner, symbolic execution of binary code over ESIL",
	Long:  "",
	// 运行期错误只打印错误本身
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		level, err := log.ParseLevel(LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", "warning", "log level (trace, debug, info, warning, error)")
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	rootCmd.AddCommand(versionCommand)
	rootCmd.AddCommand(runCommand)
	rootCmd.AddCommand(liftCommand)
	rootCmd.AddCommand(sessionCommand)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
