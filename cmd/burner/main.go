// Command burner is the Go stand-in for the source tree's burner.c /
// src/test/groups.c stress harness: it drives real barrier.Barrier,
// group.Group, registry.Registry and protocol.Protocol instances through
// repeated constraint-change rounds, optionally injecting scheduler
// faults, and can write a per-round trace for the watch subcommand.
// inspect builds a synthetic snapshot and compare diffs two such
// snapshots; neither reads the results of a run.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nautilus-aerokernel/threadgroup/common/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "burner",
		Short: "Stress-test and inspect the thread-group coordination core",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./burner.yaml)")
	root.PersistentFlags().String("log.level", "info", "log level: debug|info|warn|error")
	root.PersistentFlags().String("log.format", "logfmt", "log format: logfmt|json")
	_ = viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log.level"))
	_ = viper.BindPFlag("log.format", root.PersistentFlags().Lookup("log.format"))

	cobra.OnInitialize(initConfig)

	root.AddCommand(newRunCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newCompareCmd())
	root.AddCommand(newWatchCmd())

	return root
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("burner")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("BURNER")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // absence of a config file is not fatal

	level := parseLevel(viper.GetString("log.level"))
	format := parseFormat(viper.GetString("log.format"))
	if err := logging.Initialize(os.Stdout, level, format); err != nil {
		fmt.Fprintf(os.Stderr, "burner: logging.Initialize: %v\n", err)
	}
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func parseFormat(s string) logging.Format {
	if s == "json" {
		return logging.FmtJSON
	}
	return logging.FmtLogfmt
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
