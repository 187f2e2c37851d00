package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/baserock/morph/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfgFile string
	verbose bool

	log = logrus.NewEntry(logrus.StandardLogger())
)

// rootCmd is the base command when morph is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:     "morph",
	Short:   "Build Linux system images from morphology definitions",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./.morph.yaml, ~/.morph/.morph.yaml, ~/.morph.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(buildArtifactCmd)
	rootCmd.AddCommand(calculateBuildGraphCmd)
	rootCmd.AddCommand(controllerDaemonCmd)
	rootCmd.AddCommand(workerDaemonCmd)
	rootCmd.AddCommand(distbuildCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("MORPH")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("morph version %s (commit %s, built %s)\n", version, commit, buildTime)
	},
}

func loadConfiguration() (*config.Config, error) {
	return config.Load(cfgFile)
}

// contextWithSignals returns a context cancelled on SIGINT/SIGTERM, the
// shared shutdown path for every long-running subcommand.
func contextWithSignals() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCodeFor(err))
}
