package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/dirmirror"
)

// exitInterrupted is the conventional status for a SIGINT exit.
const exitInterrupted = 130

var rootCmd = &cobra.Command{
	Use:   "dirmirror",
	Short: "Incremental directory mirror",
	Long: "Mirror directory trees into a content-addressable store, " +
		"reusing cached file and directory ids between runs.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()

	if code := exitCode(os.Stderr, err, interrupted); code != 0 {
		os.Exit(code)
	}
}

// exitCode reports err on w and returns the process status. Once a signal
// arrived every failure counts as an interrupt, including errors from
// child processes that saw the signal first.
func exitCode(w io.Writer, err error, interrupted bool) int {
	switch {
	case err == nil:
		return 0
	case interrupted, errors.Is(err, context.Canceled):
		fmt.Fprintln(w, "interrupted")
		return exitInterrupted
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
		return 1
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/dirmirror/config.yaml)")
	flags.String("cache", "", "cache directory; when given explicitly the cache must open (default: ~/.cache/dirmirror)")
	flags.String("store-dir", "", "local object store directory (default: ~/.local/share/dirmirror)")
	flags.String("backend", backendLocal, "content store: local or ipfs")
	flags.String("ipfs-bin", "ipfs", "ipfs binary used by the ipfs backend")
	flags.IntP("jobs", "j", 1, "files added in parallel")
	flags.String("compression", "default", "object compression: none, fastest, default, better, best")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")

	viper.BindPFlag("cache_dir", flags.Lookup("cache"))
	viper.BindPFlag("store_dir", flags.Lookup("store-dir"))
	viper.BindPFlag("backend", flags.Lookup("backend"))
	viper.BindPFlag("ipfs_bin", flags.Lookup("ipfs-bin"))
	viper.BindPFlag("jobs", flags.Lookup("jobs"))
	viper.BindPFlag("compression", flags.Lookup("compression"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DIRMIRROR")
	viper.AutomaticEnv()
	viper.SetDefault("cache_dir", dirmirror.DefaultCacheDir())
	viper.SetDefault("store_dir", dirmirror.DefaultStoreDir())

	viper.ReadInConfig()
}

func setupLogging(*cobra.Command, []string) error {
	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	switch format := viper.GetString("log_format"); format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dirmirror")
	}
	if home, err := homedir.Dir(); err == nil {
		return filepath.Join(home, ".config", "dirmirror")
	}
	return ".dirmirror"
}
