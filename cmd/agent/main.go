package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootCmd is the forgelog command. Every flag can also be set through a
// FORGE_* environment variable or the config file.
func rootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "forgelog",
		Short:         "forgelog ships application logs to a Forge collector.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindConfig(v, cmd); err != nil {
				return err
			}
			return configureLogging(v.GetString("log-level"))
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to a config file (yaml, json or toml)")
	flags.String("log-level", "info", "level of the agent's own logs")
	flags.String("endpoint", "", "collector base URL")
	flags.String("client-key", "", "client key; generated and stored on first use when empty")
	flags.Int("batch-size", 0, "records per batch")
	flags.Duration("flush-interval", 0, "maximum time a record waits before being sent")
	flags.Int("queue-capacity", 0, "events held before the oldest is evicted")
	flags.Duration("http-timeout", 0, "timeout of each collector request")
	flags.Bool("gzip", false, "gzip batch request bodies")
	flags.StringSlice("keyring-backend", nil, "keyring backends to try, in order")
	flags.String("keyring-dir", "", "directory of the encrypted file keyring")
	flags.String("keyring-password", "", "password of the encrypted file keyring")

	cmd.AddCommand(
		runCmd(v),
		sendCmd(v),
	)

	return cmd
}

func configureLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	return nil
}
