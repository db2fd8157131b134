// devbackupd backs up configuration and state of network devices.
//
// Usage:
//
//	devbackupd run node|discovery|system|console --task <name>
//	devbackupd serve      HTTP trigger API
//	devbackupd consume    run requests from Kafka
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var flags struct {
	configPath      string
	mongoURI        string
	mongoDB         string
	mongoCollection string
	serviceID       string
	debug           bool
	logFormat       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "devbackupd",
	Short:             "Network device backup job engine",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `devbackupd runs backup tasks defined in the NMS backend: it reads
configuration and state from devices over SNMP, Telnet and SSH and hands
changed results back to the backend.

The configuration is read from a YAML file, or from MongoDB when
--mongo-uri is given.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "devbackupd.yaml", "YAML config file")
	pf.StringVar(&flags.mongoURI, "mongo-uri", "", "read the config from MongoDB instead of a file")
	pf.StringVar(&flags.mongoDB, "mongo-db", "devbackup", "MongoDB database")
	pf.StringVar(&flags.mongoCollection, "mongo-collection", "config", "MongoDB collection")
	pf.StringVar(&flags.serviceID, "service-id", "devbackupd", "config document id in MongoDB")
	pf.BoolVar(&flags.debug, "debug", false, "debug logging")
	pf.StringVar(&flags.logFormat, "log-format", "", "json or console, overrides the config")

	rootCmd.AddCommand(newRunCmd(), newServeCmd(), newConsumeCmd())
}
