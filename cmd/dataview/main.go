package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	debug      bool
	connection string
)

var rootCmd = &cobra.Command{
	Use:   "dataview",
	Short: "dataview - browse object stores, WebDAV, dataset hubs and local files",
	Long: `dataview lists, reads and downloads files from the storage connections
named in its configuration file, and looks inside archives without
downloading them whole.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&connection, "connection", "n", "", "connection name (default: default_connection)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
