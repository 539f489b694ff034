package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "depsdash",
		Short: "Multi-tenant service health observatory",
		Long:  `Depsdash polls service health endpoints, tracks their dependencies, and records health transitions.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	rootCmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newPollCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show depsdash version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("depsdash v%s\n", version)
		},
	}
}
