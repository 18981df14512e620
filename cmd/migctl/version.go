package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version はビルド時に -ldflags "-X main.version=..." で上書きされる。
var version = ""

func getVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "migctl %s\n", getVersion())
		},
	}
}
