package main

import (
	"os"
)

func main() {
	root := buildRootCommand()
	root.AddCommand(buildArchiveCommand())
	root.AddCommand(buildExtractCommand())
	root.SilenceUsage = true
	root.SilenceErrors = true

	isWrite := len(os.Args) > 1 && os.Args[1] == "archive"

	if err := root.Execute(); err != nil {
		os.Exit(reportErr(err, isWrite))
	}
}
