package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "civicd"}

	root.AddCommand(serveCMD(), scanCMD(), reviewCMD(), migrateCMD())
	_ = root.Execute()
}
