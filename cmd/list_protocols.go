package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/protosim/protosim/sim/protocols"
)

var listProtocolsCmd = &cobra.Command{
	Use:   "list-protocols",
	Short: "List the registered protocols",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range protocols.Names() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(listProtocolsCmd)
}
