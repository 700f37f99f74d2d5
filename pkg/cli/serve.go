package cli

import (
	"github.com/spf13/cobra"

	"github.com/relaychat/relay/pkg/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay gateway in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := gateway.NewGateway()
		if err != nil {
			return err
		}
		return gw.Start()
	},
}
