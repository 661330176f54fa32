package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/samogod/bookrnn/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve generation over HTTP",
	Long:  `Load the saved checkpoint once and answer POST /generate requests with beam search samples`,
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	orch := newOrchestrator()
	defer orch.Close()

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := orch.OpenService(ctx)
	if err != nil {
		color.Red("Failed to load model: %v", err)
		orch.Close()
		os.Exit(1)
	}
	defer svc.Close()

	addr := serveAddr
	if addr == "" {
		addr = orch.GetConfig().Server.Addr
	}

	orch.Logger().Infof("Listening on %s", addr)
	if err := server.Run(ctx, addr, svc, orch.Logger()); err != nil {
		color.Red("Server failed: %v", err)
		svc.Close()
		orch.Close()
		os.Exit(1)
	}
}
