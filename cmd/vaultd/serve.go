package main

import (
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"xdao.co/vault/httpapi"
	"xdao.co/vault/storage/grpccas"
	"xdao.co/vault/verify"
)

var (
	flagHTTPListen string
	flagCASListen  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the anchor HTTP API (and optionally the CAS over gRPC)",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(true)
		if err != nil {
			return err
		}
		defer e.close()

		svc, err := e.anchorService()
		if err != nil {
			return err
		}
		defer svc.Teardown()

		if flagCASListen != "" {
			lis, err := net.Listen("tcp", flagCASListen)
			if err != nil {
				return err
			}
			gs := grpc.NewServer()
			grpccas.RegisterCASServer(gs, &grpccas.Server{CAS: e.cas})
			go func() {
				if err := gs.Serve(lis); err != nil {
					e.logger.Error("cas grpc server stopped", zap.Error(err))
				}
			}()
			defer gs.Stop()
			e.logger.Info("cas grpc listening", zap.String("addr", lis.Addr().String()))
		}

		api := &httpapi.Server{
			Anchors:  svc,
			Log:      e.log,
			Verifier: &verify.Verifier{Log: e.log, CAS: e.cas, Logger: e.logger},
			Logger:   e.logger,
		}
		e.logger.Info("http listening",
			zap.String("addr", flagHTTPListen),
			zap.String("anchor_stream", svc.Stream()))
		return http.ListenAndServe(flagHTTPListen, api.Handler())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagHTTPListen, "listen", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&flagCASListen, "cas-listen", "", "also serve the CAS over gRPC at this address")
}
