package grpccas

import (
	"flag"
	"fmt"
	"time"

	"xdao.co/vault/storage"
	"xdao.co/vault/storage/casregistry"
)

var (
	flagTarget  string
	flagTimeout time.Duration
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "Remote CAS over gRPC (mirror target)",
		Usage:       casregistry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagTarget, "grpc-target", "", "CAS gRPC address (for --backend=grpc)")
			fs.DurationVar(&flagTimeout, "grpc-timeout", 5*time.Second, "Per-RPC timeout (for --backend=grpc)")
		},
		Open: func() (storage.CAS, func() error, error) {
			if flagTarget == "" {
				return nil, nil, fmt.Errorf("missing --grpc-target")
			}
			c, err := Dial(flagTarget, DialOptions{Timeout: flagTimeout})
			if err != nil {
				return nil, nil, err
			}
			c.Timeout = flagTimeout
			return c, c.Close, nil
		},
	})
}
