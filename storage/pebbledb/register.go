package pebbledb

import (
	"flag"
	"fmt"

	"xdao.co/vault/storage"
	"xdao.co/vault/storage/casregistry"
)

var flagPebblePath string

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "pebble",
		Description: "Pebble key-value CAS (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagPebblePath, "pebble-path", "", "Pebble CAS directory (for --backend=pebble)")
		},
		Open: func() (storage.CAS, func() error, error) {
			if flagPebblePath == "" {
				return nil, nil, fmt.Errorf("missing --pebble-path")
			}
			cas, err := Open(flagPebblePath)
			if err != nil {
				return nil, nil, err
			}
			return cas, cas.Close, nil
		},
	})
}
