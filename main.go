// Command paylink issues and validates short-lived payment links.
//
// Run with:
//
//	go run . serve
//
// The server listens on :3000 by default. Configuration is read from
// ./paylink.yaml (see `paylink config init`) and PAYLINK_* environment
// variables; PORT, DB_PATH and BASE_URL are honoured as well.
package main

import (
	"os"

	"github.com/shohanonfire/payment-server/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
