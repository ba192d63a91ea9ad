// omwscl is the command line client of the omws service.
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/client/cli"
	"github.com/openmodeller/omws/common/log/hooks"
)

func main() {
	log.AddHook(hooks.NewContextHook())
	if err := cli.NewSimpleCLIClient().Exec(); err != nil {
		log.Fatal(err)
	}
}
