package cmd

import (
	"fmt"
)

const banner = `
  ____             _   _      _         _   _
 | __ )  ___ _   _| |_| |    / \  _   _| |_| |__
 |  _ \ / _ \ | | | __| |   / _ \| | | | __| '_ \
 | |_) |  __/ |_| | |_| |  / ___ \ |_| | |_| | | |
 |____/ \___|\__,_|\__|_| /_/   \_\__,_|\__|_| |_|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Beutl Authentication Service - Version %s\x1b[0m\n\n", Version)
}
