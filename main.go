// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/pgsync/pgsync/cmd/pgsync"
)

func main() {
	if err := pgsync.Execute(); err != nil {
		os.Exit(1)
	}
}
