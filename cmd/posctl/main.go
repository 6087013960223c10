// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/mobiletoly/go-offlinepos/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
