// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Bitastat - BITalino acquisition and timing analysis
//
// A CLI tool for acquiring, timestamping and recording BITalino sample
// streams and for measuring device clock drift against the host clock.

package main

import (
	"os"

	"github.com/Thermoquad/bitastat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
