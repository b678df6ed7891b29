// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command recordctl is a thin demonstration CLI over the record layer:
// open a store, run record CRUD, drive an online index build, and
// print or run a query plan. It is not a server — each subcommand opens
// its own store for the duration of the invocation.
package main

import (
	"fmt"
	"os"

	"github.com/erigontech/recordlayer/cmd/recordctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
