// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the grantd authorization server.
package main

import (
	"os"

	"github.com/grantd/grantd/cmd/grantd/app"
	"github.com/grantd/grantd/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
