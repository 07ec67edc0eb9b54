// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigstream command line.
//
// Commands:
//
//	rigstream [chat]            Full-screen chat, or a line REPL without a TTY
//	rigstream sessions ...      List, create, delete and clear sessions
//	rigstream export <id>       Write a session transcript as md, json or yaml
//	rigstream mock-server       Run the bundled streaming mock backend
//	rigstream config ...        Show, get and set configuration values
//	rigstream version           Print version information
//
// Global flags select the config file, server, token, verbosity and colors.
// Every command returns its error to Execute, which maps it to an exit code.
package cli
