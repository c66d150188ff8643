// Package cmd implements the command-line interface of pKV. It provides a
// hierarchical command structure for running a server and talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (put, get, del, delrange, write, info, perf)
//   - serve: Starts a server hosting local and replicated partitions
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through a PKV_ prefixed environment variable or a .env file.
// See pkv -help for a list of all commands.
package cmd
