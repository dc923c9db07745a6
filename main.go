// Package main is the entry point for the mnemo memory service CLI.
// The root command starts the API server; subcommands handle schema
// migrations and telemetry queue inspection.
package main

import (
	"log"

	"mnemo.evalgo.org/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
