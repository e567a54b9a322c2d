// Package main is the entry point for the budgetctl CLI binary.
package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"

	cli "budget-etl/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
