// Package main is the entry point for the web server.
package main

import (
	"os"

	"webserver/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
