package main

import "github.com/spec-kit/helpdesk-service/internal/cli"

// Set by ldflags at release time.
var version = "dev"

func main() {
	cli.Execute(version)
}
