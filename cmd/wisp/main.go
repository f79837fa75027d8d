// Command wisp builds, serves and watches a static front-end project
package main

import (
	"context"
	"os"

	"github.com/poltergeist/wisp/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	os.Exit(cli.Main(context.Background(), version))
}
