// Command mongorito reads and writes documents in any store mongorito can
// connect to.
//
//	mongorito --url mongodb://localhost/blog find posts --where '{"views":{"$gt":10}}' --sort views:-1
//	mongorito --url sqlite:///tmp/blog.db insert posts '{"title":"Hello"}'
//	mongorito indexes posts --output yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/waigo/mongorito/core"
	_ "github.com/waigo/mongorito/driver/memory"
	_ "github.com/waigo/mongorito/driver/mongodb"
	_ "github.com/waigo/mongorito/driver/postgres"
	_ "github.com/waigo/mongorito/driver/sqlite"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	core.Use(core.LoggingMiddleware(slog.LevelDebug))

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
