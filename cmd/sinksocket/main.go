// Sinksocket drains byte packets from its dataOctet port and writes them to a
// TCP peer, either dialing out or serving every connected client.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/eugener/sinksocket/internal/config"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/sinksocket.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "print version and exit")
	genKey := flag.Bool("gen-admin-key", false, "print a new admin key and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("sinksocket", version)
		os.Exit(0)
	}
	if *genKey {
		fmt.Println(config.GenerateAdminKey())
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
