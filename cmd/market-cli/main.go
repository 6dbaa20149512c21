package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	client := newClient(envOr("MARKET_API_URL", "http://127.0.0.1:8545"), os.Getenv("MARKET_CALLER"), os.Getenv("MARKET_TOKEN"))
	args, err := applyGlobalFlags(client, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "cmd":
		return runCommand(client, false, args[1:], stdout, stderr)
	case "admin":
		return runCommand(client, true, args[1:], stdout, stderr)
	case "get":
		return runQuery(client, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s\n", args[0], usage())
		return 1
	}
}

// applyGlobalFlags consumes --api, --caller and --token ahead of the
// subcommand.
func applyGlobalFlags(c *client, args []string) ([]string, error) {
	for len(args) > 0 && strings.HasPrefix(args[0], "--") {
		name, value, ok := strings.Cut(strings.TrimPrefix(args[0], "--"), "=")
		if !ok {
			if len(args) < 2 {
				return nil, fmt.Errorf("flag --%s requires a value", name)
			}
			value = args[1]
			args = args[1:]
		}
		switch name {
		case "api":
			c.baseURL = strings.TrimRight(value, "/")
		case "caller":
			c.caller = value
		case "token":
			c.token = value
		default:
			return nil, fmt.Errorf("unknown flag --%s", name)
		}
		args = args[1:]
	}
	return args, nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func usage() string {
	var b strings.Builder
	b.WriteString("Usage: market-cli [--api URL] [--caller ADDRESS] [--token JWT] <cmd|admin|get> ...\n\n")
	b.WriteString("Commands (market-cli cmd <name> field=value ...):\n")
	for _, name := range sortedNames(commandFields) {
		fmt.Fprintf(&b, "  %-26s %s\n", name, describeFields(commandFields[name]))
	}
	b.WriteString("\nAdmin commands (market-cli admin <name> field=value ...):\n")
	for _, name := range sortedNames(adminFields) {
		fmt.Fprintf(&b, "  %-26s %s\n", name, describeFields(adminFields[name]))
	}
	b.WriteString("\nQueries: market-cli get <path>, e.g. get tick, get resources/online, get accounts/<addr>/stake")
	return b.String()
}
