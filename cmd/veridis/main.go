package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/642studio/Veridis/internal/config"
	"github.com/642studio/Veridis/internal/events"
	"github.com/642studio/Veridis/internal/logging"
	"github.com/642studio/Veridis/pkg/sdk"
)

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "veridis: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("veridis", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	addr := fs.String("addr", envOr(getenv, "VERIDIS_CORE_ADDR", "localhost:7001"), "address of the core daemon")
	noTLS := fs.Bool("no-tls", getenv("VERIDIS_DISABLE_TLS") == "true", "connect without TLS")
	local := fs.String("local", "", "run against an embedded core backed by this authorization store")
	verbose := fs.BoolP("verbose", "v", false, "log client retries to stderr")
	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		printUsage(fs)
		return errors.New("missing command")
	}

	var h sdk.Hub
	if *local != "" {
		level := "warn"
		if *verbose {
			level = "debug"
		}
		embedded, err := sdk.NewEmbedded(*local, config.ParseIDs(getenv("VERIDIS_GOD_TELEGRAM_IDS")), logging.New(level, true, os.Stderr))
		if err != nil {
			return err
		}
		h = embedded
	} else {
		opts := []sdk.ClientOption{sdk.WithTLS(!*noTLS)}
		if *verbose {
			opts = append(opts, sdk.WithClientLogger(logging.New("debug", true, os.Stderr)))
		}
		client, err := sdk.Connect(*addr, opts...)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", *addr, err)
		}
		defer client.Close()
		h = client
	}

	command := strings.ToLower(fs.Arg(0))
	rest := fs.Args()[1:]
	out, err := execute(h, command, rest)
	if err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func execute(h sdk.Hub, command string, args []string) (any, error) {
	switch command {
	case "emit":
		if len(args) != 1 {
			return nil, errors.New("usage: veridis emit <json>")
		}
		return h.IngestEvent(json.RawMessage(args[0]))

	case "state":
		return h.GetState()

	case "events", "alerts":
		limit := events.DefaultQueryLimit
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("usage: veridis %s [limit]: %w", command, err)
			}
			limit = n
		}
		if command == "alerts" {
			return h.GetAlerts(limit)
		}
		return h.GetEvents(limit)

	case "role":
		if len(args) != 1 {
			return nil, errors.New("usage: veridis role <externalId>")
		}
		role, err := h.RoleOf(args[0])
		if err != nil {
			return nil, err
		}
		return map[string]any{"externalId": args[0], "role": role}, nil

	case "check":
		if len(args) != 2 {
			return nil, errors.New("usage: veridis check <externalId> <action>")
		}
		return h.CheckPermission(args[0], args[1])

	case "onboard":
		if len(args) < 1 || len(args) > 3 {
			return nil, errors.New("usage: veridis onboard <externalId> [name] [origin]")
		}
		name, origin := optional(args, 1), optional(args, 2)
		return h.OnboardUser(args[0], name, origin)

	case "invite":
		if len(args) < 1 || len(args) > 2 {
			return nil, errors.New("usage: veridis invite <creatorExternalId> [ttlHours]")
		}
		var ttl *float64
		if len(args) == 2 {
			hours, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return nil, fmt.Errorf("usage: veridis invite <creatorExternalId> [ttlHours]: %w", err)
			}
			ttl = &hours
		}
		return h.CreateInvite(args[0], ttl)

	case "redeem":
		if len(args) != 2 {
			return nil, errors.New("usage: veridis redeem <externalId> <code>")
		}
		return h.RedeemInvite(args[0], args[1])

	case "assist":
		verbose := len(args) > 0 && (args[0] == "verbose" || args[0] == "true")
		return h.AssistantQuery(verbose)
	}
	return nil, fmt.Errorf("unknown command %q", command)
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "veridis - command line client for the Veridis core")
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  veridis [flags] emit <json>")
	fmt.Fprintln(os.Stderr, "  veridis [flags] state")
	fmt.Fprintln(os.Stderr, "  veridis [flags] events [limit]")
	fmt.Fprintln(os.Stderr, "  veridis [flags] alerts [limit]")
	fmt.Fprintln(os.Stderr, "  veridis [flags] assist [verbose]")
	fmt.Fprintln(os.Stderr, "  veridis [flags] role <externalId>")
	fmt.Fprintln(os.Stderr, "  veridis [flags] check <externalId> <action>")
	fmt.Fprintln(os.Stderr, "  veridis [flags] onboard <externalId> [name] [origin]")
	fmt.Fprintln(os.Stderr, "  veridis [flags] invite <creatorExternalId> [ttlHours]")
	fmt.Fprintln(os.Stderr, "  veridis [flags] redeem <externalId> <code>")
	fmt.Fprintln(os.Stderr, "\nFlags:")
	fmt.Fprint(os.Stderr, fs.FlagUsages())
	fmt.Fprintln(os.Stderr, "\nEnvironment Variables:")
	fmt.Fprintln(os.Stderr, "  VERIDIS_CORE_ADDR          Address of the core (default: localhost:7001)")
	fmt.Fprintln(os.Stderr, "  VERIDIS_DISABLE_TLS        Set to true to disable TLS")
	fmt.Fprintln(os.Stderr, "  VERIDIS_GOD_TELEGRAM_IDS   Privileged ids for --local")
}
