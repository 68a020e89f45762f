// Package main is the entrypoint for vault-bridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/morezero/vault-bridge/internal/config"
	"github.com/morezero/vault-bridge/internal/server"
	"github.com/morezero/vault-bridge/pkg/client"
	"github.com/morezero/vault-bridge/pkg/handlers"
	"github.com/morezero/vault-bridge/pkg/queueutil"
	"github.com/morezero/vault-bridge/pkg/transport"
)

const usage = `Usage: vault-bridge [command]
       vault-bridge serve                          Start the dispatch loop and HTTP health endpoint.
       vault-bridge call <method> [params-json]    Send one request through the queue and print the reply.
       vault-bridge env list                       List connection environments.
       vault-bridge env use <name>                 Select the active environment.
       vault-bridge env set <name> --user N --url URL
                                                   Create or update an environment.
       vault-bridge methods                        List supported methods.

Commands:
  serve     (default) Poll the active user's task queue and answer requests.
  call      Act as the controller: --env, --user, --url override the active settings; --timeout bounds the wait.
  env       Manage the connection settings file (BRIDGE_SETTINGS_FILE, else config/settings.yaml or settings.yaml).
  methods   Print the method names the bridge answers.

Environment: VAULT_PATH, SERVICE_NAME, BRIDGE_SETTINGS_FILE, BRIDGE_NAMESPACE, BRIDGE_POP_TIMEOUT, BRIDGE_IDLE_DELAY,
BRIDGE_KEY_TTL, DAILY_NOTES_FOLDER, DAILY_NOTES_FORMAT, DAILY_NOTES_TEMPLATE, QUERY_ENABLED, QUERY_INDEX_DSN,
BRIDGE_HTTP_ADDR, HTTP_PORT, LOG_LEVEL.

Queue URLs: redis://, rediss://, nats:// or memory://<name> (in-process only, for local trials of serve).
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "call":
		if err := runCall(args[1:], os.Stdout); err != nil {
			log.Fatalf("vault-bridge call: %v", err)
		}
		return
	case "env":
		if err := runEnv(args[1:], os.Stdout); err != nil {
			log.Fatalf("vault-bridge env: %v", err)
		}
		return
	case "methods":
		runMethods(os.Stdout)
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("vault-bridge: %v", err)
	}
}

func loadSettingsStore() (*config.Config, *config.SettingsStore, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	server.ConfigureLogging(cfg.LogLevel)
	return cfg, config.NewSettingsStore(config.ResolveSettingsPath(cfg.SettingsFile)), nil
}

func runCall(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("call", pflag.ContinueOnError)
	env := fs.String("env", "", "environment to use instead of the active one")
	user := fs.Int("user", config.UnsetUserID, "user id override")
	queueURL := fs.String("url", "", "queue URL override")
	timeout := fs.Duration("timeout", 30*time.Second, "how long to wait for the reply")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("method is required")
	}
	method := fs.Arg(0)

	var params any
	if fs.NArg() > 1 {
		raw := json.RawMessage(fs.Arg(1))
		if !json.Valid(raw) {
			return fmt.Errorf("params must be valid JSON")
		}
		params = raw
	}

	cfg, store, err := loadSettingsStore()
	if err != nil {
		return err
	}
	f, err := store.Load()
	if err != nil {
		return err
	}
	name := f.Active
	if *env != "" {
		name = *env
	}
	settings, ok := f.Environments[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, config.ErrUnknownEnvironment)
	}
	if *user != config.UnsetUserID {
		settings.UserID = *user
	}
	if *queueURL != "" {
		settings.QueueURL = *queueURL
	}
	if !settings.Configured() {
		return fmt.Errorf("environment %s has no userId or queueUrl", name)
	}

	ctx := context.Background()
	t, err := transport.Dial(ctx, settings.QueueURL, transport.Options{Name: cfg.ServiceName + "-cli"})
	if err != nil {
		return err
	}
	defer t.Close()

	c := client.New(t, queueutil.NewKeys(cfg.Namespace), settings.UserID, *timeout)
	reply, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return printReply(out, reply)
}

func printReply(out io.Writer, reply *client.Reply) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reply); err != nil {
		return err
	}
	return reply.Err()
}

func runEnv(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("require subcommand (list, use, set)")
	}
	_, store, err := loadSettingsStore()
	if err != nil {
		return err
	}
	return envCommand(store, args, out)
}

func envCommand(store *config.SettingsStore, args []string, out io.Writer) error {
	switch args[0] {
	case "list":
		f, err := store.Load()
		if err != nil {
			return err
		}
		return printEnvironments(out, f)
	case "use":
		if len(args) < 2 {
			return fmt.Errorf("env use: environment name is required")
		}
		if err := store.SetActive(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Active environment: %s\n", args[1])
		return nil
	case "set":
		fs := pflag.NewFlagSet("env set", pflag.ContinueOnError)
		user := fs.Int("user", config.UnsetUserID, "user id")
		queueURL := fs.String("url", "", "queue URL")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() < 1 {
			return fmt.Errorf("env set: environment name is required")
		}
		name := fs.Arg(0)

		f, err := store.Load()
		if err != nil {
			return err
		}
		settings, ok := f.Environments[name]
		if !ok {
			settings = config.Settings{UserID: config.UnsetUserID}
		}
		if fs.Changed("user") {
			settings.UserID = *user
		}
		if fs.Changed("url") {
			settings.QueueURL = *queueURL
		}
		if err := store.SetEnvironment(name, settings); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved environment %s to %s\n", name, store.Path())
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q (use list, use, set)", args[0])
	}
}

func printEnvironments(out io.Writer, f *config.SettingsFile) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTIVE\tNAME\tUSER\tQUEUE URL")
	for _, name := range f.Names() {
		env := f.Environments[name]
		marker := ""
		if name == f.Active {
			marker = "*"
		}
		user := fmt.Sprint(env.UserID)
		if env.UserID == config.UnsetUserID {
			user = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, name, user, env.QueueURL)
	}
	return w.Flush()
}

func runMethods(out io.Writer) {
	methods := handlers.NewRegistry(handlers.Deps{}).Methods()
	fmt.Fprintln(out, strings.Join(methods, "\n"))
}
