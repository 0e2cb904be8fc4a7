// watergb - command-line client for the water billing backend
//
// The hierarchy is neighborhood -> square -> house:
//
//	watergb login -u <name>            Log in (password read from stdin)
//	watergb neighborhoods              List neighborhoods
//	watergb squares <neighborhood>     List squares of a neighborhood
//	watergb houses <square>            List houses of a square
//	watergb house-update ...           Edit a house record
//	watergb monitor                    Watch backend connectivity
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"watergb/internal/api"
	"watergb/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// command is one subcommand. fallback is the localised message shown when
// it fails for a reason that has no more specific message.
type command struct {
	run      func(ctx context.Context, a *app, args []string) error
	fallback string
}

var commands = map[string]command{
	"login":            {cmdLogin, api.MsgUnexpected},
	"register":         {cmdRegister, api.MsgUnexpected},
	"logout":           {cmdLogout, api.MsgUnexpected},
	"whoami":           {cmdWhoami, api.MsgUnexpected},
	"neighborhoods":    {cmdNeighborhoods, api.MsgLoadNeighborhoods},
	"neighborhood-add": {cmdNeighborhoodAdd, api.MsgSaveHouse},
	"squares":          {cmdSquares, api.MsgLoadSquares},
	"square-add":       {cmdSquareAdd, api.MsgSaveHouse},
	"houses":           {cmdHouses, api.MsgLoadHouses},
	"house-add":        {cmdHouseAdd, api.MsgSaveHouse},
	"house-update":     {cmdHouseUpdate, api.MsgSaveHouse},
	"house-delete":     {cmdHouseDelete, api.MsgDeleteHouse},
	"receipt":          {cmdReceipt, api.MsgSaveReceipt},
	"payment-types":    {cmdPaymentTypes, api.MsgUnexpected},
	"ping":             {cmdPing, api.MsgNetwork},
	"monitor":          {cmdMonitor, api.MsgUnexpected},
	"config":           {cmdConfig, api.MsgUnexpected},
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("watergb", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "path to config file")
	dumpLogs := global.String("dump-logs", "", "write the diagnostic log export to this file after the command")
	global.Usage = func() { usage(stderr) }

	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() < 1 {
		usage(stderr)
		return 1
	}

	name := global.Arg(0)
	if name == "help" || name == "-h" || name == "--help" {
		usage(stdout)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", name)
		usage(stderr)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, *configPath, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	a.logs.UI(name, logStoreArgs(global.Args()[1:]))
	err = cmd.run(ctx, a, global.Args()[1:])

	if *dumpLogs != "" {
		if derr := a.dumpLogs(*dumpLogs); derr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", derr)
		}
	}

	if err != nil {
		return a.report(ctx, err, cmd.fallback)
	}
	return 0
}

// usageError is a misuse of a subcommand's arguments.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// report prints err for the user and returns the exit code. Raw detail only
// goes to the process log.
func (a *app) report(ctx context.Context, err error, fallback string) int {
	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(a.stderr, "Usage: %s\n", ue.msg)
		return 2
	}
	if errors.Is(err, errDisconnected) {
		return 1
	}
	var fe *fallbackError
	if errors.As(err, &fe) {
		fallback = fe.fallback
	}
	var f *session.Failure
	if errors.As(err, &f) {
		fmt.Fprintf(a.stderr, "خطأ: %s\n", f.Message)
		return 1
	}

	if a.session.HandleError(ctx, err) {
		fmt.Fprintln(a.stderr, api.MsgSessionExpired)
		return 1
	}
	a.log.Debug("command failed", "error", err)
	fmt.Fprintf(a.stderr, "خطأ: %s\n", api.UserMessage(err, fallback))
	return 1
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `watergb - Water billing client

USAGE:
    watergb [options] <command> [args]

SESSION:
    login -u <user> [-p <password>]       Log in (password read from stdin when -p is omitted)
    register -u <user> [-p <password>]    Create an account, then log in separately
    logout                                Forget the stored session
    whoami                                Show the logged-in user

BROWSE:
    neighborhoods                         List neighborhoods
    neighborhood-add <name>               Add a neighborhood
    squares <neighborhood-id>             List the squares of a neighborhood
    square-add -n <neighborhood-id> <name>
                                          Add a square
    houses [-q <query>] [-json] <square-id>
                                          List houses; -q searches number, owner, phone or سدد/لم يسدد

HOUSES:
    house-add -square <id> -number <n> -owner <name> [-phone] [-type] [-amount] [-occupied] [-paid]
    house-update -square <id> -id <house-id> [same fields as house-add]
    house-delete -id <house-id>
    receipt -square <id> -id <house-id> (<image-uri> | -remove)
    payment-types                         List meter payment types

DIAGNOSTICS:
    ping                                  Test the connection to the backend once
    monitor [-addr <host:port>]           Watch connectivity, serve /debug/* and /metrics
    config show [-format toml|json|yaml]  Print the effective configuration
    config init                           Write the default config file
    help                                  Show this help message

OPTIONS:
    -config <path>      Config file (default: ./config.toml or the platform config dir)
    -dump-logs <path>   Write the diagnostic log export after the command`)
}
