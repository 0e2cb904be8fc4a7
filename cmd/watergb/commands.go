package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"watergb/internal/api"
	"watergb/internal/config"
	"watergb/internal/logstore"
)

// logStoreArgs records the command arguments in a UI entry with anything
// that looks like a password masked.
func logStoreArgs(args []string) logstore.Data {
	shown := make([]string, len(args))
	mask := false
	for i, arg := range args {
		switch {
		case mask:
			shown[i] = "***"
			mask = false
		case arg == "-p" || arg == "--p" || arg == "-password" || arg == "--password":
			shown[i] = arg
			mask = true
		case strings.HasPrefix(arg, "-p=") || strings.HasPrefix(arg, "-password="):
			shown[i] = arg[:strings.IndexByte(arg, '=')+1] + "***"
		default:
			shown[i] = arg
		}
	}
	return logstore.Data{Extra: map[string]any{"args": shown}}
}

func newFlags(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) readPassword() (string, error) {
	fmt.Fprint(a.stderr, "Password: ")
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprintln(a.stderr)
	return strings.TrimRight(line, "\r\n"), nil
}

func credentialFlags(a *app, name string, args []string) (string, string, error) {
	fs := newFlags(a, name)
	user := fs.String("u", "", "username")
	pass := fs.String("p", "", "password (read from stdin when omitted)")
	if err := fs.Parse(args); err != nil {
		return "", "", usagef("watergb %s -u <user> [-p <password>]", name)
	}
	if *pass == "" {
		p, err := a.readPassword()
		if err != nil {
			return "", "", err
		}
		*pass = p
	}
	return *user, *pass, nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	user, pass, err := credentialFlags(a, "login", args)
	if err != nil {
		return err
	}
	u, err := a.session.Login(ctx, user, pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Logged in as %s\n", u.Username)
	if !u.ExpiresAt.IsZero() {
		fmt.Fprintf(a.stdout, "Session expires %s\n", u.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	user, pass, err := credentialFlags(a, "register", args)
	if err != nil {
		return err
	}
	if err := a.session.Register(ctx, user, pass); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, api.MsgRegistered)
	return nil
}

func cmdLogout(ctx context.Context, a *app, args []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Logged out")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, args []string) error {
	u := a.session.User()
	if u == nil {
		fmt.Fprintln(a.stdout, "Not logged in")
		return nil
	}
	name := u.Username
	if name == "" {
		name = "(unknown)"
	}
	fmt.Fprintf(a.stdout, "User:    %s\n", name)
	if u.ID != "" {
		fmt.Fprintf(a.stdout, "ID:      %s\n", u.ID)
	}
	if u.Role != "" {
		fmt.Fprintf(a.stdout, "Role:    %s\n", u.Role)
	}
	if !u.ExpiresAt.IsZero() {
		fmt.Fprintf(a.stdout, "Expires: %s\n", u.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(a.stdout, "Backend: %s\n", a.http.BaseURL())
	return nil
}

func oneArg(args []string, use string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", usagef("%s", use)
	}
	return strings.TrimSpace(args[0]), nil
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
}

func cmdNeighborhoods(ctx context.Context, a *app, args []string) error {
	list, err := a.api.Neighborhoods.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.stdout, "No neighborhoods")
		return nil
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tNAME")
	for _, n := range list {
		fmt.Fprintf(tw, "%s\t%s\n", n.ID, n.Name)
	}
	return tw.Flush()
}

func cmdNeighborhoodAdd(ctx context.Context, a *app, args []string) error {
	name, err := oneArg(args, "watergb neighborhood-add <name>")
	if err != nil {
		return err
	}
	n, err := a.api.Neighborhoods.Create(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s (%s)\n", api.MsgNeighborhoodAdd, n.ID)
	return nil
}

func cmdSquares(ctx context.Context, a *app, args []string) error {
	id, err := oneArg(args, "watergb squares <neighborhood-id>")
	if err != nil {
		return err
	}
	list, err := a.api.Neighborhoods.Squares(ctx, api.ID(id))
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.stdout, "No squares")
		return nil
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tNAME")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.Name)
	}
	return tw.Flush()
}

func cmdSquareAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "square-add")
	nid := fs.String("n", "", "neighborhood id")
	if err := fs.Parse(args); err != nil {
		return usagef("watergb square-add -n <neighborhood-id> <name>")
	}
	name, err := oneArg(fs.Args(), "watergb square-add -n <neighborhood-id> <name>")
	if err != nil {
		return err
	}
	s, err := a.api.Squares.Create(ctx, name, api.ID(*nid))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s (%s)\n", api.MsgSquareAdd, s.ID)
	return nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cmdHouses(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "houses")
	query := fs.String("q", "", "search by number, owner, phone or paid label")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return usagef("watergb houses [-q <query>] [-json] <square-id>")
	}
	id, err := oneArg(fs.Args(), "watergb houses [-q <query>] [-json] <square-id>")
	if err != nil {
		return err
	}

	all, err := a.api.Squares.Houses(ctx, api.ID(id))
	if err != nil {
		return err
	}
	houses := api.FilterHouses(all, *query)

	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if houses == nil {
			houses = []api.House{}
		}
		return enc.Encode(houses)
	}

	if len(houses) == 0 {
		fmt.Fprintln(a.stdout, "No houses")
	} else {
		tw := a.table()
		fmt.Fprintln(tw, "ID\tNUMBER\tOWNER\tPHONE\tMETER\tAMOUNT\tSTATUS\tOCCUPIED\tRECEIPT")
		for _, h := range houses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				h.ID, h.HouseNumber, h.OwnerName, h.OwnerPhone,
				api.PaymentTypeName(h.PaymentType), formatAmount(h.Amount()),
				h.PaidLabel(), yesNo(h.IsOccupied), yesNo(h.HasReceipt()))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	sum := api.Summarize(houses)
	fmt.Fprintf(a.stdout, "\n%d houses: %d %s, %d %s\n", sum.Total, sum.Paid, api.LabelPaid, sum.Unpaid, api.LabelUnpaid)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

// houseFlags binds the editable house fields to fs.
type houseFlags struct {
	square   *string
	number   *string
	owner    *string
	phone    *string
	meter    *string
	amount   *float64
	occupied *bool
	paid     *bool
}

func bindHouseFlags(fs *flag.FlagSet) houseFlags {
	return houseFlags{
		square:   fs.String("square", "", "square id"),
		number:   fs.String("number", "", "house number"),
		owner:    fs.String("owner", "", "owner name"),
		phone:    fs.String("phone", "", "owner phone"),
		meter:    fs.String("type", "", "payment type (SMALL_METER, MEDIUM_METER, LARGE_METER)"),
		amount:   fs.Float64("amount", 0, "required amount (defaults to the meter's amount)"),
		occupied: fs.Bool("occupied", false, "house is occupied"),
		paid:     fs.Bool("paid", false, "house has paid"),
	}
}

// apply copies the flags that were set on the command line onto h.
func (hf houseFlags) apply(fs *flag.FlagSet, h *api.House) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "number":
			h.HouseNumber = *hf.number
		case "owner":
			h.OwnerName = *hf.owner
		case "phone":
			h.OwnerPhone = *hf.phone
		case "type":
			h.PaymentType = *hf.meter
			// A new meter size resets the amount unless one was typed.
			h.RequiredAmount = 0
		case "occupied":
			h.IsOccupied = *hf.occupied
		case "paid":
			h.HasPaid = *hf.paid
		}
	})
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "amount" {
			h.RequiredAmount = *hf.amount
		}
	})
}

func cmdHouseAdd(ctx context.Context, a *app, args []string) error {
	const use = "watergb house-add -square <id> -number <n> -owner <name> [-phone] [-type] [-amount] [-occupied] [-paid]"
	fs := newFlags(a, "house-add")
	hf := bindHouseFlags(fs)
	if err := fs.Parse(args); err != nil || *hf.square == "" {
		return usagef(use)
	}

	h := api.House{SquareID: api.ID(*hf.square)}
	hf.apply(fs, &h)
	h.ApplyDefaults()
	if err := api.ValidateHouse(h); err != nil {
		return err
	}

	siblings, err := a.api.Squares.Houses(ctx, h.SquareID)
	if err != nil {
		return err
	}
	if err := api.CheckUniqueNumber(h, siblings); err != nil {
		return err
	}

	created, err := a.api.Houses.Create(ctx, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s (%s)\n", api.MsgHouseAdded, created.ID)
	return nil
}

// loadHouse fetches the house with id from its square, along with the
// other houses of the square.
func (a *app) loadHouse(ctx context.Context, square, id string) (api.House, []api.House, error) {
	siblings, err := a.api.Squares.Houses(ctx, api.ID(square))
	if err != nil {
		return api.House{}, nil, err
	}
	h, ok := api.FindHouse(siblings, api.ID(id))
	if !ok {
		return api.House{}, nil, fmt.Errorf("house %s not found in square %s", id, square)
	}
	if h.SquareID == "" {
		h.SquareID = api.ID(square)
	}
	return h, siblings, nil
}

func cmdHouseUpdate(ctx context.Context, a *app, args []string) error {
	const use = "watergb house-update -square <id> -id <house-id> [-number] [-owner] [-phone] [-type] [-amount] [-occupied] [-paid]"
	fs := newFlags(a, "house-update")
	hf := bindHouseFlags(fs)
	id := fs.String("id", "", "house id")
	if err := fs.Parse(args); err != nil || *hf.square == "" || *id == "" {
		return usagef(use)
	}

	h, siblings, err := a.loadHouse(ctx, *hf.square, *id)
	if err != nil {
		return err
	}
	hf.apply(fs, &h)
	h.ApplyDefaults()
	if err := api.ValidateHouse(h); err != nil {
		return err
	}
	if err := api.CheckUniqueNumber(h, siblings); err != nil {
		return err
	}

	if _, err := a.api.Houses.Update(ctx, h.ID, h); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, api.MsgHouseUpdated)
	return nil
}

func cmdHouseDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "house-delete")
	id := fs.String("id", "", "house id")
	if err := fs.Parse(args); err != nil || *id == "" {
		return usagef("watergb house-delete -id <house-id>")
	}
	if err := a.api.Houses.Delete(ctx, api.ID(*id)); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, api.MsgHouseDeleted)
	return nil
}

func cmdReceipt(ctx context.Context, a *app, args []string) error {
	const use = "watergb receipt -square <id> -id <house-id> (<image-uri> | -remove)"
	fs := newFlags(a, "receipt")
	square := fs.String("square", "", "square id")
	id := fs.String("id", "", "house id")
	remove := fs.Bool("remove", false, "remove the receipt image")
	if err := fs.Parse(args); err != nil || *square == "" || *id == "" {
		return usagef(use)
	}
	var uri string
	switch {
	case *remove && fs.NArg() == 0:
	case !*remove && fs.NArg() == 1 && fs.Arg(0) != "":
		uri = fs.Arg(0)
	default:
		return usagef(use)
	}

	h, _, err := a.loadHouse(ctx, *square, *id)
	if err != nil {
		return err
	}
	if _, err := a.api.Houses.SetReceipt(ctx, h, uri); err != nil {
		if *remove {
			return &fallbackError{err: err, fallback: api.MsgRemoveReceipt}
		}
		return err
	}
	if *remove {
		fmt.Fprintln(a.stdout, api.MsgReceiptRemoved)
	} else {
		fmt.Fprintln(a.stdout, api.MsgReceiptSaved)
	}
	return nil
}

// fallbackError overrides the command's fallback message.
type fallbackError struct {
	err      error
	fallback string
}

func (e *fallbackError) Error() string { return e.err.Error() }
func (e *fallbackError) Unwrap() error { return e.err }

func cmdPaymentTypes(ctx context.Context, a *app, args []string) error {
	tw := a.table()
	fmt.Fprintln(tw, "ID\tNAME\tAMOUNT")
	for _, pt := range api.PaymentTypes() {
		fmt.Fprintf(tw, "%s\t%s\t%s %s\n", pt.ID, pt.Name, formatAmount(pt.Amount), api.Currency)
	}
	return tw.Flush()
}

func cmdPing(ctx context.Context, a *app, args []string) error {
	p, err := a.newProber(a.cfg)
	if err != nil {
		return err
	}
	defer p.Stop()

	res, err := p.CheckNow(ctx)
	if err != nil {
		return err
	}
	if !res.Connected {
		fmt.Fprintf(a.stdout, "%s: %s\n", api.MsgDisconnected, p.URL())
		if res.StatusCode != 0 {
			fmt.Fprintf(a.stdout, "Status: %d\n", res.StatusCode)
		}
		if res.Error != "" {
			fmt.Fprintf(a.stdout, "Error:  %s\n", res.Error)
		}
		return errDisconnected
	}
	fmt.Fprintf(a.stdout, "%s: %s (%d, %d ms)\n", api.MsgConnected, p.URL(), res.StatusCode, res.LatencyMs)
	return nil
}

// errDisconnected makes ping exit non-zero after it has printed the result.
var errDisconnected = errors.New("backend unreachable")

func cmdConfig(ctx context.Context, a *app, args []string) error {
	const use = "watergb config (show [-format toml|json|yaml] | init | path)"
	if len(args) == 0 {
		return usagef(use)
	}
	switch args[0] {
	case "show":
		fs := newFlags(a, "config show")
		format := fs.String("format", "toml", "output format")
		if err := fs.Parse(args[1:]); err != nil {
			return usagef(use)
		}
		data, err := config.Encode(a.cfg, *format)
		if err != nil {
			return err
		}
		_, err = a.stdout.Write(data)
		return err
	case "init":
		_, created, err := config.LoadOrCreate(a.cfgPath)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(a.stdout, "Wrote default config to %s\n", a.cfgPath)
		} else {
			fmt.Fprintf(a.stdout, "Config already exists at %s\n", a.cfgPath)
		}
		return nil
	case "path":
		fmt.Fprintln(a.stdout, a.cfgPath)
		return nil
	}
	return usagef(use)
}
