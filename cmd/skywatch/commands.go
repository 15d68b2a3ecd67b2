package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kjstillabower/skywatch/internal/dashboard"
	"github.com/kjstillabower/skywatch/internal/models"
)

type command func(ctx context.Context, a *app, args []string) error

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":    cmdLogin,
		"register": cmdRegister,
		"logout":   cmdLogout,
		"status":   cmdStatus,
		"track":    cmdTrack,
		"list":     cmdList,
		"get":      cmdGet,
		"update":   cmdUpdate,
		"delete":   cmdDelete,
		"latest":   cmdLatest,
		"chart":    cmdChart,
		"serve":    cmdServe,
	}
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet("skywatch "+name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func credentialFlags(a *app, name string, args []string) (email, pw string, err error) {
	fs := newFlagSet(a, name)
	emailFlag := fs.String("email", "", "account email")
	pwFlag := fs.String("password", "", "account password (or SKYWATCH_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	email = *emailFlag
	if email == "" {
		email = fs.Arg(0)
	}
	return email, password(*pwFlag), nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	email, pw, err := credentialFlags(a, "login", args)
	if err != nil {
		return err
	}
	if err := a.dash.Login(ctx, email, pw); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Logged in as %s\n", email)
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	email, pw, err := credentialFlags(a, "register", args)
	if err != nil {
		return err
	}
	if err := a.dash.Register(ctx, email, pw); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Account created. Log in with: skywatch login -email %s\n", email)
	return nil
}

func cmdLogout(_ context.Context, a *app, _ []string) error {
	if err := a.dash.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Logged out.")
	return nil
}

func cmdStatus(_ context.Context, a *app, _ []string) error {
	st := a.dash.Status(a.now())
	if a.json {
		return writeJSON(a.stdout, st)
	}
	if !st.Authenticated {
		fmt.Fprintln(a.stdout, "Not logged in.")
		return nil
	}
	who := st.Email
	if who == "" {
		who = "(opaque token)"
	}
	fmt.Fprintf(a.stdout, "Logged in as %s\n", who)
	if st.ExpiresAt != nil {
		state := "valid until"
		if st.Expired {
			state = "expired at"
		}
		fmt.Fprintf(a.stdout, "Token %s %s\n", state, st.ExpiresAt.Local().Format(time.RFC1123))
	}
	return nil
}

func cmdTrack(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		fmt.Fprintln(a.stderr, "usage: skywatch track <city> <country>")
		return errUsage
	}
	res, err := a.dash.Track(ctx, args[0], args[1])
	if err != nil && res.Record.ID == "" {
		return err
	}
	if a.json {
		return writeJSON(a.stdout, res)
	}
	printRecord(a.stdout, res.Record)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, "Recent:")
	return printTable(a.stdout, res.Overview.Recent)
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "list")
	term := fs.String("q", "", "filter by city, country or description")
	limit := fs.Int("n", 0, "show at most N records (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	records, err := a.dash.History(ctx, *term)
	if err != nil {
		return err
	}
	if *limit > 0 {
		records = dashboard.Recent(records, *limit)
	}
	if a.json {
		return writeJSON(a.stdout, records)
	}
	return printTable(a.stdout, records)
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.stderr, "usage: skywatch get <id>")
		return errUsage
	}
	rec, err := a.dash.Get(ctx, args[0])
	if err != nil {
		return err
	}
	return a.printOne(rec)
}

func cmdUpdate(ctx context.Context, a *app, args []string) error {
	if len(args) != 3 {
		fmt.Fprintln(a.stderr, "usage: skywatch update <id> <city> <country>")
		return errUsage
	}
	records, err := a.dash.Edit(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	if a.json {
		return writeJSON(a.stdout, records)
	}
	return printTable(a.stdout, records)
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.stderr, "usage: skywatch delete <id>")
		return errUsage
	}
	if _, err := a.dash.Remove(ctx, args[0], nil); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Deleted %s\n", args[0])
	return nil
}

func cmdLatest(ctx context.Context, a *app, args []string) error {
	rec, err := a.dash.Latest(ctx, joinArgs(args))
	if err != nil {
		return err
	}
	return a.printOne(rec)
}

func cmdChart(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "chart")
	width := fs.Int("width", 40, "bar width in characters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	overview, err := a.dash.Overview(ctx)
	if err != nil {
		return err
	}
	if a.json {
		return writeJSON(a.stdout, overview.Trend)
	}
	return dashboard.RenderTrend(a.stdout, overview.Trend, *width)
}

func (a *app) printOne(rec models.WeatherRecord) error {
	if a.json {
		return writeJSON(a.stdout, rec)
	}
	printRecord(a.stdout, rec)
	return nil
}

func printRecord(w io.Writer, r models.WeatherRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Location:\t%s, %s\n", r.CityName, r.Country)
	fmt.Fprintf(tw, "Temperature:\t%.1f°C\n", r.Temperature)
	fmt.Fprintf(tw, "Conditions:\t%s\n", r.Description)
	fmt.Fprintf(tw, "Humidity:\t%.0f%%\n", r.Humidity)
	fmt.Fprintf(tw, "Wind:\t%.1f m/s\n", r.WindSpeed)
	fmt.Fprintf(tw, "Fetched:\t%s\n", r.FetchedAt.Local().Format("2006-01-02 15:04"))
	_ = tw.Flush()
}

func printTable(w io.Writer, records []models.WeatherRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No weather records found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCITY\tCOUNTRY\tTEMP\tCONDITIONS\tFETCHED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f°C\t%s\t%s\n",
			r.ID, r.CityName, r.Country, r.Temperature, r.Description, r.FetchedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
