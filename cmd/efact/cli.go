package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/errors"
	"github.com/hpungsan/efact/internal/ops"
	"github.com/hpungsan/efact/internal/web"
)

// maxPasswordBytes bounds the password read from stdin.
const maxPasswordBytes = 4096

// newCLIApp creates the CLI application with all commands.
func newCLIApp(rt *ops.Runtime, log *zap.Logger) *cli.App {
	app := &cli.App{
		Name:    "efact",
		Usage:   "E-invoice document viewer",
		Version: Version,
		Commands: []*cli.Command{
			loginCmd(rt),
			logoutCmd(rt),
			fetchCmd(rt),
			statusCmd(rt),
			purgeCmd(rt),
			serveCmd(rt, log),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// loginCmd creates the login command.
func loginCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in and keep the token for this shell session (password may be piped via stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, EnvVars: []string{"EFACT_USERNAME"}, Usage: "Account username"},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"EFACT_PASSWORD"}, Usage: "Account password"},
		},
		Action: func(c *cli.Context) error {
			if err := requireRemote(rt); err != nil {
				return outputError(err)
			}

			password := c.String("password")
			if password == "" && stdinHasData() {
				p, err := readStdin(maxPasswordBytes)
				if err != nil {
					return outputError(errors.NewValidation(err.Error()))
				}
				password = firstLine(p)
			}

			sess := rt.Session(ops.ResolveSessionID())
			defer sess.Close()

			output, err := ops.Login(c.Context, sess, ops.LoginInput{
				Username: c.String("username"),
				Password: password,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// logoutCmd creates the logout command.
func logoutCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the token of this shell session",
		Action: func(c *cli.Context) error {
			sess := rt.Session(ops.ResolveSessionID())
			defer sess.Close()

			output, err := ops.Logout(c.Context, sess)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// fetchOutput is what fetch prints: the document plus, when written, the file.
type fetchOutput struct {
	*ops.FetchOutput
	Saved *ops.SaveOutput `json:"saved,omitempty"`
}

// fetchCmd creates the fetch command.
func fetchCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a document; PDFs and zipped receipts are written to a file",
		ArgsUsage: "[ticket]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Value: string(document.DefaultKind), Usage: "Document kind: rendered|structured|receipt (or pdf|xml|cdr)"},
			&cli.StringFlag{Name: "ticket", Aliases: []string{"t"}, Usage: "Ticket identifying the document"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default: ./<ticket>-<kind>.<ext>)"},
			&cli.BoolFlag{Name: "overwrite", Usage: "Replace an existing output file"},
		},
		Action: func(c *cli.Context) error {
			if err := requireRemote(rt); err != nil {
				return outputError(err)
			}

			ticket := c.String("ticket")
			if c.NArg() > 0 {
				ticket = c.Args().First()
			}

			sess := rt.Session(ops.ResolveSessionID())
			defer sess.Close()

			fetched, err := ops.Fetch(c.Context, sess, ops.FetchInput{
				Kind:   c.String("kind"),
				Ticket: ticket,
			})
			if err != nil {
				return outputError(err)
			}

			output := fetchOutput{FetchOutput: fetched}
			// the handle dies with the process, so binary payloads always go to disk
			if c.IsSet("out") || !fetched.Handle.HasText() {
				saved, err := ops.Save(c.Context, sess, ops.SaveInput{
					Path:      c.String("out"),
					Overwrite: c.Bool("overwrite"),
				})
				if err != nil {
					return outputError(err)
				}
				output.Saved = saved
			}

			return outputJSON(output)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether this shell session is logged in",
		Action: func(c *cli.Context) error {
			id := ops.ResolveSessionID()
			sess := rt.Session(id)
			defer sess.Close()

			return outputJSON(ops.Status(id, sess))
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(rt *ops.Runtime) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Remove stored tokens of idle sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Idle threshold, e.g. 12h or 7d (default: session_ttl_hours)"},
		},
		Action: func(c *cli.Context) error {
			hours := rt.Config().SessionTTLHours
			if olderThan := c.String("older-than"); olderThan != "" {
				h, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewValidation(err.Error()))
				}
				hours = h
			}

			output, err := ops.Purge(c.Context, rt.DB(), ops.PurgeInput{OlderThanHours: hours})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(rt *ops.Runtime, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the browser viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to listen on"},
			&cli.IntFlag{Name: "port", Value: 8484, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			if err := requireRemote(rt); err != nil {
				return outputError(err)
			}
			srv := web.NewServer(rt, log, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv, log)
		},
	}
}

// Helper functions

// requireRemote rejects commands that talk to the remote services when the
// configuration cannot reach them.
func requireRemote(rt *ops.Runtime) error {
	if err := rt.Config().Validate(); err != nil {
		return errors.NewValidation(err.Error())
	}
	return nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if eErr, ok := err.(*errors.EfactError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", eErr.Code, eErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return string(data), nil
}

// firstLine returns the first line of s without its line ending.
func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	if sc.Scan() {
		return strings.TrimRight(sc.Text(), "\r")
	}
	return ""
}

// parseDuration parses "12h" or "7d" to hours.
func parseDuration(s string) (int, error) {
	unit := 0
	var numStr string
	if n, ok := strings.CutSuffix(s, "h"); ok {
		numStr, unit = n, 1
	} else if n, ok := strings.CutSuffix(s, "d"); ok {
		numStr, unit = n, 24
	} else {
		return 0, fmt.Errorf("duration must end with 'h' (hours) or 'd' (days), e.g., 12h")
	}

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return n * unit, nil
}
