package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ugoodapp/ugood/internal/audio"
	"github.com/ugoodapp/ugood/internal/auth"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/mcp"
	"github.com/ugoodapp/ugood/internal/metrics"
	"github.com/ugoodapp/ugood/internal/ops"
	"github.com/ugoodapp/ugood/internal/scheduler"
	"github.com/ugoodapp/ugood/internal/web"
)

// maxStdinBytes bounds text read from stdin; troubles are short.
const maxStdinBytes = 64 << 10

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "ugood",
		Usage:   "Anonymous trouble sharing and daily blessings",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(e),
			mcpCmd(e),
			shareCmd(e),
			editCmd(e),
			historyCmd(e),
			matchCmd(e),
			currentCmd(e),
			incomingCmd(e),
			blessCmd(e),
			inboxCmd(e),
			uploadURLCmd(e),
			audioURLCmd(e),
			rolloverCmd(e),
			tokenCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		EnvVars: []string{"UGOOD_USER"},
		Usage:   "Acting user id",
	}
}

func pageFlags() []cli.Flag {
	return []cli.Flag{
		userFlag(),
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max items to return"},
		&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Items to skip"},
	}
}

// currentUser resolves --user (or UGOOD_USER) through the static identity.
func currentUser(c *cli.Context) (string, error) {
	return auth.NewStatic(c.String("user")).UserID(c.Context)
}

// textInput takes text from the positional args, or from stdin when piped.
func textInput(c *cli.Context, field string) (string, error) {
	if c.NArg() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}
	if !stdinHasData() {
		return "", errors.NewInvalidRequest(field + " must be given as arguments or piped via stdin")
	}
	text, err := readStdin(maxStdinBytes)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.NewInvalidRequest(field + " is required")
	}
	return text, nil
}

// serveCmd runs the HTTP API and the rollover scheduler until interrupted.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the nightly rollover job",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (overrides http.bind)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port (overrides http.port)"},
		},
		Action: func(c *cli.Context) error {
			cfg := *e.cfg
			if c.IsSet("bind") {
				cfg.HTTP.Bind = c.String("bind")
			}
			if c.IsSet("port") {
				cfg.HTTP.Port = c.Int("port")
			}

			verifier, err := auth.NewVerifier(cfg.Auth)
			if err != nil {
				return outputError(err)
			}

			presigner, err := audio.New(c.Context, cfg.Audio)
			if err != nil {
				e.logger.Warn().Err(err).Msg("audio uploads disabled")
				presigner = nil
			}

			srv, err := web.NewServer(web.Deps{
				Store:    e.store,
				Config:   &cfg,
				Verifier: verifier,
				Logger:   e.logger,
				Metrics:  e.metrics,
				Audio:    presigner,
				Version:  Version,
			})
			if err != nil {
				return outputError(err)
			}

			sched := scheduler.New(&cfg, e.store, e.logger)
			if err := sched.Start(); err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return web.Run(gctx, srv, e.logger)
			})
			g.Go(func() error {
				<-gctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				sched.Stop(stopCtx)
				return nil
			})
			return g.Wait()
		},
	}
}

// mcpCmd runs the MCP server on stdio explicitly.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP tool server on stdio",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			identity := auth.NewStatic(c.String("user"))
			return mcp.Run(e.store, e.cfg, identity, e.metrics, e.presigner(c.Context), Version)
		},
	}
}

// shareCmd creates the share command.
func shareCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "share",
		Usage:     "Share a trouble (text as arguments or from stdin)",
		ArgsUsage: "[text...]",
		Flags:     []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}
			content, err := textInput(c, "content")
			if err != nil {
				return outputError(err)
			}

			output, err := ops.ShareTrouble(c.Context, e.store, e.cfg, ops.ShareTroubleInput{
				AuthorID: userID,
				Content:  content,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// editCmd creates the edit command.
func editCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Edit a waiting trouble (new text from --content or stdin)",
		ArgsUsage: "<trouble-id>",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "New text"},
		},
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one trouble id is required"))
			}

			content := c.String("content")
			if content == "" {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("content must be given with --content or piped via stdin"))
				}
				if content, err = readStdin(maxStdinBytes); err != nil {
					return outputError(err)
				}
			}

			output, err := ops.EditTrouble(c.Context, e.store, e.cfg, ops.EditTroubleInput{
				TroubleID: c.Args().First(),
				AuthorID:  userID,
				Content:   content,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List your troubles, newest first",
		Flags: pageFlags(),
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.TroubleHistory(c.Context, e.store, e.cfg, ops.TroubleHistoryInput{
				AuthorID: userID,
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// matchCmd creates the match command.
func matchCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "match",
		Usage: "Get today's match, pairing you with the oldest waiting trouble",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.FindMatch(c.Context, e.store, e.cfg, ops.FindMatchInput{UserID: userID})
			if err != nil {
				e.metrics.IncMatchOutcome(metrics.OutcomeError)
				return outputError(err)
			}
			e.metrics.IncMatchOutcome(metrics.MatchOutcome(output.Created, output.NoMatch))

			return outputJSON(output)
		},
	}
}

// currentCmd creates the current command.
func currentCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "current",
		Usage: "Show your latest active match",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.CurrentMatch(c.Context, e.store, e.cfg, ops.CurrentMatchInput{UserID: userID})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// incomingCmd creates the incoming command.
func incomingCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "incoming",
		Usage: "List matches made against your troubles",
		Flags: pageFlags(),
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.MatchInbox(c.Context, e.store, e.cfg, ops.MatchInboxInput{
				AuthorID: userID,
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// blessCmd creates the bless command.
func blessCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "bless",
		Usage:     "Send a blessing for your active match",
		ArgsUsage: "<match-id>",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "audio-ref", Aliases: []string{"a"}, Usage: "Storage key or URL of the recording", Required: true},
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Optional caption"},
		},
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one match id is required"))
			}

			input := ops.RecordBlessingInput{
				MatchID:    c.Args().First(),
				FromUserID: userID,
				AudioRef:   c.String("audio-ref"),
			}
			if c.IsSet("text") {
				text := c.String("text")
				input.TextContent = &text
			}

			output, err := ops.RecordBlessing(c.Context, e.store, e.cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// inboxCmd creates the inbox command.
func inboxCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "inbox",
		Usage: "List blessings you have received",
		Flags: pageFlags(),
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.BlessingInbox(c.Context, e.store, e.cfg, ops.BlessingInboxInput{
				UserID: userID,
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// uploadURLCmd creates the upload-url command.
func uploadURLCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "upload-url",
		Usage: "Presign an upload URL for a blessing recording",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "content-type", Value: audio.DefaultContentType, Usage: "Recording MIME type"},
		},
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}

			presigner, err := audio.New(c.Context, e.cfg.Audio)
			if err != nil {
				return outputError(errors.NewUnavailable(err))
			}
			upload, err := presigner.UploadURL(c.Context, userID, c.String("content-type"))
			if err != nil {
				return outputError(err)
			}

			return outputJSON(upload)
		},
	}
}

// audioURLCmd creates the audio-url command.
func audioURLCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "audio-url",
		Usage:     "Presign a playback URL for a blessing you sent or received",
		ArgsUsage: "<blessing-id>",
		Flags:     []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.BlessingAudio(c.Context, e.store, e.cfg, e.presigner(c.Context), ops.BlessingAudioInput{
				BlessingID: c.Args().First(),
				UserID:     userID,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// rolloverCmd creates the rollover command.
func rolloverCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "rollover",
		Usage: "Expire active matches from earlier cycle days",
		Action: func(c *cli.Context) error {
			output, err := ops.Rollover(c.Context, e.store, e.cfg)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// tokenCmd mints a bearer token for local testing against `ugood serve`.
func tokenCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a bearer token for the API (needs auth.jwt_secret)",
		Flags: []cli.Flag{
			userFlag(),
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "Token lifetime"},
		},
		Action: func(c *cli.Context) error {
			userID, err := currentUser(c)
			if err != nil {
				return outputError(err)
			}
			verifier, err := auth.NewVerifier(e.cfg.Auth)
			if err != nil {
				return outputError(err)
			}
			ttl := c.Duration("ttl")
			if ttl <= 0 {
				return outputError(errors.NewInvalidRequest("ttl must be positive"))
			}

			token, err := verifier.Sign(userID, ttl)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			return outputJSON(map[string]any{
				"token":      token,
				"user_id":    userID,
				"expires_at": time.Now().Add(ttl).UnixMilli(),
			})
		},
	}
}

// Helper functions

// outputJSON writes JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if uErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", uErr.Code, uErr.Message), 1)
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

// readStdin reads at most maxBytes from stdin.
func readStdin(maxBytes int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxBytes+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > maxBytes {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", maxBytes))
	}
	return strings.TrimSpace(string(data)), nil
}
