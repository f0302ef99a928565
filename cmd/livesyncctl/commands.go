package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/lock"
	"github.com/matheus3301/livesync/internal/outbox"
	intsync "github.com/matheus3301/livesync/internal/sync"
	"github.com/matheus3301/livesync/internal/tui/views"
	"github.com/matheus3301/livesync/internal/wa"
)

const callTimeout = 10 * time.Second

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if s := c.String("socket"); s != "" {
		cfg.SocketPath = s
	}
	return cfg, nil
}

// withClient dials the daemon and runs fn with a bounded context.
func withClient(c *cli.Context, timeout time.Duration, fn func(ctx context.Context, client *api.Client) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	client, err := api.Dial(cfg.Socket())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, client)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show daemon status",
		Action: func(c *cli.Context) error {
			return withClient(c, callTimeout, func(ctx context.Context, client *api.Client) error {
				st, err := client.Status(ctx)
				if err != nil {
					cfg, _ := loadConfig(c)
					if pid, ok := lock.Holder(cfg.DataDir); ok {
						return fmt.Errorf("daemon (PID %d) not answering: %w", pid, err)
					}
					return fmt.Errorf("daemon not running: %w", err)
				}
				if c.Bool("json") {
					return outputJSON(st)
				}
				fmt.Printf("Uptime:        %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
				switch {
				case !st.WhatsApp:
					fmt.Println("WhatsApp:      disabled (local only)")
				case !st.LoggedIn:
					fmt.Println("WhatsApp:      not linked, run livesyncctl pair")
				default:
					fmt.Printf("WhatsApp:      %s (connected: %v)\n", st.PhoneNumber, st.Connected)
				}
				fmt.Printf("Conversations: %d\n", st.ConversationCount)
				fmt.Printf("Messages:      %d\n", st.MessageCount)
				return nil
			})
		},
	}
}

func conversationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "conversations",
		Aliases: []string{"ls"},
		Usage:   "List conversations, most recent first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50},
		},
		Action: func(c *cli.Context) error {
			return withClient(c, callTimeout, func(ctx context.Context, client *api.Client) error {
				convs, err := client.ListConversations(ctx, c.Int("limit"))
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(convs)
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tTITLE\tUNREAD\tLAST\tPREVIEW")
				for _, conv := range convs {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
						conv.ID, conv.Title, conv.UnreadCount, formatTime(conv.LastMessageAt), views.Truncate(conv.LastMessagePreview, 40))
				}
				return tw.Flush()
			})
		},
	}
}

func messagesCommand() *cli.Command {
	return &cli.Command{
		Name:      "messages",
		Usage:     "Show the newest messages of a conversation",
		ArgsUsage: "<conversation>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			return withClient(c, callTimeout, func(ctx context.Context, client *api.Client) error {
				msgs, err := client.ListMessages(ctx, c.Args().First(), c.Int("limit"))
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(msgs)
				}
				for _, m := range msgs {
					printMessage(os.Stdout, m)
				}
				return nil
			})
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message",
		ArgsUsage: "<conversation> [text...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "media", Usage: "media reference to attach"},
			&cli.StringFlag{Name: "client-id", Usage: "idempotency key (default: random)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.ShowSubcommandHelp(c)
			}
			req := outbox.SendRequest{
				ClientID:       c.String("client-id"),
				ConversationID: c.Args().First(),
			}
			if req.ClientID == "" {
				req.ClientID = uuid.NewString()
			}
			if text := strings.Join(c.Args().Tail(), " "); text != "" {
				req.Content = entity.Text(text)
			}
			if c.IsSet("media") {
				req.MediaRef = entity.Text(c.String("media"))
			}
			return withClient(c, callTimeout, func(ctx context.Context, client *api.Client) error {
				m, err := client.Send(ctx, req)
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(m)
				}
				fmt.Printf("sent %s (client id %s)\n", m.ID, req.ClientID)
				return nil
			})
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a conversation",
		ArgsUsage: "<id> [title...]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.ShowSubcommandHelp(c)
			}
			return withClient(c, callTimeout, func(ctx context.Context, client *api.Client) error {
				conv, err := client.CreateConversation(ctx, c.Args().First(), strings.Join(c.Args().Tail(), " "))
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(conv)
				}
				fmt.Printf("conversation %s ready\n", conv.ID)
				return nil
			})
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Mark a conversation read",
		ArgsUsage: "<conversation>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			return withClient(c, callTimeout, func(ctx context.Context, client *api.Client) error {
				_, err := client.MarkRead(ctx, c.Args().First())
				return err
			})
		},
	}
}

func tailCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Follow change events of a conversation, or of the list when none is given",
		ArgsUsage: "[conversation]",
		Action: func(c *cli.Context) error {
			scope := intsync.Scope{ConversationID: c.Args().First()}
			return withClient(c, 0, func(ctx context.Context, client *api.Client) error {
				stream, err := client.Subscribe(ctx, scope)
				if err != nil {
					return err
				}
				defer func() { _ = stream.Close() }()
				fmt.Fprintf(os.Stderr, "following %s, Ctrl-C to stop\n", scope)
				for {
					ev, err := stream.Recv()
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					if c.Bool("json") {
						data, err := api.MarshalEvent(ev)
						if err != nil {
							return err
						}
						fmt.Println(string(data))
						continue
					}
					printEvent(os.Stdout, ev)
				}
			})
		},
	}
}

func pairCommand() *cli.Command {
	return &cli.Command{
		Name:  "pair",
		Usage: "Link the daemon to WhatsApp by scanning a QR code",
		Action: func(c *cli.Context) error {
			return withClient(c, 0, func(ctx context.Context, client *api.Client) error {
				events, err := client.Pair(ctx)
				if err != nil {
					return err
				}
				for evt := range events {
					switch evt.Type {
					case string(wa.AuthEventQRCode):
						fmt.Print("\033[H\033[2J")
						fmt.Println("Scan this QR code with WhatsApp:")
						fmt.Print(views.RenderQR(evt.QRCode))
					case string(wa.AuthEventAuthenticated):
						fmt.Println("Linked.")
						return nil
					default:
						if evt.Message == "" {
							evt.Message = evt.Type
						}
						return errors.New(evt.Message)
					}
				}
				return ctx.Err()
			})
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the default configuration",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if _, err := os.Stat(path); err == nil && !c.Bool("force") {
						return fmt.Errorf("%s exists, use --force to overwrite", path)
					}
					if err := config.Save(path, config.Default()); err != nil {
						return err
					}
					fmt.Printf("Created configuration file at %s\n", path)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					return outputJSON(cfg)
				},
			},
		},
	}
}

func printMessage(w io.Writer, m entity.Message) {
	who := "them"
	if m.Direction == entity.Outgoing {
		who = "you "
	}
	body := m.Text()
	if m.MediaRef != nil {
		body = strings.TrimSpace(body + " [media " + *m.MediaRef + "]")
	}
	_, _ = fmt.Fprintf(w, "%s  %s  %-9s  %s\n", m.CreatedAt.Format("2006-01-02 15:04"), who, m.Status, body)
}

func printEvent(w io.Writer, ev intsync.ChangeEvent) {
	switch {
	case ev.Message != nil:
		_, _ = fmt.Fprintf(w, "%-6s %s ", ev.Op, ev.Message.ID)
		printMessage(w, *ev.Message)
	case ev.Conversation != nil:
		_, _ = fmt.Fprintf(w, "%-6s %s unread=%d %q\n", ev.Op, ev.Conversation.ID, ev.Conversation.UnreadCount, ev.Conversation.LastMessagePreview)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
