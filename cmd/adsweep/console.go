package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nao1215/adsweep/internal/channel"
	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/session"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

const consoleHelp = `commands:
  list                 list cards (* = WhatsApp, + = selected, - = hidden)
  stats                show card totals
  select <id>          toggle selection of a card (id prefix is enough)
  all | clear          select every visible card, or none
  more                 show more cards
  topic on|off         only show WhatsApp ads
  min <n>              hide ads with fewer than n active ads
  ref <id>             show the ad library reference of a card
  download [id]        download media of a card, or of every selected card
  save <id> <name>     save a card as a named offer
  login <email>        mark a user as logged in
  logout               forget the logged in user
  scan                 scan now
  scroll               scroll the page to load more ads
  quit                 stop watching`

// console drives a session from line-oriented user input.
type console struct {
	session *session.Session
	port    channel.Port
	out     io.Writer
	scroll  func(ctx context.Context) error

	mu sync.Mutex
}

// consoleNotifier prints session notifications on the console.
type consoleNotifier struct {
	c *console
}

func (n consoleNotifier) Notify(level session.Level, message string) {
	prefix := "info"
	if level == session.LevelError {
		prefix = "error"
	}
	n.c.printf("[%s] %s\n", prefix, message)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run reads commands until quit, end of input or ctx cancellation.
func (c *console) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("type 'help' for commands\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

// exec runs one command line.
func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		c.printf("%s\n", consoleHelp)
	case "quit", "exit", "q":
		return errQuit
	case "list", "ls":
		c.list()
	case "stats":
		st := c.session.Stats()
		c.printf("total=%d whatsapp=%d selected=%d\n", st.Total, st.TopicMatches, st.Selected)
	case "select":
		id, err := c.resolve(args)
		if err != nil {
			return err
		}
		on, err := c.session.ToggleSelect(ctx, id)
		if err != nil {
			return err
		}
		c.printf("%s selected=%v\n", model.ShortID(id), on)
	case "all":
		c.printf("selected %d card(s)\n", c.session.SelectAll(ctx))
	case "clear":
		c.session.ClearSelection(ctx)
	case "more":
		p := c.session.LoadMore(ctx)
		c.printf("showing %d of %d\n", len(p.Visible), p.Qualifying)
	case "topic":
		if len(args) != 1 {
			return errors.New("usage: topic on|off")
		}
		return c.session.SetTopicOnly(ctx, args[0] == "on" || args[0] == "true")
	case "min":
		if len(args) != 1 {
			return errors.New("usage: min <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid count %q", args[0])
		}
		return c.session.SetMinActiveCount(ctx, n)
	case "ref":
		id, err := c.resolve(args)
		if err != nil {
			return err
		}
		ref, err := c.session.Reference(id)
		if err != nil {
			return err
		}
		c.printf("%s (%s)\n", ref.Value, ref.Strategy)
	case "download", "dl":
		if len(args) == 0 {
			res := c.session.BulkDownload(ctx, func(p session.Progress) {
				status := "ok"
				if p.Err != nil {
					status = p.Err.Error()
				}
				c.printf("[%d/%d] %s: %s\n", p.Index, p.Total, model.ShortID(p.ID), status)
			})
			c.printf("downloaded %d, failed %d\n", res.Succeeded, len(res.Failed))
			return nil
		}
		id, err := c.resolve(args)
		if err != nil {
			return err
		}
		return c.session.Download(ctx, id)
	case "save":
		if len(args) < 2 {
			return errors.New("usage: save <id> <name>")
		}
		id, err := c.resolve(args[:1])
		if err != nil {
			return err
		}
		return c.session.SaveOffer(ctx, id, strings.Join(args[1:], " "))
	case "login":
		if len(args) != 1 {
			return errors.New("usage: login <email>")
		}
		_, err := channel.Send(ctx, c.port, channel.ActionUserLoggedIn, channel.UserLoggedInPayload{Email: args[0]})
		return err
	case "logout":
		_, err := channel.Send(ctx, c.port, channel.ActionUserLoggedOut, nil)
		return err
	case "scan":
		resp, err := channel.Send(ctx, c.port, channel.ActionForceInject, nil)
		if err != nil {
			return err
		}
		var ran map[string]bool
		if err := resp.Decode(&ran); err == nil && !ran["success"] {
			c.printf("a scan is already running\n")
		}
	case "scroll":
		if c.scroll == nil {
			return errors.New("this page cannot scroll")
		}
		return c.scroll(ctx)
	default:
		return fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
	return nil
}

func (c *console) list() {
	cards := c.session.Cards()
	if len(cards) == 0 {
		c.printf("no cards\n")
		return
	}
	var sb strings.Builder
	for _, card := range cards {
		flags := []byte("   ")
		if card.IsTopicMatch {
			flags[0] = '*'
		}
		if card.Selected {
			flags[1] = '+'
		}
		if !card.Visible {
			flags[2] = '-'
		}
		fmt.Fprintf(&sb, "%s %s active=%d", flags, model.ShortID(card.UniqueID), card.ActiveCount)
		if card.Reference != "" {
			fmt.Fprintf(&sb, " %s", card.Reference)
		}
		sb.WriteString("\n")
	}
	c.printf("%s", sb.String())
}

// resolve finds the card whose id starts with args[0].
func (c *console) resolve(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", errors.New("card id required")
	}
	prefix := strings.ToLower(args[0])
	var match string
	for _, card := range c.session.Cards() {
		if !strings.HasPrefix(card.UniqueID, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("ambiguous card id %q", args[0])
		}
		match = card.UniqueID
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", session.ErrUnknownCard, args[0])
	}
	return match, nil
}
