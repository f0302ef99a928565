// Package tui is the terminal client. It renders the presenter snapshots with
// tview and forwards user input to the presenters and the daemon.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/presenter"
	intsync "github.com/matheus3301/livesync/internal/sync"
	"github.com/matheus3301/livesync/internal/tui/keys"
	"github.com/matheus3301/livesync/internal/tui/model"
	"github.com/matheus3301/livesync/internal/tui/ui"
	"github.com/matheus3301/livesync/internal/tui/views"
	"github.com/matheus3301/livesync/internal/wa"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pagePair          = "pair"
	pageHelp          = "help"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	root     *tview.Flex
	pages    *tview.Pages
	theme    *ui.Theme
	client   *api.Client
	cfg      *config.Config
	logger   *zap.Logger
	registry *keys.Registry
	flash    *model.Flash

	loop   *presenter.Loop
	thread *presenter.Thread
	convs  *presenter.Conversations

	statusBar  *views.StatusBar
	list       *views.ConversationList
	threadView *views.ThreadView
	composer   *views.Composer
	pairView   *views.PairView
	helpView   *views.HelpView
	prompt     *ui.Prompt

	// UI goroutine only.
	unread   int
	pending  int
	openID   string
	prevPage string

	pairMu     sync.Mutex
	pairCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application on top of a daemon connection.
func NewApp(c *api.Client, cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	ingest := intsync.IngestorConfig{
		InitialBackoff: cfg.Resync.InitialBackoff.Duration,
		MaxBackoff:     cfg.Resync.MaxBackoff.Duration,
	}
	loop := presenter.NewLoop(256, logger)

	a := &App{
		app:      tview.NewApplication(),
		pages:    tview.NewPages(),
		theme:    theme,
		client:   c,
		cfg:      cfg,
		logger:   logger,
		registry: keys.NewRegistry(),
		flash:    model.NewFlash(),
		loop:     loop,
		thread: presenter.NewThread(loop, c, c, presenter.ThreadConfig{
			PageSize:          cfg.Thread.PageSize,
			Overscan:          cfg.Thread.Overscan,
			BottomThreshold:   cfg.Thread.BottomThreshold,
			EstimateRowHeight: cfg.Thread.EstimateRowHeight,
			DayRowHeight:      1,
			SendTimeout:       cfg.Thread.SendTimeout.Duration,
			Ingest:            ingest,
		}, logger),
		convs: presenter.NewConversations(loop, c, presenter.ConversationsConfig{
			RowHeight: cfg.Conversations.RowHeight,
			Overscan:  cfg.Conversations.Overscan,
			PageSize:  cfg.Conversations.PageSize,
			Ingest:    ingest,
		}, logger),
		statusBar:  views.NewStatusBar(theme),
		list:       views.NewConversationList(theme, cfg.Conversations.RowHeight),
		threadView: views.NewThreadView(theme),
		composer:   views.NewComposer(theme),
		pairView:   views.NewPairView(theme),
		helpView:   views.NewHelpView(theme),
		prompt:     ui.NewPrompt(theme),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	a.helpView.Render([]views.HelpSection{
		{Title: "Conversation List", Bindings: a.registry.Bindings(pageConversations)},
		{Title: "Message Thread", Bindings: a.registry.Bindings(pageThread)},
	}, CommandHelp)

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Name: "quit", Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddGlobal(&keys.Action{
		Name: "help", Key: tcell.KeyRune, Rune: '?',
		Description: "?:help", Visible: true,
		Handler: a.showHelp,
	})
	a.registry.AddGlobal(&keys.Action{
		Name: "command", Key: tcell.KeyRune, Rune: ':',
		Description: "::command", Visible: true,
		Handler: a.showPrompt,
	})

	move := func(delta int) func() {
		return func() { a.async(func() error { return a.convs.Move(delta) }) }
	}
	page := func(sign int) func() {
		return func() {
			rows := max(a.listHeight()/max(a.cfg.Conversations.RowHeight, 1), 1)
			a.async(func() error { return a.convs.Move(sign * rows) })
		}
	}
	a.registry.AddView(pageConversations, &keys.Action{Name: "open", Key: tcell.KeyEnter, Description: "Enter:open", Visible: true, Handler: a.openSelected})
	a.registry.AddView(pageConversations, &keys.Action{Name: "down", Key: tcell.KeyRune, Rune: 'j', Description: "j:down", Handler: move(1)})
	a.registry.AddView(pageConversations, &keys.Action{Name: "up", Key: tcell.KeyRune, Rune: 'k', Description: "k:up", Handler: move(-1)})
	a.registry.AddView(pageConversations, &keys.Action{Name: "down-arrow", Key: tcell.KeyDown, Handler: move(1)})
	a.registry.AddView(pageConversations, &keys.Action{Name: "up-arrow", Key: tcell.KeyUp, Handler: move(-1)})
	a.registry.AddView(pageConversations, &keys.Action{Name: "page-down", Key: tcell.KeyPgDn, Description: "PgDn:page down", Handler: page(1)})
	a.registry.AddView(pageConversations, &keys.Action{Name: "page-up", Key: tcell.KeyPgUp, Description: "PgUp:page up", Handler: page(-1)})
	a.registry.AddView(pageConversations, &keys.Action{Name: "pair", Key: tcell.KeyRune, Rune: 'p', Description: "p:pair", Visible: true, Handler: a.pair})

	scroll := func(dy int) func() {
		return func() { a.async(func() error { return a.thread.Scroll(dy) }) }
	}
	scrollPage := func(sign int) func() {
		return func() {
			dy := sign * max(a.threadHeight()-1, 1)
			a.async(func() error { return a.thread.Scroll(dy) })
		}
	}
	a.registry.AddView(pageThread, &keys.Action{Name: "compose", Key: tcell.KeyRune, Rune: 'i', Description: "i:compose", Visible: true, Handler: a.focusComposer})
	a.registry.AddView(pageThread, &keys.Action{Name: "retry", Key: tcell.KeyRune, Rune: 'r', Description: "r:retry", Visible: true, Handler: a.retry})
	a.registry.AddView(pageThread, &keys.Action{Name: "bottom", Key: tcell.KeyRune, Rune: 'G', Description: "G:newest", Visible: true, Handler: func() { a.async(a.thread.ScrollToBottom) }})
	a.registry.AddView(pageThread, &keys.Action{Name: "down", Key: tcell.KeyRune, Rune: 'j', Description: "j:scroll down", Handler: scroll(1)})
	a.registry.AddView(pageThread, &keys.Action{Name: "up", Key: tcell.KeyRune, Rune: 'k', Description: "k:scroll up", Handler: scroll(-1)})
	a.registry.AddView(pageThread, &keys.Action{Name: "down-arrow", Key: tcell.KeyDown, Handler: scroll(1)})
	a.registry.AddView(pageThread, &keys.Action{Name: "up-arrow", Key: tcell.KeyUp, Handler: scroll(-1)})
	a.registry.AddView(pageThread, &keys.Action{Name: "page-down", Key: tcell.KeyPgDn, Description: "PgDn:page down", Handler: scrollPage(1)})
	a.registry.AddView(pageThread, &keys.Action{Name: "page-up", Key: tcell.KeyPgUp, Description: "PgUp:page up", Handler: scrollPage(-1)})
	a.registry.AddView(pageThread, &keys.Action{Name: "back", Key: tcell.KeyEscape, Description: "Esc:back", Visible: true, Handler: a.back})
}

func (a *App) setupCallbacks() {
	// Presenter callbacks run on the loop goroutine; hand the snapshots over
	// to the UI goroutine.
	a.thread.OnUpdate(func(s *presenter.Snapshot) {
		a.app.QueueUpdateDraw(func() {
			a.threadView.Update(s)
			a.pending = s.Pending
			a.statusBar.SetCounts(a.unread, a.pending)
		})
	})
	a.convs.OnUpdate(func(s *presenter.ListSnapshot) {
		a.app.QueueUpdateDraw(func() {
			a.list.Update(s)
			a.unread = s.Unread
			a.statusBar.SetCounts(a.unread, a.pending)
			if s.Selected == "" && s.Count > 0 {
				a.async(func() error { return a.convs.Move(0) })
			}
		})
	})

	a.list.SetOnResize(func(h int) { a.report(a.convs.Resize(h)) })
	a.threadView.SetOnResize(func(h int) { a.report(a.thread.Resize(h)) })
	a.threadView.SetOnWidthChange(func() { a.report(a.thread.ResetMeasurements()) })
	a.threadView.SetOnMeasure(func(index int, key string, height int) {
		a.report(a.thread.Remeasure(index, key, height))
	})

	a.composer.SetOnSend(func(text string) {
		a.async(func() error {
			_, err := a.thread.Submit(entity.Payload{Content: entity.Text(text)})
			return err
		})
	})
	a.composer.SetOnDone(func() { a.app.SetFocus(a.threadView) })

	a.prompt.SetOnSubmit(func(text string) {
		a.hidePrompt()
		a.runCommand(ParseCommand(text))
	})
	a.prompt.SetOnCancel(a.hidePrompt)
}

func (a *App) setupLayout() {
	threadPage := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.threadView, 0, 1, true).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageConversations, a.list, true, true)
	a.pages.AddPage(pageThread, threadPage, true, false)
	a.pages.AddPage(pagePair, a.pairView, true, false)
	a.pages.AddPage(pageHelp, a.helpView, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(a.capture)
	a.statusBar.SetHints(a.registry.Hints(pageConversations))
}

func (a *App) capture(event *tcell.EventKey) *tcell.EventKey {
	// Let text input widgets handle all keys normally.
	if a.composer.HasFocus() || a.prompt.HasFocus() {
		return event
	}

	page, _ := a.pages.GetFrontPage()
	if event.Key() == tcell.KeyEscape {
		switch page {
		case pagePair:
			a.stopPairing()
			a.showPage(pageConversations)
			return nil
		case pageHelp:
			a.showPage(a.prevPage)
			return nil
		}
	}
	if a.registry.HandleEvent(page, event) {
		return nil
	}
	return event
}

func (a *App) showPage(name string) {
	if name == "" {
		name = pageConversations
	}
	a.pages.SwitchToPage(name)
	a.statusBar.SetHints(a.registry.Hints(name))
	switch name {
	case pageThread:
		a.app.SetFocus(a.threadView)
	case pageConversations:
		a.app.SetFocus(a.list)
	}
}

func (a *App) openSelected() {
	conv, ok := a.list.SelectedConversation()
	if !ok {
		return
	}
	title := conv.Title
	if title == "" {
		title = conv.ID
	}
	a.open(conv.ID, title)
}

func (a *App) open(id, title string) {
	a.openID = id
	a.threadView.SetConversation(title)
	a.async(func() error { return a.thread.Open(id) })
	a.async(func() error { return a.convs.Select(id) })
	a.markRead(id)
	a.showPage(pageThread)
}

func (a *App) back() {
	a.openID = ""
	a.async(func() error { return a.thread.Open("") })
	a.showPage(pageConversations)
}

func (a *App) markRead(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
		defer cancel()
		if _, err := a.client.MarkRead(ctx, id); err != nil {
			a.logger.Warn("mark read failed", zap.String("conversation", id), zap.Error(err))
		}
	}()
}

func (a *App) focusComposer() {
	a.app.SetFocus(a.composer)
}

func (a *App) retry() {
	id, ok := a.threadView.LastFailed()
	if !ok {
		a.flash.Info("nothing to retry")
		a.refreshFlash()
		return
	}
	a.async(func() error {
		_, err := a.thread.Retry(id)
		return err
	})
}

func (a *App) showHelp() {
	page, _ := a.pages.GetFrontPage()
	if page == pageHelp {
		return
	}
	a.prevPage = page
	a.pages.SwitchToPage(pageHelp)
	a.statusBar.SetHints([]string{"Esc:back"})
}

func (a *App) showPrompt() {
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	page, _ := a.pages.GetFrontPage()
	a.showPage(page)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "":
	case "quit":
		a.Stop()
	case "help":
		a.showHelp()
	case "pair":
		a.pair()
	case "retry":
		a.retry()
	case "read":
		if a.openID != "" {
			a.markRead(a.openID)
		}
	case "open":
		if len(cmd.Args) != 1 {
			a.fail(errors.New("usage: open <id>"))
			return
		}
		a.open(cmd.Args[0], cmd.Args[0])
	case "new":
		if len(cmd.Args) == 0 {
			a.fail(errors.New("usage: new <id> [title]"))
			return
		}
		id, title := cmd.Args[0], ""
		if len(cmd.Args) > 1 {
			title = cmd.Args[1]
		}
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
			defer cancel()
			conv, err := a.client.CreateConversation(ctx, id, title)
			if err != nil {
				a.fail(err)
				return
			}
			if conv.Title == "" {
				conv.Title = conv.ID
			}
			a.app.QueueUpdateDraw(func() { a.open(conv.ID, conv.Title) })
		}()
	default:
		a.fail(fmt.Errorf("unknown command %q", cmd.Name))
	}
}

// pair streams the daemon's pairing flow into the pair view.
func (a *App) pair() {
	a.stopPairing()
	ctx, cancel := context.WithCancel(a.ctx)
	a.pairMu.Lock()
	a.pairCancel = cancel
	a.pairMu.Unlock()

	a.pairView.ShowMessage("Starting pairing...")
	a.showPage(pagePair)

	go func() {
		events, err := a.client.Pair(ctx)
		if err != nil {
			a.app.QueueUpdateDraw(func() { a.pairView.ShowMessage("Pairing error: " + err.Error()) })
			return
		}
		for evt := range events {
			switch evt.Type {
			case string(wa.AuthEventQRCode):
				a.app.QueueUpdateDraw(func() { a.pairView.ShowQR(evt.QRCode) })
			case string(wa.AuthEventAuthenticated):
				a.flash.Info("WhatsApp linked")
				a.app.QueueUpdateDraw(func() {
					a.refreshFlash()
					a.showPage(pageConversations)
				})
				return
			default:
				msg := evt.Message
				if msg == "" {
					msg = "Pairing failed"
				}
				a.app.QueueUpdateDraw(func() { a.pairView.ShowMessage(msg) })
			}
		}
	}()
}

func (a *App) stopPairing() {
	a.pairMu.Lock()
	defer a.pairMu.Unlock()
	if a.pairCancel != nil {
		a.pairCancel()
		a.pairCancel = nil
	}
}

// async runs a presenter call off the UI goroutine. Posting can block while
// the loop waits for the UI to draw.
func (a *App) async(fn func() error) {
	go func() { a.report(fn()) }()
}

func (a *App) report(err error) {
	if err == nil || errors.Is(err, presenter.ErrClosed) {
		return
	}
	a.fail(err)
}

func (a *App) fail(err error) {
	a.logger.Warn("tui action failed", zap.Error(err))
	a.flash.Err(err)
	a.app.QueueUpdateDraw(a.refreshFlash)
}

func (a *App) refreshFlash() {
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) listHeight() int {
	_, _, _, h := a.list.GetInnerRect()
	return h
}

func (a *App) threadHeight() int {
	_, _, _, h := a.threadView.GetInnerRect()
	return h
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		state := a.daemonState()
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetDaemon(state)
			a.refreshFlash()
		})
		select {
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) daemonState() string {
	ctx, cancel := context.WithTimeout(a.ctx, 2*time.Second)
	defer cancel()
	st, err := a.client.Status(ctx)
	switch {
	case err != nil:
		return "daemon unreachable"
	case !st.WhatsApp:
		return "local only"
	case !st.LoggedIn:
		return "not linked (p to pair)"
	case st.Connected:
		return "whatsapp " + st.PhoneNumber
	default:
		return "whatsapp connecting"
	}
}

// Run starts the presenters and blocks until the UI exits.
func (a *App) Run() error {
	go func() {
		if err := a.loop.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, presenter.ErrClosed) {
			a.logger.Error("presenter loop stopped", zap.Error(err))
		}
	}()
	if err := a.convs.Start(); err != nil {
		return err
	}
	go a.refreshLoop()

	err := a.app.Run()
	a.shutdown()
	return err
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.app.Stop()
}

func (a *App) shutdown() {
	a.stopPairing()
	a.thread.Close()
	a.convs.Close()
	a.cancel()
	a.loop.Close()
}
