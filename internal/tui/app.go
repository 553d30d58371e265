package tui

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatlog/internal/rpc"
	"github.com/matheus3301/chatlog/internal/status"
	"github.com/matheus3301/chatlog/internal/tui/keys"
	"github.com/matheus3301/chatlog/internal/tui/model"
	"github.com/matheus3301/chatlog/internal/tui/views"
	"github.com/rivo/tview"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	grpc      *rpc.Client
	registry  *keys.Registry
	statusBar *views.StatusBar
	feed      *views.FeedTable
	msgView   *views.MessageView
	composer  *views.Composer
	searchV   *views.SearchView
	authView  *views.AuthView
	limit     int
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application. limit bounds the recent feed; zero
// uses the daemon default.
func NewApp(c *rpc.Client, sessionName string, limit int) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c),
		grpc:      c,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		feed:      views.NewFeedTable(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		searchV:   views.NewSearchView(),
		authView:  views.NewAuthView(),
		limit:     limit,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal("search", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:search", Visible: true,
		Handler: func() { a.showSearch() },
	})
	a.registry.AddView("conversation", "read", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:mark read", Visible: true,
		Handler: func() { a.markRead() },
	})
	a.registry.AddView("conversation", "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.statusBar.SetHints(a.registry.Hints("recent"))
}

func (a *App) setupCallbacks() {
	a.feed.SetSelectedFunc(func(row, col int) {
		if sel := a.feed.Selected(); sel != nil {
			a.openConversation(*sel)
		}
	})

	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		if sel := a.searchV.SelectedResult(); sel != nil {
			a.openConversation(*sel)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.Send(a.ctx, text); err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
				return
			}
			a.vm.Flash.Set("Message queued", 3*time.Second)
		}()
	})
	a.composer.SetOnDone(func() { a.app.SetFocus(a.msgView) })

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.vm.Search(a.ctx, query)
			if err != nil {
				a.vm.Flash.Set("Search failed: "+err.Error(), 5*time.Second)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage("recent", a.feed, true, true)
	conversation := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, true).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversation", conversation, true, false)
	a.pages.AddPage("search", a.searchV, true, false)
	a.pages.AddPage("auth", a.authView, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		// The composer handles its own Esc.
		if a.app.GetFocus() == a.composer.InputField {
			return event
		}

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "conversation", "search", "auth":
				a.showPage("recent", a.feed)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) showPage(name string, focus tview.Primitive) {
	a.pages.SwitchToPage(name)
	a.app.SetFocus(focus)
	a.statusBar.SetHints(a.registry.Hints(name))
}

func (a *App) openConversation(act rpc.Activity) {
	go func() {
		if err := a.vm.LoadConversation(a.ctx, act); err != nil {
			a.vm.Flash.Set("Load failed: "+err.Error(), 5*time.Second)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetChatName(model.Title(act))
			a.msgView.Update(a.vm.GetMessages())
			a.showPage("conversation", a.msgView)
		})
	}()
}

func (a *App) markRead() {
	go func() {
		if err := a.vm.MarkActiveRead(a.ctx); err != nil {
			a.vm.Flash.Set("Mark read failed: "+err.Error(), 5*time.Second)
			return
		}
		a.vm.Flash.Set("Marked as read", 3*time.Second)
	}()
}

func (a *App) showSearch() {
	a.showPage("search", a.searchV.Input())
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		_ = a.vm.LoadSessionStatus(a.ctx)

		a.app.QueueUpdateDraw(func() {
			ss := a.vm.GetSessionStatus()
			if ss != nil {
				a.statusBar.SetStatus(ss.Status)
				if ss.Status == string(status.AuthRequired) {
					a.pages.SwitchToPage("auth")
					a.authView.ShowMessage("Starting pairing...")
					go a.runAuthFlow()
				}
			}
		})

		go a.runFeed()
		a.startRefreshLoop()
	}()

	return a.app.Run()
}

// runFeed keeps the feed table in sync with the daemon's live query,
// reopening the watch after transient failures.
func (a *App) runFeed() {
	for a.ctx.Err() == nil {
		a.app.QueueUpdateDraw(func() { a.statusBar.SetLive(true) })
		err := a.vm.WatchFeed(a.ctx, a.limit, func() {
			entries := a.vm.GetFeed()
			a.app.QueueUpdateDraw(func() { a.feed.Update(entries) })
		})
		a.app.QueueUpdateDraw(func() { a.statusBar.SetLive(false) })
		if err != nil {
			a.vm.Flash.Set("Feed disconnected: "+err.Error(), 5*time.Second)
		}
		select {
		case <-time.After(2 * time.Second):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				_ = a.vm.LoadSessionStatus(a.ctx)
				a.app.QueueUpdateDraw(func() {
					currentPage, _ := a.pages.GetFrontPage()
					ss := a.vm.GetSessionStatus()
					if ss != nil {
						a.statusBar.SetStatus(ss.Status)
						if currentPage == "auth" && ss.Status != string(status.AuthRequired) {
							a.showPage("recent", a.feed)
						}
					}
					a.statusBar.SetFlash(a.vm.Flash.Get())
				})
			case <-a.ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// runAuthFlow calls StartAuth on the daemon and streams QR codes to the auth view.
func (a *App) runAuthFlow() {
	stream, err := a.grpc.StartAuth(a.ctx)
	if err != nil {
		a.app.QueueUpdateDraw(func() {
			a.authView.ShowMessage("Auth error: " + err.Error())
		})
		return
	}

	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.app.QueueUpdateDraw(func() {
				a.authView.ShowMessage("Auth stream error: " + err.Error())
			})
			return
		}

		switch evt.Type {
		case "qr_code":
			a.app.QueueUpdateDraw(func() {
				a.authView.ShowQR(evt.QRCode)
			})
		case "authenticated":
			a.app.QueueUpdateDraw(func() {
				a.authView.ShowMessage("Paired. Waiting for history...")
				a.showPage("recent", a.feed)
			})
			return
		case "auth_failed", "timeout":
			msg := evt.Message
			if msg == "" {
				msg = "Pairing failed"
			}
			a.app.QueueUpdateDraw(func() {
				a.authView.ShowMessage(msg)
			})
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
