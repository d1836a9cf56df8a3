package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"cosmosai/internal/bootstrap"
	"cosmosai/internal/config"
	"cosmosai/internal/domain"
	"cosmosai/internal/usecase"
)

const helpText = `commands:
  start <mode>   open a voice session (modes: %s)
  stop           end the current session
  toggle         stop, or restart the last mode
  reset          forget the selected mode
  status         show session status
  transcript     print the transcript so far
  quit           dispose the voice client and exit`

// App is the terminal presentation shell. It renders controller events and
// forwards typed commands to the controller.
type App struct {
	controller *usecase.SessionController
	cfg        config.Config

	mu  sync.Mutex
	out io.Writer
	st  styles

	pending sync.WaitGroup
}

type styles struct {
	caller lipgloss.Style
	agent  lipgloss.Style
	system lipgloss.Style
	live   lipgloss.Style
	state  lipgloss.Style
	err    lipgloss.Style
}

func NewApp(out io.Writer) *App {
	renderer := lipgloss.NewRenderer(out)
	return &App{
		out: out,
		st: styles{
			caller: renderer.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
			agent:  renderer.NewStyle().Foreground(lipgloss.Color("141")).Bold(true),
			system: renderer.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
			live:   renderer.NewStyle().Foreground(lipgloss.Color("241")),
			state:  renderer.NewStyle().Foreground(lipgloss.Color("214")),
			err:    renderer.NewStyle().Foreground(lipgloss.Color("196")),
		},
	}
}

func (a *App) attach(services bootstrap.Services) {
	a.controller = services.Controller
	a.cfg = services.Config
}

// Run initializes the voice client and reads commands from in until quit,
// EOF or cancellation. The controller is always disposed on return.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	if a.controller == nil {
		return errors.New("application is not initialized")
	}
	defer a.shutdown()

	a.printf("%s\n", a.st.system.Render("Starting voice client..."))
	if err := a.controller.Init(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	a.printf(helpText+"\n", a.modeList())

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if a.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle runs one command and reports whether the shell should exit.
func (a *App) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "start":
		if len(fields) < 2 {
			a.printf("%s\n", a.st.err.Render("usage: start <mode>"))
			return false
		}
		mode := domain.Mode(strings.ToLower(fields[1]))
		if !slices.Contains(a.cfg.ModeNames(), mode) {
			a.printf("%s\n", a.st.err.Render(fmt.Sprintf("unknown mode %q (modes: %s)", mode, a.modeList())))
			return false
		}
		a.async(func() error { return a.controller.StartSession(ctx, mode) })
	case "stop":
		if err := a.controller.StopSession(); err != nil {
			a.reportGuard(err)
		}
	case "toggle":
		a.async(func() error { return a.controller.ToggleSession(ctx) })
	case "reset":
		a.controller.ResetMode()
		a.printf("%s\n", a.st.system.Render("Mode cleared."))
	case "status":
		a.printStatus(a.controller.Status())
	case "transcript":
		a.printTranscript(a.controller.Transcript())
	case "help", "?":
		a.printf(helpText+"\n", a.modeList())
	case "quit", "exit":
		return true
	default:
		a.printf("%s\n", a.st.err.Render(fmt.Sprintf("unknown command %q, type help", fields[0])))
	}
	return false
}

// async runs a controller call that may block on the network so that stop
// stays available while a session is connecting.
func (a *App) async(call func() error) {
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		if err := call(); err != nil {
			a.reportGuard(err)
		}
	}()
}

// reportGuard prints rejections the controller does not publish as events.
func (a *App) reportGuard(err error) {
	switch {
	case errors.Is(err, usecase.ErrNotReady),
		errors.Is(err, usecase.ErrSessionInProgress),
		errors.Is(err, usecase.ErrModeRequired):
		a.printf("%s\n", a.st.err.Render(err.Error()))
	}
}

func (a *App) shutdown() {
	if a.controller == nil {
		return
	}
	a.controller.Dispose()
	a.pending.Wait()
}

func (a *App) modeList() string {
	names := make([]string, 0, len(a.cfg.Modes))
	for _, mode := range a.cfg.ModeNames() {
		names = append(names, string(mode))
	}
	return strings.Join(names, ", ")
}

func (a *App) printStatus(status domain.Status) {
	line := fmt.Sprintf("state=%s ready=%t", status.State, status.Ready)
	if status.Mode != "" {
		line += " mode=" + string(status.Mode)
	}
	if status.Active {
		line += " activity=" + string(status.Activity)
	}
	if status.ModeSelectable {
		line += " (select a mode)"
	}
	a.printf("%s\n", a.st.state.Render(line))
}

func (a *App) printTranscript(snapshot domain.TranscriptSnapshot) {
	if len(snapshot.Messages) == 0 && snapshot.Live == nil {
		a.printf("%s\n", a.st.system.Render("No messages yet."))
		return
	}
	for _, message := range snapshot.Messages {
		a.printf("%s\n", a.renderMessage(message))
	}
	if snapshot.Live != nil {
		a.printf("%s\n", a.st.live.Render(roleLabel(snapshot.Live.Role)+": "+snapshot.Live.Text+" ..."))
	}
}

func (a *App) renderMessage(message domain.Message) string {
	switch message.Role {
	case domain.RoleCaller:
		return a.st.caller.Render(roleLabel(message.Role)+":") + " " + message.Text
	case domain.RoleAgent:
		return a.st.agent.Render(roleLabel(message.Role)+":") + " " + message.Text
	default:
		return a.st.system.Render(message.Text)
	}
}

func (a *App) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

// SessionStateChanged renders session lifecycle updates.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	message := sessionReasonMessage(reason)
	if message == "" {
		return
	}
	a.printf("%s\n", a.st.state.Render(fmt.Sprintf("[%s] %s", state, message)))
}

func (a *App) ActivityChanged(activity domain.Activity) {
	switch activity {
	case domain.ActivitySpeaking:
		a.printf("%s\n", a.st.live.Render("Agent speaking..."))
	case domain.ActivityListening:
		a.printf("%s\n", a.st.live.Render("Listening..."))
	}
}

func (a *App) MessageAppended(message domain.Message) {
	a.printf("%s\n", a.renderMessage(message))
}

// LiveTranscript previews in-progress speech. A nil fragment means the
// preview was cleared and nothing is printed.
func (a *App) LiveTranscript(fragment *domain.LiveFragment) {
	if fragment == nil {
		return
	}
	a.printf("%s\n", a.st.live.Render(roleLabel(fragment.Role)+": "+fragment.Text+" ..."))
}

func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.printf("%s\n", a.st.err.Render(errorMessage(code, detail)))
}

func roleLabel(role domain.Role) string {
	switch role {
	case domain.RoleCaller:
		return "You"
	case domain.RoleAgent:
		return "Agent"
	default:
		return "System"
	}
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Voice client ready"
	case domain.SessionReasonConnecting:
		return "Connecting..."
	case domain.SessionReasonSessionStarted:
		return "Session active"
	case domain.SessionReasonSessionEnded:
		return "Session ended by agent"
	case domain.SessionReasonSessionStopped:
		return "Session stopped"
	case domain.SessionReasonStartFailed:
		return "Session could not start"
	case domain.SessionReasonVendorError:
		return "Session dropped"
	case domain.SessionReasonConnectTimeout:
		return "Agent did not answer in time"
	case domain.SessionReasonDisposed:
		return "Voice client closed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCredential:
		return "Could not obtain a session credential"
	case domain.ErrorCodeVendorStart:
		return "Voice session failed to start"
	case domain.ErrorCodeVendorRuntime:
		return "Voice session error"
	case domain.ErrorCodeVendorStop:
		return "Voice session did not stop cleanly"
	case domain.ErrorCodeConnectTimeout:
		return "Connection timed out"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
