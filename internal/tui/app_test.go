package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/streamline/internal/config"
	"github.com/kingrea/streamline/internal/module"
	"github.com/kingrea/streamline/internal/remote"
)

type call struct {
	op     remote.Op
	source string
	name   string
	start  int
	stop   int
}

type fakeService struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeService) record(c call) (*remote.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	return &remote.Response{Op: c.op, StatusCode: 200, Text: fmt.Sprintf("reply to %s", c.op)}, nil
}

func (f *fakeService) SendCode(_ context.Context, source string) (*remote.Response, error) {
	return f.record(call{op: remote.OpSendCode, source: source})
}

func (f *fakeService) UndefineModule(_ context.Context, name string) (*remote.Response, error) {
	return f.record(call{op: remote.OpUndefineModule, name: name})
}

func (f *fakeService) LoadBlocks(_ context.Context, start, stop int) (*remote.Response, error) {
	return f.record(call{op: remote.OpLoadBlocks, start: start, stop: stop})
}

func (f *fakeService) ExecuteModule(_ context.Context, start, stop int, name string) (*remote.Response, error) {
	return f.record(call{op: remote.OpExecuteModule, start: start, stop: stop, name: name})
}

func (f *fakeService) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newTestApp(t *testing.T, projectDir string, svc remote.Service) *App {
	t.Helper()
	if err := config.InitDir(projectDir); err != nil {
		t.Fatalf("init dir: %v", err)
	}
	app, err := NewApp(projectDir, WithClient(svc))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and, when the app answers with a remote call, runs it and
// feeds the result back.
func press(t *testing.T, app *App, s string) {
	t.Helper()
	inFlight := app.inFlight
	_, cmd := app.Update(key(s))
	if cmd == nil || app.inFlight == inFlight {
		return
	}
	msg := cmd()
	if _, ok := msg.(remoteResultMsg); !ok {
		t.Fatalf("expected remote result, got %T", msg)
	}
	app.Update(msg)
}

func TestNewAppMaterializesDefaultModules(t *testing.T) {
	app := newTestApp(t, t.TempDir(), &fakeService{})
	ids := app.Registry().IDs()
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("ids = %v, want [1 2 3]", ids)
	}
	m, _ := app.Registry().Get(2)
	if m.Open || m.Source != module.PlaceholderSource {
		t.Fatalf("module 2 = %+v, want closed placeholder", m)
	}
	if !strings.Contains(app.View(), "STREAMLINE") {
		t.Fatalf("view missing header")
	}
}

func TestSendSelectedModule(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(t, t.TempDir(), svc)
	press(t, app, "s")
	calls := svc.recorded()
	if len(calls) != 1 || calls[0].op != remote.OpSendCode || calls[0].source != module.PlaceholderSource {
		t.Fatalf("calls = %+v", calls)
	}
	if app.inFlight != 0 {
		t.Fatalf("in-flight counter not released")
	}
	if !strings.Contains(app.output.View(), "reply to send_code") {
		t.Fatalf("response not shown: %q", app.output.View())
	}
}

func TestRemoteFailureIsShown(t *testing.T) {
	svc := &fakeService{err: errors.New("connection refused")}
	app := newTestApp(t, t.TempDir(), svc)
	press(t, app, "u")
	if !strings.Contains(app.statusMsg, "undefine_module failed") {
		t.Fatalf("status = %q", app.statusMsg)
	}
	calls := svc.recorded()
	if len(calls) != 1 || calls[0].name != "module_1" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestEditorWritesBackToRegistry(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(t, t.TempDir(), svc)
	press(t, app, "enter")
	if app.state != stateEditor {
		t.Fatalf("expected editor state, got %d", app.state)
	}
	if m, _ := app.Registry().Get(1); !m.Open {
		t.Fatalf("editing should mark the module open")
	}
	app.editor.SetValue("module ticker;\nstream t;")
	press(t, app, "ctrl+s")
	m, _ := app.Registry().Get(1)
	if m.Open || m.Source != "module ticker;\nstream t;" {
		t.Fatalf("module after edit = %+v", m)
	}
	calls := svc.recorded()
	if len(calls) != 1 || calls[0].source != m.Source {
		t.Fatalf("ctrl+s should send the edited source, calls = %+v", calls)
	}

	press(t, app, "u")
	calls = svc.recorded()
	if calls[len(calls)-1].name != "ticker" {
		t.Fatalf("undefine should use the declared name, got %+v", calls[len(calls)-1])
	}
}

func TestRangePromptRejectsInvertedRange(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(t, t.TempDir(), svc)
	press(t, app, "l")
	app.rangeInputs[0].SetValue("5")
	app.rangeInputs[1].SetValue("2")
	press(t, app, "enter")
	if app.state != stateRange {
		t.Fatalf("inverted range should keep the prompt open")
	}
	if len(svc.recorded()) != 0 {
		t.Fatalf("no call expected for an inverted range")
	}

	app.rangeInputs[1].SetValue("7")
	press(t, app, "enter")
	calls := svc.recorded()
	if len(calls) != 1 || calls[0].op != remote.OpLoadBlocks || calls[0].start != 5 || calls[0].stop != 7 {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestExecutePromptDefaultsToSelectedModule(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(t, t.TempDir(), svc)
	press(t, app, "x")
	if got := app.rangeInputs[2].Value(); got != "module_1" {
		t.Fatalf("default module name = %q", got)
	}
	app.rangeInputs[0].SetValue("1")
	app.rangeInputs[1].SetValue("3")
	press(t, app, "enter")
	calls := svc.recorded()
	if len(calls) != 1 || calls[0].op != remote.OpExecuteModule || calls[0].name != "module_1" || calls[0].stop != 3 {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestConfigFormValidatesAndPublishes(t *testing.T) {
	projectDir := t.TempDir()
	app := newTestApp(t, projectDir, &fakeService{})
	generation := app.Connection().Generation()

	press(t, app, "c")
	app.configInputs[3].SetValue("80")
	press(t, app, "enter")
	if app.state != stateConfig {
		t.Fatalf("invalid management port should keep the form open")
	}
	if app.Connection().Generation() != generation {
		t.Fatalf("invalid settings must not be published")
	}

	app.configInputs[2].SetValue("repl.local")
	app.configInputs[3].SetValue("9000")
	press(t, app, "enter")
	if app.state != stateModules {
		t.Fatalf("valid settings should close the form")
	}
	snap := app.Connection().Snapshot()
	if snap.Management.Host != "repl.local" || snap.Management.Port != 9000 {
		t.Fatalf("settings not applied: %+v", snap.Management)
	}
	reloaded, err := config.Load(projectDir)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.Settings().Management.Port != 9000 {
		t.Fatalf("settings not persisted")
	}
}

func TestQuitSavesSession(t *testing.T) {
	projectDir := t.TempDir()
	app := newTestApp(t, projectDir, &fakeService{})
	press(t, app, "n")
	if err := app.Registry().EditSource(4, "module four;"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	_, cmd := app.Update(key("q"))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}

	next := newTestApp(t, projectDir, &fakeService{})
	m, ok := next.Registry().Get(4)
	if !ok || m.Source != "module four;" {
		t.Fatalf("module 4 not restored: %+v", m)
	}
}

func TestStartupSettingsFollowConfigOverSession(t *testing.T) {
	projectDir := t.TempDir()
	first := newTestApp(t, projectDir, &fakeService{})
	if err := first.SaveSession(); err != nil {
		t.Fatalf("save session: %v", err)
	}

	t.Setenv("STREAMLINE_MANAGEMENT_PORT", "9000")
	cfg, err := config.Load(projectDir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	next := newTestApp(t, projectDir, &fakeService{})
	got := next.Connection().Snapshot()
	if got != cfg.Settings() {
		t.Fatalf("shell settings %+v, config settings %+v", got, cfg.Settings())
	}
	if got.Management.Port != 9000 {
		t.Fatalf("management port = %d, want env value 9000", got.Management.Port)
	}
	lines, _ := next.logbook.Tail(20)
	if !strings.Contains(strings.Join(lines, "\n"), "replaced by config") {
		t.Fatalf("expected a journey log note about the saved endpoints, got %q", lines)
	}
}
