// internal/tui/app.go
//
// This is the interactive shell for streamline. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the module registry, connection settings and the last response
// 2. Update: key presses and remote results become new state
// 3. View: a string rendered with lipgloss
//
// Remote calls never run inside Update. They are wrapped in tea.Cmds so the
// UI keeps drawing while a call is in flight.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/streamline/internal/config"
	"github.com/kingrea/streamline/internal/connection"
	"github.com/kingrea/streamline/internal/logbook"
	"github.com/kingrea/streamline/internal/module"
	"github.com/kingrea/streamline/internal/remote"
	"github.com/kingrea/streamline/internal/session"
)

// appState represents which "screen" we're on
type appState int

const (
	stateModules appState = iota // Module list with the response pane
	stateEditor                  // Editing one module's source
	stateConfig                  // Connection settings form
	stateRange                   // Block range prompt for load/execute
)

// defaultModuleIDs are materialized on first start.
var defaultModuleIDs = []int{1, 2, 3}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithClient overrides the remote client used for protocol calls.
func WithClient(client remote.Service) AppOption {
	return func(a *App) {
		if client != nil {
			a.client = client
		}
	}
}

// WithConnection shares an existing connection config, e.g. one kept current
// by a config.Watcher.
func WithConnection(conn *connection.Config) AppOption {
	return func(a *App) {
		if conn != nil {
			a.conn = conn
		}
	}
}

// WithLogger routes remote client logs to l when the default client is used.
func WithLogger(l remote.Logger) AppOption {
	return func(a *App) {
		a.logger = l
	}
}

// WithContext sets the parent context for remote calls.
func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// remoteResultMsg carries the outcome of one protocol call back into Update.
type remoteResultMsg struct {
	op       remote.Op
	target   string
	response *remote.Response
	err      error
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	ctx      context.Context
	state    appState
	config   *config.Config
	conn     *connection.Config
	client   remote.Service
	logger   remote.Logger
	registry *module.Registry
	logbook  *logbook.Logbook

	sessionPath string

	// UI components
	moduleList list.Model
	editor     textarea.Model
	editingID  int
	output     viewport.Model

	configInputs []textinput.Model
	configFocus  int

	rangeInputs []textinput.Model
	rangeFocus  int
	rangeOp     remote.Op

	statusMsg string
	inFlight  int

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// NewApp creates a new App for projectDir, restoring the previous session.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}
	lb, err := logbook.New(filepath.Join(cfg.LogsDir(), "journey.log"))
	if err != nil {
		lb = nil
	}

	moduleList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	moduleList.Title = "⬡ MODULES"
	moduleList.SetShowStatusBar(false)
	moduleList.SetFilteringEnabled(false)

	editor := textarea.New()
	editor.ShowLineNumbers = true
	editor.Placeholder = "module name;"

	app := &App{
		ctx:         context.Background(),
		state:       stateModules,
		config:      cfg,
		registry:    module.NewRegistry(),
		logbook:     lb,
		sessionPath: session.Path(cfg.StateDir()),
		moduleList:  moduleList,
		editor:      editor,
		output:      viewport.New(60, 10),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}

	restored, err := session.Load(app.sessionPath)
	if err != nil {
		app.logWarn("Session restore skipped: %v", err)
		restored = session.State{}
	}
	restored.RestoreInto(app.registry)
	// Endpoints always come from config + env, the same view `streamline
	// config` prints and the watcher republishes. The session only restores
	// modules; a differing saved endpoint is noted in the journey log.
	settings := cfg.Settings()
	if app.conn == nil {
		app.conn = connection.New(settings)
	}
	if saved, ok := restored.Settings(); ok && saved != settings {
		app.logInfo("Session endpoints (direct %s, management %s) replaced by config (direct %s, management %s)",
			saved.Direct.Address(), saved.Management.Address(), settings.Direct.Address(), settings.Management.Address())
	}
	if app.client == nil {
		app.client = remote.New(app.conn, remote.WithLogger(app.logger))
	}
	for _, id := range defaultModuleIDs {
		app.registry.GetOrCreate(id)
	}
	app.refreshModuleList()
	app.output.SetContent("No response yet. Press s to send the selected module.")
	app.logInfo("Session opened · %d modules · management %s", app.registry.Len(), app.conn.Snapshot().Management.Address())
	return app, nil
}

// Registry exposes the module registry to the embedding program.
func (a *App) Registry() *module.Registry { return a.registry }

// Connection exposes the shared connection config.
func (a *App) Connection() *connection.Config { return a.conn }

// SaveSession writes modules and settings to .streamline/state/session.yaml.
func (a *App) SaveSession() error {
	if a.sessionPath == "" {
		return nil
	}
	state := session.Capture(a.registry, a.conn.Snapshot(), time.Now())
	if err := session.Save(a.sessionPath, state); err != nil {
		a.logError("Session save failed: %v", err)
		return err
	}
	a.logInfo("Session saved · %d modules", len(state.Modules))
	return nil
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Note(logbook.LevelInfo, format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Note(logbook.LevelWarn, format, args...)
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Note(logbook.LevelError, format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case remoteResultMsg:
		a.handleRemoteResult(msg)
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a.quit()
		}
		switch a.state {
		case stateModules:
			return a.updateModules(msg)
		case stateEditor:
			return a.updateEditor(msg)
		case stateConfig:
			return a.updateConfig(msg)
		case stateRange:
			return a.updateRange(msg)
		}
	}

	var cmd tea.Cmd
	switch a.state {
	case stateModules:
		a.moduleList, cmd = a.moduleList.Update(msg)
	case stateEditor:
		a.editor, cmd = a.editor.Update(msg)
	}
	return a, cmd
}

func (a *App) quit() (tea.Model, tea.Cmd) {
	if a.state == stateEditor {
		a.closeEditor()
	}
	_ = a.SaveSession()
	return a, tea.Quit
}

func (a *App) updateModules(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a.quit()
	case "enter", "e":
		if m := a.selectedModule(); m != nil {
			return a, a.openEditor(m.ID)
		}
		return a, nil
	case "n":
		id := a.nextModuleID()
		a.registry.GetOrCreate(id)
		a.refreshModuleList()
		a.selectModule(id)
		a.statusMsg = fmt.Sprintf("Created module %d", id)
		return a, nil
	case "d":
		if m := a.selectedModule(); m != nil {
			a.registry.Remove(m.ID)
			a.refreshModuleList()
			a.statusMsg = fmt.Sprintf("Removed module %d locally (remote definition untouched)", m.ID)
		}
		return a, nil
	case "s":
		if m := a.selectedModule(); m != nil {
			return a, a.sendCode(m)
		}
		return a, nil
	case "u":
		if m := a.selectedModule(); m != nil {
			return a, a.undefine(m.Name())
		}
		return a, nil
	case "l":
		a.openRangePrompt(remote.OpLoadBlocks, "")
		return a, nil
	case "x":
		name := ""
		if m := a.selectedModule(); m != nil {
			name = m.Name()
		}
		a.openRangePrompt(remote.OpExecuteModule, name)
		return a, nil
	case "c":
		a.openConfigForm()
		return a, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		a.output, cmd = a.output.Update(msg)
		return a, cmd
	}
	var cmd tea.Cmd
	a.moduleList, cmd = a.moduleList.Update(msg)
	return a, cmd
}

func (a *App) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.closeEditor()
		return a, nil
	case "ctrl+s":
		id := a.editingID
		a.closeEditor()
		if m, ok := a.registry.Get(id); ok {
			return a, a.sendCode(m)
		}
		return a, nil
	}
	var cmd tea.Cmd
	a.editor, cmd = a.editor.Update(msg)
	return a, cmd
}

func (a *App) openEditor(id int) tea.Cmd {
	m := a.registry.GetOrCreate(id)
	_ = a.registry.SetOpen(id, true)
	a.editingID = id
	a.editor.SetValue(m.Source)
	a.state = stateEditor
	a.statusMsg = fmt.Sprintf("Editing module %d · Esc save & close · Ctrl+S save & send", id)
	return a.editor.Focus()
}

func (a *App) closeEditor() {
	id := a.editingID
	if err := a.registry.EditSource(id, a.editor.Value()); err != nil {
		a.statusMsg = err.Error()
	}
	_ = a.registry.SetOpen(id, false)
	a.editor.Blur()
	a.state = stateModules
	a.refreshModuleList()
	a.selectModule(id)
}

// sendCode, undefine, loadBlocks and executeModule each wrap one blocking call.

func (a *App) sendCode(m *module.Module) tea.Cmd {
	source := m.Source
	target := fmt.Sprintf("module %d", m.ID)
	return a.dispatch(remote.OpSendCode, target, func(ctx context.Context) (*remote.Response, error) {
		return a.client.SendCode(ctx, source)
	})
}

func (a *App) undefine(name string) tea.Cmd {
	return a.dispatch(remote.OpUndefineModule, name, func(ctx context.Context) (*remote.Response, error) {
		return a.client.UndefineModule(ctx, name)
	})
}

func (a *App) loadBlocks(start, stop int) tea.Cmd {
	target := fmt.Sprintf("blocks %d..%d", start, stop)
	return a.dispatch(remote.OpLoadBlocks, target, func(ctx context.Context) (*remote.Response, error) {
		return a.client.LoadBlocks(ctx, start, stop)
	})
}

func (a *App) executeModule(start, stop int, name string) tea.Cmd {
	target := fmt.Sprintf("%s over blocks %d..%d", name, start, stop)
	return a.dispatch(remote.OpExecuteModule, target, func(ctx context.Context) (*remote.Response, error) {
		return a.client.ExecuteModule(ctx, start, stop, name)
	})
}

func (a *App) dispatch(op remote.Op, target string, call func(context.Context) (*remote.Response, error)) tea.Cmd {
	a.inFlight++
	a.statusMsg = fmt.Sprintf("%s · %s ...", op, target)
	ctx := a.ctx
	return func() tea.Msg {
		resp, err := call(ctx)
		return remoteResultMsg{op: op, target: target, response: resp, err: err}
	}
}

func (a *App) handleRemoteResult(msg remoteResultMsg) {
	if a.inFlight > 0 {
		a.inFlight--
	}
	status := 0
	if msg.response != nil {
		status = msg.response.StatusCode
	}
	if a.logbook != nil {
		a.logbook.Call(fmt.Sprintf("%s (%s)", msg.op, msg.target), status, msg.err)
	}
	if msg.err != nil {
		a.statusMsg = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		a.output.SetContent(errorStyle.Render(msg.err.Error()))
		return
	}
	a.statusMsg = fmt.Sprintf("%s · %s → %d in %s", msg.op, msg.target, status, msg.response.Duration.Round(time.Millisecond))
	a.output.SetContent(msg.response.Text)
	a.output.GotoTop()
}

func (a *App) openRangePrompt(op remote.Op, name string) {
	labels := []string{"start block", "stop block"}
	if op == remote.OpExecuteModule {
		labels = append(labels, "module name")
	}
	inputs := make([]textinput.Model, len(labels))
	for i, label := range labels {
		in := textinput.New()
		in.Prompt = fmt.Sprintf("%-12s ", label+":")
		in.CharLimit = 64
		inputs[i] = in
	}
	if op == remote.OpExecuteModule {
		inputs[2].SetValue(name)
	}
	inputs[0].Focus()
	a.rangeInputs = inputs
	a.rangeFocus = 0
	a.rangeOp = op
	a.state = stateRange
	a.statusMsg = fmt.Sprintf("%s · Tab next field · Enter submit · Esc cancel", op)
}

func (a *App) updateRange(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.state = stateModules
		a.statusMsg = ""
		return a, nil
	case "tab", "down":
		a.rangeFocus = focusNext(a.rangeInputs, a.rangeFocus, 1)
		return a, nil
	case "shift+tab", "up":
		a.rangeFocus = focusNext(a.rangeInputs, a.rangeFocus, -1)
		return a, nil
	case "enter":
		return a.submitRange()
	}
	var cmd tea.Cmd
	a.rangeInputs[a.rangeFocus], cmd = a.rangeInputs[a.rangeFocus].Update(msg)
	return a, cmd
}

func (a *App) submitRange() (tea.Model, tea.Cmd) {
	start, err := strconv.Atoi(strings.TrimSpace(a.rangeInputs[0].Value()))
	if err != nil {
		a.statusMsg = "start block must be an integer"
		return a, nil
	}
	stop, err := strconv.Atoi(strings.TrimSpace(a.rangeInputs[1].Value()))
	if err != nil {
		a.statusMsg = "stop block must be an integer"
		return a, nil
	}
	if start > stop {
		a.statusMsg = fmt.Sprintf("start block %d is after stop block %d", start, stop)
		return a, nil
	}
	a.state = stateModules
	if a.rangeOp == remote.OpLoadBlocks {
		return a, a.loadBlocks(start, stop)
	}
	name := strings.TrimSpace(a.rangeInputs[2].Value())
	if name == "" {
		a.state = stateRange
		a.statusMsg = "module name is required"
		return a, nil
	}
	return a, a.executeModule(start, stop, name)
}

func (a *App) openConfigForm() {
	s := a.conn.Snapshot()
	values := []struct{ label, value string }{
		{"direct host", s.Direct.Host},
		{"direct port", strconv.Itoa(s.Direct.Port)},
		{"mgmt host", s.Management.Host},
		{"mgmt port", strconv.Itoa(s.Management.Port)},
		{"timeout", s.Timeout.String()},
	}
	inputs := make([]textinput.Model, len(values))
	for i, v := range values {
		in := textinput.New()
		in.Prompt = fmt.Sprintf("%-12s ", v.label+":")
		in.CharLimit = 255
		in.SetValue(v.value)
		inputs[i] = in
	}
	inputs[0].Focus()
	a.configInputs = inputs
	a.configFocus = 0
	a.state = stateConfig
	a.statusMsg = "Connection settings · Tab next field · Enter apply · Esc cancel"
}

func (a *App) updateConfig(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.state = stateModules
		a.statusMsg = "Settings unchanged"
		return a, nil
	case "tab", "down":
		a.configFocus = focusNext(a.configInputs, a.configFocus, 1)
		return a, nil
	case "shift+tab", "up":
		a.configFocus = focusNext(a.configInputs, a.configFocus, -1)
		return a, nil
	case "enter":
		return a.applyConfigForm()
	}
	var cmd tea.Cmd
	a.configInputs[a.configFocus], cmd = a.configInputs[a.configFocus].Update(msg)
	return a, cmd
}

// applyConfigForm validates the form and publishes it as one settings generation.
func (a *App) applyConfigForm() (tea.Model, tea.Cmd) {
	settings, err := a.settingsFromForm()
	if err == nil {
		err = config.ValidateSettings(settings)
	}
	if err != nil {
		a.statusMsg = err.Error()
		return a, nil
	}
	if a.config != nil {
		if err := a.config.Apply(settings); err != nil {
			a.logWarn("Settings not persisted: %v", err)
		}
	}
	generation := a.conn.Apply(settings)
	a.logInfo("Settings applied · generation %d · direct %s · management %s",
		generation, settings.Direct.Address(), settings.Management.Address())
	a.state = stateModules
	a.statusMsg = "Settings applied"
	return a, nil
}

func (a *App) settingsFromForm() (connection.Settings, error) {
	value := func(i int) string { return strings.TrimSpace(a.configInputs[i].Value()) }
	directPort, err := strconv.Atoi(value(1))
	if err != nil {
		return connection.Settings{}, fmt.Errorf("direct port must be an integer")
	}
	mgmtPort, err := strconv.Atoi(value(3))
	if err != nil {
		return connection.Settings{}, fmt.Errorf("management port must be an integer")
	}
	timeout, err := time.ParseDuration(value(4))
	if err != nil {
		return connection.Settings{}, fmt.Errorf("timeout must be a duration like 10s")
	}
	settings := a.conn.Snapshot()
	settings.Direct = connection.Endpoint{Host: value(0), Port: directPort}
	settings.Management = connection.Endpoint{Host: value(2), Port: mgmtPort}
	settings.Timeout = timeout
	return settings, nil
}

func focusNext(inputs []textinput.Model, current, delta int) int {
	if len(inputs) == 0 {
		return 0
	}
	inputs[current].Blur()
	next := (current + delta + len(inputs)) % len(inputs)
	inputs[next].Focus()
	return next
}

func (a *App) selectedModule() *module.Module {
	item, ok := a.moduleList.SelectedItem().(moduleItem)
	if !ok {
		return nil
	}
	m, ok := a.registry.Get(item.id)
	if !ok {
		return nil
	}
	return m
}

func (a *App) selectModule(id int) {
	for i, item := range a.moduleList.Items() {
		if mi, ok := item.(moduleItem); ok && mi.id == id {
			a.moduleList.Select(i)
			return
		}
	}
}

func (a *App) nextModuleID() int {
	next := 1
	for _, id := range a.registry.IDs() {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

func (a *App) refreshModuleList() {
	modules := a.registry.Snapshot()
	items := make([]list.Item, len(modules))
	for i, m := range modules {
		items[i] = newModuleItem(m)
	}
	a.moduleList.SetItems(items)
}

func (a *App) resize() {
	leftWidth := max(24, a.width/3)
	bodyHeight := max(6, a.height-8)
	a.moduleList.SetSize(leftWidth, bodyHeight)
	a.output.Width = max(20, a.width-leftWidth-8)
	a.output.Height = max(4, bodyHeight-10)
	a.editor.SetWidth(max(20, a.width-leftWidth-8))
	a.editor.SetHeight(max(4, bodyHeight-2))
}
