package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/internal/vfs"
)

// Options configures a Manager.
type Options struct {
	// Params fills any zero build parameter in an initialize request.
	Params BuildParams

	// DefaultCapacity is the minimum capacity of a graph rebuilt from source.
	DefaultCapacity int

	// DefaultFilename is used when neither the request nor the context
	// names a persisted file.
	DefaultFilename string

	// ProgressPercent is the share of a batch inserted between progress events.
	ProgressPercent int

	OnProgress func(Progress)
	OnStatus   func(Status)
}

// Manager owns the named index contexts and their persistence.
type Manager struct {
	fs   *vfs.FS
	opts Options

	engineMu sync.Mutex

	mu           sync.Mutex
	engineLoaded bool
	contexts     map[string]*indexContext
	generations  map[string]uint64
	active       string
}

// NewManager creates a manager over fs. The global context starts active.
func NewManager(fs *vfs.FS, opts Options) *Manager {
	opts.Params = opts.Params.withDefaults(DefaultBuildParams())
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = 10000
	}
	if opts.DefaultFilename == "" {
		opts.DefaultFilename = DefaultFilename
	}
	if opts.ProgressPercent <= 0 || opts.ProgressPercent > 100 {
		opts.ProgressPercent = 5
	}
	return &Manager{
		fs:          fs,
		opts:        opts,
		contexts:    make(map[string]*indexContext),
		generations: make(map[string]uint64),
		active:      ContextGlobal,
	}
}

// InitOptions describes an initialize request.
type InitOptions struct {
	Name         string
	Capacity     int
	Params       BuildParams
	Filename     string
	ForceRebuild bool
	Persist      bool
	Token        string
}

// InitResult reports the outcome of Initialize.
type InitResult struct {
	LoadedFromSave bool   `json:"loadedFromSave"`
	ItemCount      int    `json:"itemCount"`
	OperationID    string `json:"operationId"`
}

// EngineResult reports the outcome of LoadEngine.
type EngineResult struct {
	AlreadyLoaded bool `json:"alreadyLoaded"`
	Files         int  `json:"files"`
}

// LoadEngine makes the index engine available and loads the virtual
// filesystem from durable storage. Repeated calls are no-ops.
func (m *Manager) LoadEngine(ctx context.Context) (EngineResult, error) {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()

	m.mu.Lock()
	loaded := m.engineLoaded
	m.mu.Unlock()
	if loaded {
		return EngineResult{AlreadyLoaded: true, Files: len(m.fs.List())}, nil
	}

	if err := m.fs.SyncFromDurable(ctx); err != nil {
		return EngineResult{}, err
	}

	m.mu.Lock()
	m.engineLoaded = true
	m.mu.Unlock()

	files := len(m.fs.List())
	slog.Info("ann_engine_loaded", slog.Int("persisted_files", files))
	return EngineResult{Files: files}, nil
}

// EngineLoaded reports whether LoadEngine has completed.
func (m *Manager) EngineLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engineLoaded
}

func (m *Manager) requireEngine() error {
	if !m.EngineLoaded() {
		return werrors.NotInitialized("ANN engine")
	}
	return nil
}

// SyncFromDurable reloads the virtual filesystem from durable storage.
func (m *Manager) SyncFromDurable(ctx context.Context) error {
	if err := m.requireEngine(); err != nil {
		return err
	}
	return m.fs.SyncFromDurable(ctx)
}

// Initialize replaces the named context. The global context is loaded from
// its persisted blob unless ForceRebuild is set or no readable blob exists.
func (m *Manager) Initialize(ctx context.Context, opts InitOptions) (InitResult, error) {
	if err := m.requireEngine(); err != nil {
		return InitResult{}, err
	}
	if !validContext(opts.Name) {
		return InitResult{}, werrors.InvalidArgument("unknown index context %q", opts.Name)
	}
	if opts.Capacity <= 0 {
		return InitResult{}, werrors.InvalidArgument("maxElements must be positive, got %d", opts.Capacity)
	}
	if opts.Name == ContextTemporary {
		if opts.Token == "" {
			return InitResult{}, werrors.InvalidArgument("operationId is required for the %s context", ContextTemporary)
		}
		if opts.Persist {
			return InitResult{}, werrors.Unsupported("the %s context cannot be persisted", ContextTemporary)
		}
	}
	token := opts.Token
	if token == "" {
		token = uuid.NewString()
	}
	params := opts.Params.withDefaults(m.opts.Params)
	filename := m.resolveFilename(opts.Filename, "")

	ic := m.beginGeneration(opts.Name, token)

	var (
		g      *Graph
		loaded bool
	)
	if opts.Name == ContextGlobal && !opts.ForceRebuild {
		var err error
		g, err = m.loadPersisted(ctx, filename, opts.Capacity)
		if err != nil {
			m.fail(ic, err)
			return InitResult{}, err
		}
		loaded = g != nil
	}
	if g == nil {
		g = NewGraph(opts.Capacity, params)
	}

	persistenceKey := ""
	if opts.Name == ContextGlobal && (opts.Persist || loaded) {
		persistenceKey = filename
	}

	if err := m.commit(ic, func() { ic.install(g, loaded, persistenceKey) }); err != nil {
		return InitResult{}, err
	}

	slog.Info("index_initialized",
		slog.String("context", opts.Name),
		slog.Bool("loaded_from_save", loaded),
		slog.Int("items", g.Count()),
		slog.Int("capacity", g.Capacity()))

	if loaded {
		m.emitStatus(StatusIndexLoaded, opts.Name, g.Count(), filename)
	}

	return InitResult{
		LoadedFromSave: loaded,
		ItemCount:      g.Count(),
		OperationID:    token,
	}, nil
}

// beginGeneration installs a fresh initializing context for name.
func (m *Manager) beginGeneration(name, token string) *indexContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generations[name]++
	ic := &indexContext{
		name:       name,
		generation: m.generations[name],
		state:      StateInitializing,
		token:      token,
	}
	m.contexts[name] = ic
	return ic
}

// commit runs install if ic is still the current generation of its name.
func (m *Manager) commit(ic *indexContext, install func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.contexts[ic.name] != ic {
		return werrors.StaleOperation(ic.name, ic.token)
	}
	install()
	return nil
}

// fail marks ic failed when it is still current.
func (m *Manager) fail(ic *indexContext, err error) {
	m.mu.Lock()
	current := m.contexts[ic.name] == ic
	m.mu.Unlock()
	if current {
		ic.setState(StateFailed)
	}
	slog.Warn("index_initialize_failed",
		slog.String("context", ic.name),
		slog.String("error", err.Error()))
}

// loadPersisted syncs from durable storage and decodes filename. A missing
// or unreadable blob yields a nil graph and no error.
func (m *Manager) loadPersisted(ctx context.Context, filename string, capacity int) (*Graph, error) {
	if err := m.fs.SyncFromDurable(ctx); err != nil {
		return nil, err
	}
	data, err := m.fs.ReadFile(filename)
	if err != nil {
		slog.Debug("no_persisted_index", slog.String("filename", filename))
		return nil, nil
	}
	g, err := DecodeBlob(data, capacity)
	if err != nil {
		attrs := append([]slog.Attr{slog.String("filename", filename)}, werrors.FormatForLog(err)...)
		slog.LogAttrs(ctx, slog.LevelWarn, "persisted_index_unreadable", attrs...)
		return nil, nil
	}
	return g, nil
}

// asPersistenceFailure keeps an existing worker error and wraps anything
// else as PersistenceFailure.
func asPersistenceFailure(msg string, err error) error {
	var we *werrors.WorkerError
	if errors.As(err, &we) {
		return we
	}
	return werrors.PersistenceFailure(msg, err)
}

func (m *Manager) current(name string) *indexContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[name]
}

func (m *Manager) resolveFilename(requested, persistenceKey string) string {
	switch {
	case requested != "":
		return requested
	case persistenceKey != "":
		return persistenceKey
	default:
		return m.opts.DefaultFilename
	}
}

// AddResult reports the outcome of AddRecords.
type AddResult struct {
	Added     int `json:"added"`
	Skipped   int `json:"skipped"`
	Overflow  int `json:"overflow"`
	ItemCount int `json:"itemCount"`
}

// AddRecords appends records to the named context in chunks, reporting
// progress after each. Malformed records are skipped; records beyond
// capacity are counted as overflow.
func (m *Manager) AddRecords(ctx context.Context, name string, records []Record, token string) (AddResult, error) {
	if err := m.requireEngine(); err != nil {
		return AddResult{}, err
	}
	if !validContext(name) {
		return AddResult{}, werrors.InvalidArgument("unknown index context %q", name)
	}

	ic := m.current(name)
	if ic == nil {
		return AddResult{}, werrors.NotInitialized(fmt.Sprintf("index context %q", name))
	}

	ic.mu.Lock()
	if !ic.state.Allocated() {
		state := ic.state
		ic.mu.Unlock()
		return AddResult{}, werrors.NotInitialized(fmt.Sprintf("index context %q (state: %s)", name, state))
	}
	if name == ContextTemporary && token != ic.token {
		ic.mu.Unlock()
		return AddResult{}, werrors.StaleOperation(name, token)
	}
	ic.writers++
	ic.state = StatePopulating
	ic.mu.Unlock()

	var res AddResult
	defer func() {
		ic.mu.Lock()
		ic.writers--
		if ic.writers == 0 {
			ic.state = StateReadyEmpty
			if ic.graph.Count() > 0 {
				ic.state = StateReadyPopulated
			}
		}
		ic.mu.Unlock()
	}()

	total := len(records)
	chunk := total * m.opts.ProgressPercent / 100
	if chunk < 1 {
		chunk = 1
	}

	for start := 0; start < total; start += chunk {
		end := min(start+chunk, total)

		ic.mu.Lock()
		for _, r := range records[start:end] {
			switch ic.graph.add(r) {
			case outcomeAdded:
				res.Added++
			case outcomeMalformed:
				res.Skipped++
			case outcomeOverflow:
				res.Overflow++
			}
		}
		res.ItemCount = ic.graph.Count()
		ic.mu.Unlock()

		m.emitProgress(Progress{
			Context:     name,
			OperationID: token,
			Processed:   end,
			Total:       total,
			Percent:     end * 100 / total,
		})

		if end < total {
			runtime.Gosched()
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		if m.current(name) != ic {
			return res, werrors.StaleOperation(name, token)
		}
	}

	if res.Skipped > 0 || res.Overflow > 0 {
		slog.Warn("records_not_inserted",
			slog.String("context", name),
			slog.Int("malformed", res.Skipped),
			slog.Int("overflow", res.Overflow))
	}
	slog.Debug("records_added",
		slog.String("context", name),
		slog.Int("added", res.Added),
		slog.Int("items", res.ItemCount))

	return res, nil
}

// SaveResult reports the outcome of Save.
type SaveResult struct {
	Filename  string `json:"filename"`
	ItemCount int    `json:"itemCount"`
	Bytes     int    `json:"bytes"`
}

// Save serializes the global context into the virtual filesystem and
// flushes it to durable storage.
func (m *Manager) Save(ctx context.Context, name, filename string) (SaveResult, error) {
	if err := m.requireEngine(); err != nil {
		return SaveResult{}, err
	}
	if !validContext(name) {
		return SaveResult{}, werrors.InvalidArgument("unknown index context %q", name)
	}
	if name != ContextGlobal {
		return SaveResult{}, werrors.Unsupported("only the %s context can be saved", ContextGlobal)
	}

	ic := m.current(name)
	if ic == nil {
		return SaveResult{}, werrors.NotReady(name, string(StateUninitialized))
	}

	ic.mu.RLock()
	if ic.state != StateReadyPopulated {
		state := ic.state
		ic.mu.RUnlock()
		return SaveResult{}, werrors.NotReady(name, string(state))
	}
	resolved := m.resolveFilename(filename, ic.persistenceKey)
	count := ic.graph.Count()
	blob, err := EncodeBlob(ic.graph)
	ic.mu.RUnlock()
	if err != nil {
		return SaveResult{}, werrors.PersistenceFailure("failed to serialize index", err)
	}

	if err := m.fs.WriteAndSync(ctx, resolved, blob); err != nil {
		return SaveResult{}, asPersistenceFailure("failed to write index file", err)
	}

	ic.mu.Lock()
	ic.persistenceKey = resolved
	ic.mu.Unlock()

	slog.Info("index_saved",
		slog.String("context", name),
		slog.String("filename", resolved),
		slog.Int("items", count),
		slog.Int("bytes", len(blob)))

	return SaveResult{Filename: resolved, ItemCount: count, Bytes: len(blob)}, nil
}

// SwitchResult reports the active context after SwitchActive.
type SwitchResult struct {
	ActiveContext  string `json:"activeContext"`
	Initialized    bool   `json:"initialized"`
	ItemCount      int    `json:"itemCount"`
	LoadedFromSave bool   `json:"loadedFromSave"`
}

// SwitchActive makes target the default context for searches. Switching to
// an uninitialized global context with a filename loads it opportunistically.
func (m *Manager) SwitchActive(ctx context.Context, target, filename string) (SwitchResult, error) {
	if err := m.requireEngine(); err != nil {
		return SwitchResult{}, err
	}
	if !validContext(target) {
		return SwitchResult{}, werrors.InvalidArgument("unknown index context %q", target)
	}

	m.mu.Lock()
	already := m.active == target
	ic := m.contexts[target]
	m.mu.Unlock()

	if already {
		return m.switchReport(target, ic), nil
	}

	if target == ContextGlobal && filename != "" && !contextUsable(ic) {
		if err := m.openGlobal(ctx, filename, ic); err != nil {
			return SwitchResult{}, err
		}
	}

	m.mu.Lock()
	m.active = target
	ic = m.contexts[target]
	m.mu.Unlock()

	res := m.switchReport(target, ic)
	slog.Info("index_context_switched",
		slog.String("active", target),
		slog.Bool("initialized", res.Initialized))
	m.emitStatus(StatusContextSwitched, target, res.ItemCount, "")
	return res, nil
}

// openGlobal loads filename into a new global context sized from the blob,
// unless another initialize replaced prev in the meantime.
func (m *Manager) openGlobal(ctx context.Context, filename string, prev *indexContext) error {
	g, err := m.loadPersisted(ctx, filename, 0)
	if err != nil || g == nil {
		return err
	}
	m.installGlobal(prev, g, filename)
	return nil
}

// installGlobal installs g as a new global generation if the current one
// is still prev.
func (m *Manager) installGlobal(prev *indexContext, g *Graph, filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contexts[ContextGlobal] != prev {
		return false
	}
	m.generations[ContextGlobal]++
	ic := &indexContext{
		name:       ContextGlobal,
		generation: m.generations[ContextGlobal],
	}
	ic.install(g, true, filename)
	m.contexts[ContextGlobal] = ic
	return true
}

// OpenSaved replaces the global context with the index persisted under
// filename, sized to the capacity recorded with it. It fails with NotReady
// when no readable index is stored there.
func (m *Manager) OpenSaved(ctx context.Context, filename string) (InitResult, error) {
	if err := m.requireEngine(); err != nil {
		return InitResult{}, err
	}
	filename = m.resolveFilename(filename, "")
	prev := m.current(ContextGlobal)

	g, err := m.loadPersisted(ctx, filename, 0)
	if err != nil {
		return InitResult{}, err
	}
	if g == nil {
		return InitResult{}, werrors.NotReady(ContextGlobal, "no persisted index "+filename)
	}
	if !m.installGlobal(prev, g, filename) {
		return InitResult{}, werrors.StaleOperation(ContextGlobal, "")
	}

	slog.Info("index_opened",
		slog.String("filename", filename),
		slog.Int("items", g.Count()),
		slog.Int("capacity", g.Capacity()))
	m.emitStatus(StatusIndexLoaded, ContextGlobal, g.Count(), filename)

	return InitResult{LoadedFromSave: true, ItemCount: g.Count()}, nil
}

func contextUsable(ic *indexContext) bool {
	if ic == nil {
		return false
	}
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.state.Allocated()
}

func (m *Manager) switchReport(target string, ic *indexContext) SwitchResult {
	res := SwitchResult{ActiveContext: target}
	if ic == nil {
		return res
	}
	info := ic.info()
	res.Initialized = info.State.Allocated()
	res.ItemCount = info.ItemCount
	res.LoadedFromSave = info.LoadedFromSave
	return res
}

// ExportResult holds the durable bytes of a persisted index.
type ExportResult struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

// Export saves the global context and returns the bytes read back from
// durable storage.
func (m *Manager) Export(ctx context.Context, name, filename string) (ExportResult, error) {
	if name == "" {
		name = ContextGlobal
	}
	if validContext(name) && name != ContextGlobal {
		return ExportResult{}, werrors.Unsupported("only the %s context can be exported", ContextGlobal)
	}

	saved, err := m.Save(ctx, name, filename)
	if err != nil {
		return ExportResult{}, err
	}
	data, err := m.fs.ReadDurable(ctx, saved.Filename)
	if err != nil {
		return ExportResult{}, err
	}
	return ExportResult{Filename: saved.Filename, Data: data}, nil
}

// RecordSource yields the records a lost index is rebuilt from.
type RecordSource interface {
	Records(ctx context.Context) ([]Record, error)
}

// ImportResult reports a rebuild from source records.
type ImportResult struct {
	Filename  string `json:"filename"`
	ItemCount int    `json:"itemCount"`
	Skipped   int    `json:"skipped"`
}

// ImportFromSource rebuilds the global index from source records, persists
// it under filename and installs it as the live global context. Nothing is
// written when the source has no usable records.
func (m *Manager) ImportFromSource(ctx context.Context, filename string, source RecordSource) (ImportResult, error) {
	if err := m.requireEngine(); err != nil {
		return ImportResult{}, err
	}
	if source == nil {
		return ImportResult{}, werrors.NoSourceRecords("no record source is configured")
	}
	filename = m.resolveFilename(filename, "")

	records, err := source.Records(ctx)
	if err != nil {
		var we *werrors.WorkerError
		if errors.As(err, &we) {
			return ImportResult{}, we
		}
		return ImportResult{}, werrors.PersistenceFailure("failed to read source records", err)
	}

	usable := make([]Record, 0, len(records))
	for _, r := range records {
		if validVector(r.Vector) {
			usable = append(usable, r)
		}
	}
	if len(usable) == 0 {
		return ImportResult{}, werrors.NoSourceRecords(
			fmt.Sprintf("source yielded %d records, none usable", len(records)))
	}

	g := NewGraph(max(len(usable), m.opts.DefaultCapacity), m.opts.Params)
	total := len(usable)
	chunk := max(total*m.opts.ProgressPercent/100, 1)
	for start := 0; start < total; start += chunk {
		end := min(start+chunk, total)
		for _, r := range usable[start:end] {
			g.add(r)
		}
		m.emitProgress(Progress{
			Context:   ContextGlobal,
			Processed: end,
			Total:     total,
			Percent:   end * 100 / total,
		})
		if err := ctx.Err(); err != nil {
			return ImportResult{}, err
		}
	}

	blob, err := EncodeBlob(g)
	if err != nil {
		return ImportResult{}, werrors.PersistenceFailure("failed to serialize index", err)
	}
	if err := m.fs.WriteAndSync(ctx, filename, blob); err != nil {
		return ImportResult{}, asPersistenceFailure("failed to write index file", err)
	}

	m.mu.Lock()
	m.generations[ContextGlobal]++
	ic := &indexContext{
		name:       ContextGlobal,
		generation: m.generations[ContextGlobal],
	}
	ic.install(g, false, filename)
	m.contexts[ContextGlobal] = ic
	m.mu.Unlock()

	slog.Info("index_rebuilt_from_source",
		slog.String("filename", filename),
		slog.Int("items", g.Count()),
		slog.Int("skipped", len(records)-len(usable)))
	m.emitStatus(StatusIndexRebuilt, ContextGlobal, g.Count(), filename)

	return ImportResult{
		Filename:  filename,
		ItemCount: g.Count(),
		Skipped:   len(records) - len(usable),
	}, nil
}

// Contexts returns a snapshot of every created context.
func (m *Manager) Contexts() []ContextInfo {
	m.mu.Lock()
	active := m.active
	list := make([]*indexContext, 0, len(m.contexts))
	for _, name := range []string{ContextGlobal, ContextTemporary} {
		if ic, ok := m.contexts[name]; ok {
			list = append(list, ic)
		}
	}
	m.mu.Unlock()

	out := make([]ContextInfo, 0, len(list))
	for _, ic := range list {
		info := ic.info()
		info.Active = info.Name == active
		out = append(out, info)
	}
	return out
}

// Active returns the active context name.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) emitProgress(p Progress) {
	if m.opts.OnProgress != nil {
		m.opts.OnProgress(p)
	}
}

func (m *Manager) emitStatus(event, name string, count int, msg string) {
	if m.opts.OnStatus == nil {
		return
	}
	m.opts.OnStatus(Status{
		Event:         event,
		Context:       name,
		ActiveContext: m.Active(),
		ItemCount:     count,
		Message:       msg,
	})
}
