package index

// Dimension is the fixed vector length for every context.
const Dimension = 384

// Context names.
const (
	ContextGlobal    = "global"
	ContextTemporary = "temporary"
)

// Default HNSW build parameters.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
)

// DefaultFilename is the persisted blob name used when none is given.
const DefaultFilename = "hnsw_index_global.dat"

// State is the lifecycle state of one index context.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateInitializing   State = "initializing"
	StateReadyEmpty     State = "ready-empty"
	StatePopulating     State = "populating"
	StateReadyPopulated State = "ready-populated"
	StateFailed         State = "failed"
)

// Allocated reports whether a graph exists that records can be added to.
func (s State) Allocated() bool {
	return s == StateReadyEmpty || s == StateReadyPopulated || s == StatePopulating
}

// BuildParams are the HNSW graph parameters.
// EfConstruction is recorded with the index but the graph library sizes
// its construction candidate list from M and EfSearch.
type BuildParams struct {
	M              int `json:"M"`
	EfConstruction int `json:"efConstruction"`
	EfSearch       int `json:"efSearch"`
}

// DefaultBuildParams returns M=16, efConstruction=200, efSearch=64.
func DefaultBuildParams() BuildParams {
	return BuildParams{
		M:              DefaultM,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
	}
}

// withDefaults fills zero fields from d.
func (p BuildParams) withDefaults(d BuildParams) BuildParams {
	if p.M <= 0 {
		p.M = d.M
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = d.EfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = d.EfSearch
	}
	return p
}

// Record is one vector to insert, keyed by the caller's identifier.
type Record struct {
	ID     string
	Vector []float32
}

func validContext(name string) bool {
	return name == ContextGlobal || name == ContextTemporary
}
