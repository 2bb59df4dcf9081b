// Package dataflow adapts the Google Mangle engine to the notebook execution
// log. The slicing itself lives in the Datalog rules the engine evaluates;
// this package only feeds cells in as facts and reads the derived slice back.
package dataflow

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"nbgather/internal/logging"
	"nbgather/internal/types"
)

//go:embed rules.mg
var embeddedRules string

// ErrDisabled is returned by slice requests when the engine could not load
// its rules program. Logging degrades to a no-op instead of failing.
var ErrDisabled = fmt.Errorf("dataflow engine is disabled")

// UnknownCellError reports a slice request for a cell that was never logged.
type UnknownCellError struct {
	CellID string
}

func (e *UnknownCellError) Error() string {
	return fmt.Sprintf("cell %q is not in the execution log", e.CellID)
}

// Config holds engine configuration.
type Config struct {
	// RulesPath overrides the embedded rules program. If the file does not
	// exist the engine disables itself rather than failing startup.
	RulesPath string

	FactLimit    int
	QueryTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FactLimit:    100000,
		QueryTimeout: 30 * time.Second,
	}
}

// loggedCell pairs a logged cell with the atoms extracted from its source.
type loggedCell struct {
	cell  types.Cell
	atoms []ast.Atom
}

// Engine wraps the Mangle engine around a monotonically growing execution
// log. Each slice request evaluates the rules program against the current
// log in a fresh fact store, so retracting facts (cell re-runs, resets)
// never leaves stale derived facts behind.
type Engine struct {
	config Config

	mu              sync.RWMutex
	programInfo     *analysis.ProgramInfo
	predicateIndex  map[string]ast.PredicateSym
	extractor       *Extractor
	disabled        bool
	cells           map[string]*loggedCell
	order           []string
	nextOrdinal     int
	factCount       int
	factLimitWarned bool
}

// NewEngine creates an engine and loads its rules program. A missing rules
// override file disables the engine (best-effort init); a malformed program
// is a hard error.
func NewEngine(cfg Config) (*Engine, error) {
	e := &Engine{
		config:      cfg,
		cells:       make(map[string]*loggedCell),
		extractor:   NewExtractor(),
		nextOrdinal: 1,
	}

	rules := embeddedRules
	if cfg.RulesPath != "" {
		data, err := os.ReadFile(cfg.RulesPath)
		if err != nil {
			if os.IsNotExist(err) {
				logging.EngineWarn("rules program %s not found; engine disabled", cfg.RulesPath)
				e.disabled = true
				return e, nil
			}
			return nil, fmt.Errorf("read rules program %s: %w", cfg.RulesPath, err)
		}
		rules = string(data)
	}

	if err := e.loadProgram(rules); err != nil {
		return nil, err
	}

	logging.Engine("dataflow engine ready (%d declared predicates)", len(e.predicateIndex))
	return e, nil
}

// loadProgram parses and analyzes the Datalog rules program.
func (e *Engine) loadProgram(rules string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(rules)))
	if err != nil {
		return fmt.Errorf("parse rules program: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return fmt.Errorf("analyze rules program: %w", err)
	}

	e.programInfo = programInfo
	e.predicateIndex = make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
	}
	return nil
}

// Disabled reports whether the engine loaded without a rules program.
func (e *Engine) Disabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.disabled
}

// LogCell extracts facts from the cell source and appends them to the
// execution log. Re-running a cell replaces its facts and moves it to the
// end of the log. A cell whose source cannot be parsed is logged as opaque.
// On a disabled engine this is a no-op.
func (e *Engine) LogCell(ctx context.Context, cell types.Cell) (types.Cell, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disabled {
		return cell, nil
	}

	facts, err := e.extractor.Extract(ctx, cell)
	if err != nil {
		logging.EngineWarn("cell %s: extraction failed, logging as opaque: %v", cell.ID, err)
		facts = []Fact{{Predicate: "cell_opaque", Args: []interface{}{cell.ID}}}
	}

	cell.Ordinal = e.nextOrdinal
	e.nextOrdinal++

	facts = append(facts, Fact{
		Predicate: "cell",
		Args:      []interface{}{cell.ID, int64(cell.Ordinal)},
	})

	atoms := make([]ast.Atom, 0, len(facts))
	for _, fact := range facts {
		atom, err := e.factToAtomLocked(fact)
		if err != nil {
			return cell, fmt.Errorf("cell %s: %w", cell.ID, err)
		}
		atoms = append(atoms, atom)
	}

	// Check the limit before touching any state: a rejected log (including a
	// rejected re-run) must leave the previous execution fully in place.
	prevAtoms := 0
	if prev, ok := e.cells[cell.ID]; ok {
		prevAtoms = len(prev.atoms)
	}
	if e.config.FactLimit > 0 && e.factCount-prevAtoms+len(atoms) > e.config.FactLimit {
		return cell, fmt.Errorf("fact limit exceeded: %d", e.config.FactLimit)
	}

	if _, ok := e.cells[cell.ID]; ok {
		// Re-run: drop the previous execution's facts and ordering slot.
		e.factCount -= prevAtoms
		for i, id := range e.order {
			if id == cell.ID {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}

	e.cells[cell.ID] = &loggedCell{cell: cell, atoms: atoms}
	e.order = append(e.order, cell.ID)
	e.factCount += len(atoms)
	e.maybeWarnFactLimitLocked()

	logging.EngineDebug("logged cell %s (ordinal %d, %d facts)", cell.ID, cell.Ordinal, len(atoms))
	return cell, nil
}

func (e *Engine) maybeWarnFactLimitLocked() {
	if e.config.FactLimit == 0 || e.factLimitWarned {
		return
	}
	utilization := float64(e.factCount) / float64(e.config.FactLimit)
	if utilization >= 0.85 {
		logging.EngineWarn("fact store is %.1f%% of configured capacity (%d / %d)",
			utilization*100, e.factCount, e.config.FactLimit)
		e.factLimitWarned = true
	}
}

// Reset drops the entire execution log. Counters held by the session are
// reset by the caller in the same operation.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cells = make(map[string]*loggedCell)
	e.order = nil
	e.nextOrdinal = 1
	e.factCount = 0
	e.factLimitWarned = false
	logging.Engine("execution log reset")
}

// CellCount returns the number of distinct cells in the log.
func (e *Engine) CellCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cells)
}

// FactCount returns the number of base facts currently logged.
func (e *Engine) FactCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.factCount
}

// Slice evaluates the rules program and returns the cells the target
// transitively depends on, in execution order, target last.
func (e *Engine) Slice(ctx context.Context, cellID string) (types.Slice, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Slice")
	defer timer.StopWithThreshold(time.Second)

	e.mu.RLock()
	if e.disabled {
		e.mu.RUnlock()
		return types.Slice{}, ErrDisabled
	}
	if _, ok := e.cells[cellID]; !ok {
		e.mu.RUnlock()
		return types.Slice{}, &UnknownCellError{CellID: cellID}
	}

	// Snapshot the log into a fresh store so evaluation never observes a
	// half-replaced cell and derived facts never outlive their base facts.
	store := factstore.NewSimpleInMemoryStore()
	for _, id := range e.order {
		for _, atom := range e.cells[id].atoms {
			store.Add(atom)
		}
	}
	targetAtom, err := e.factToAtomLocked(Fact{Predicate: "target", Args: []interface{}{cellID}})
	if err != nil {
		e.mu.RUnlock()
		return types.Slice{}, err
	}
	store.Add(targetAtom)

	programInfo := e.programInfo
	sliceSym, ok := e.predicateIndex["slice_member"]
	byID := make(map[string]types.Cell, len(e.cells))
	for id, lc := range e.cells {
		byID[id] = lc.cell
	}
	e.mu.RUnlock()

	if !ok {
		return types.Slice{}, fmt.Errorf("rules program does not derive slice_member")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := mengine.EvalProgramWithStats(programInfo, store)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return types.Slice{}, fmt.Errorf("evaluate slice for %s: %w", cellID, err)
		}
	case <-ctx.Done():
		return types.Slice{}, fmt.Errorf("slice evaluation timed out after %v: %w", time.Since(start), ctx.Err())
	}

	members := map[string]bool{}
	err = store.GetFacts(ast.NewQuery(sliceSym), func(atom ast.Atom) error {
		if len(atom.Args) != 2 {
			return nil
		}
		target, ok1 := termString(atom.Args[0])
		member, ok2 := termString(atom.Args[1])
		if ok1 && ok2 && target == cellID {
			members[member] = true
		}
		return nil
	})
	if err != nil {
		return types.Slice{}, fmt.Errorf("read slice for %s: %w", cellID, err)
	}

	result := types.Slice{TargetID: cellID}
	for id := range members {
		if cell, ok := byID[id]; ok {
			result.Cells = append(result.Cells, cell)
		}
	}
	sort.Slice(result.Cells, func(i, j int) bool {
		return result.Cells[i].Ordinal < result.Cells[j].Ordinal
	})

	logging.Engine("slice for %s: %d of %d cells", cellID, len(result.Cells), len(byID))
	return result, nil
}

// Fact represents a single fact handed to the engine.
type Fact struct {
	Predicate string
	Args      []interface{}
}

func (e *Engine) factToAtomLocked(fact Fact) (ast.Atom, error) {
	sym, ok := e.predicateIndex[fact.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared in the rules program", fact.Predicate)
	}
	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		term, err := convertValueToBaseTerm(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", fact.Predicate, i, err)
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

// convertValueToBaseTerm converts a fact argument to a Mangle constant.
// Cell IDs and variable names are always string constants; name constants
// are never used because host-assigned IDs are not valid Mangle names.
func convertValueToBaseTerm(value interface{}) (ast.BaseTerm, error) {
	switch v := value.(type) {
	case ast.BaseTerm:
		return v, nil
	case string:
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, fmt.Errorf("unsupported fact argument type %T", v)
	}
}

func termString(term ast.BaseTerm) (string, bool) {
	constant, ok := term.(ast.Constant)
	if !ok {
		return "", false
	}
	if constant.Type != ast.StringType {
		return "", false
	}
	return constant.Symbol, true
}
