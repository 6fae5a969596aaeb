// Package rireki tracks artifact/execution lineage for pipeline
// orchestrators and answers whether a step needs to run at all.
//
// For every step run it records which artifacts were consumed and produced,
// and it can later decide — given a step's type, inputs and configuration —
// that an equivalent run already happened and its outputs can be reused:
//
//	m, err := rireki.Open(ctx)
//	if err != nil { ... }
//	defer m.Close(ctx)
//
//	eid, err := m.PrepareExecution(ctx, "Trainer", props)
//	if id, ok, err := m.PreviousRun(ctx, "Trainer", inputs, props); ok {
//	    outputs, err = m.FetchPreviousResultArtifacts(ctx, outputs, id)
//	    _, err = m.PublishExecution(ctx, eid, inputs, outputs, record.ExecutionCached)
//	} else {
//	    // run the step, then:
//	    outputs, err = m.PublishExecution(ctx, eid, inputs, outputs, record.ExecutionComplete)
//	}
//
// The manager is a synchronous library over a store.Store; it owns no
// goroutines. Scheduling, process launching and artifact payload I/O belong
// to the orchestrator.
package rireki

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/rireki/internal/config"
	"github.com/ashita-ai/rireki/internal/telemetry"
	"github.com/ashita-ai/rireki/record"
	"github.com/ashita-ai/rireki/store"
	"github.com/ashita-ai/rireki/store/memstore"
	"github.com/ashita-ai/rireki/store/pgstore"
	"github.com/ashita-ai/rireki/store/sqlitestore"
)

// Metadata is the lineage manager. Construct with New (explicit store) or
// Open (config-driven backend selection). Safe for concurrent use; callers
// must not invoke PublishExecution twice concurrently for the same
// execution id.
type Metadata struct {
	store  store.Store
	logger *slog.Logger
	tracer trace.Tracer

	typeGroup      singleflight.Group
	typeMu         sync.Mutex
	artifactTypes  map[string]int64
	executionTypes map[string]int64

	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter

	otelShutdown telemetry.Shutdown
}

// New binds a metadata manager to an existing store adapter.
func New(st store.Store, opts ...Option) *Metadata {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Metadata{
		store:          st,
		logger:         logger,
		tracer:         telemetry.Tracer("rireki"),
		artifactTypes:  make(map[string]int64),
		executionTypes: make(map[string]int64),
	}

	meter := telemetry.Meter("rireki")
	var err error
	if m.cacheHits, err = meter.Int64Counter("rireki.cache.hits"); err != nil {
		logger.Warn("cache hit counter unavailable", "error", err)
	}
	if m.cacheMisses, err = meter.Int64Counter("rireki.cache.misses"); err != nil {
		logger.Warn("cache miss counter unavailable", "error", err)
	}
	return m
}

// Open loads configuration (env vars plus a .env file when present),
// initialises OpenTelemetry, selects and dials the configured store
// backend, and returns a ready manager. Connection selection and
// credentials are configuration concerns; see internal/config for the keys.
func Open(ctx context.Context, opts ...Option) (*Metadata, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.storeKind != "" {
		cfg.StoreKind = o.storeKind
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	st := o.st
	if st == nil {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		switch cfg.StoreKind {
		case config.StoreMemory:
			st = memstore.New()
		case config.StoreSQLite:
			st, err = sqlitestore.Open(dialCtx, cfg.SQLitePath)
		case config.StorePostgres:
			st, err = pgstore.New(dialCtx, cfg.DatabaseURL, logger)
		default:
			err = fmt.Errorf("unknown store kind %q", cfg.StoreKind)
		}
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	logger.Info("rireki ready", "store", cfg.StoreKind)

	m := New(st, append(opts, WithLogger(logger))...)
	m.otelShutdown = otelShutdown
	return m, nil
}

// Close releases the store connection and, for managers built by Open, the
// telemetry providers. Safe on all paths: Open never returns a manager
// holding unreleased resources on error.
func (m *Metadata) Close(ctx context.Context) error {
	err := m.store.Close(ctx)
	if m.otelShutdown != nil {
		if serr := m.otelShutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// Ping checks connectivity to the underlying store.
func (m *Metadata) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// ── Artifact manager ──────────────────────────────────────────────────────────

// PublishArtifacts writes the given unpublished artifacts to the store and
// returns the published records, in order, with store-assigned ids and
// state published. The reserved type_name, state and split properties are
// filled in; split defaults to empty. Callers' values are not mutated —
// replace your references with the returned records. Empty input is a
// no-op returning an empty slice.
func (m *Metadata) PublishArtifacts(ctx context.Context, artifacts []record.Artifact) ([]record.Artifact, error) {
	out := make([]record.Artifact, 0, len(artifacts))
	for i, a := range artifacts {
		if a.ID != 0 {
			return nil, invalidRequestf("artifact %d already has id %d", i, a.ID)
		}
		published, err := m.publishArtifact(ctx, a)
		if err != nil {
			return nil, err
		}
		out = append(out, published)
	}
	return out, nil
}

func (m *Metadata) publishArtifact(ctx context.Context, a record.Artifact) (record.Artifact, error) {
	if a.TypeName == "" {
		return record.Artifact{}, invalidRequestf("artifact is missing a type name")
	}

	typeID, err := m.artifactTypeID(ctx, a.TypeName)
	if err != nil {
		return record.Artifact{}, err
	}

	published := a.Clone()
	published.TypeID = typeID
	published.State = record.ArtifactPublished
	if published.Properties == nil {
		published.Properties = record.Properties{}
	}
	published.Properties[record.PropTypeName] = record.String(a.TypeName)
	published.Properties[record.PropState] = record.String(string(record.ArtifactPublished))
	if _, ok := published.Properties[record.PropSplit]; !ok {
		published.Properties[record.PropSplit] = record.String("")
	}

	id, err := m.store.PutArtifact(ctx, published)
	if err != nil {
		return record.Artifact{}, fmt.Errorf("rireki: publish artifact: %w", err)
	}
	published.ID = id

	m.logger.Debug("artifact published", "artifact_id", id, "type", a.TypeName, "uri", a.URI)
	return published, nil
}

// GetAllArtifacts returns every artifact record known to the store.
func (m *Metadata) GetAllArtifacts(ctx context.Context) ([]record.Artifact, error) {
	return m.store.GetArtifacts(ctx)
}

// GetArtifactsByURI returns all artifacts whose URI equals uri, in
// store-insertion order.
func (m *Metadata) GetArtifactsByURI(ctx context.Context, uri string) ([]record.Artifact, error) {
	return m.store.GetArtifactsByURI(ctx, uri)
}

// CheckArtifactState re-reads the artifact from the store and fails with a
// StateMismatchError when its recorded state differs from expected. The
// store copy is authoritative, not the caller's possibly-stale record.
func (m *Metadata) CheckArtifactState(ctx context.Context, a record.Artifact, expected record.ArtifactState) error {
	if a.ID == 0 {
		return invalidRequestf("artifact has no id; publish it first")
	}
	stored, err := m.store.GetArtifactsByID(ctx, []int64{a.ID})
	if err != nil {
		return fmt.Errorf("rireki: check artifact state: %w", err)
	}
	if len(stored) == 0 {
		return fmt.Errorf("rireki: artifact %d: %w", a.ID, store.ErrNotFound)
	}
	if stored[0].State != expected {
		return &StateMismatchError{ArtifactID: a.ID, State: stored[0].State, Expected: expected}
	}
	return nil
}

// UpdateArtifactState overwrites the artifact's state in the store and
// returns the updated record. Artifacts are never physically removed;
// deletion is the deleted state.
func (m *Metadata) UpdateArtifactState(ctx context.Context, a record.Artifact, state record.ArtifactState) (record.Artifact, error) {
	if a.ID == 0 {
		return record.Artifact{}, invalidRequestf("artifact has no id; publish it first")
	}
	updated := a.Clone()
	updated.State = state
	if updated.Properties == nil {
		updated.Properties = record.Properties{}
	}
	updated.Properties[record.PropState] = record.String(string(state))
	if err := m.store.UpdateArtifact(ctx, updated); err != nil {
		return record.Artifact{}, fmt.Errorf("rireki: update artifact state: %w", err)
	}
	return updated, nil
}

// ── Execution manager ─────────────────────────────────────────────────────────

// PrepareExecution creates a new execution of the given type in state new,
// carrying the supplied configuration properties, and returns its id. No
// pipeline or component context is attached; use RegisterExecution when
// lineage queries need one.
func (m *Metadata) PrepareExecution(ctx context.Context, typeName string, execProperties record.Properties) (int64, error) {
	return m.newExecution(ctx, typeName, execProperties, nil)
}

// RegisterExecution is PrepareExecution plus context: the pipeline identity
// (name, root, run id — generated when empty) and component identity are
// stored as execution properties so SearchArtifacts can find this run
// later. The execution type is the component type.
func (m *Metadata) RegisterExecution(ctx context.Context, execProperties record.Properties, pipeline record.PipelineInfo, component record.ComponentInfo) (int64, error) {
	pipeline = pipeline.WithDefaultRunID()
	contextProps := record.Properties{
		record.PropPipelineName:  record.String(pipeline.Name),
		record.PropPipelineRoot:  record.String(pipeline.Root),
		record.PropRunID:         record.String(pipeline.RunID),
		record.PropComponentType: record.String(component.Type),
		record.PropComponentID:   record.String(component.ID),
	}
	return m.newExecution(ctx, component.Type, execProperties, contextProps)
}

func (m *Metadata) newExecution(ctx context.Context, typeName string, execProperties, contextProps record.Properties) (int64, error) {
	if typeName == "" {
		return 0, invalidRequestf("execution is missing a type name")
	}
	for key := range execProperties {
		if key == record.PropState {
			return 0, invalidRequestf("execution property %q is reserved", key)
		}
	}

	typeID, err := m.executionTypeID(ctx, typeName)
	if err != nil {
		return 0, err
	}

	props := execProperties.Clone()
	props[record.PropState] = record.String(string(record.ExecutionNew))
	for k, v := range contextProps {
		props[k] = v
	}

	id, err := m.store.PutExecution(ctx, record.Execution{
		TypeID:     typeID,
		TypeName:   typeName,
		State:      record.ExecutionNew,
		Properties: props,
	})
	if err != nil {
		return 0, fmt.Errorf("rireki: create execution: %w", err)
	}

	m.logger.Debug("execution created", "execution_id", id, "type", typeName)
	return id, nil
}

// PublishExecution records the lineage of one finished (or cache-skipped)
// step and moves the execution out of state new:
//
//  1. One INPUT event per input artifact, path [{key: name}, {index: i}].
//     Inputs must already be published; they are not re-published.
//  2. Outputs without an id are published, then one OUTPUT event per output
//     artifact with the same path shape.
//  3. The execution state flips to finalState — ExecutionComplete for a
//     real run, ExecutionCached for a reused one.
//
// Events land before the state flip, so a failure partway leaves the
// execution in state new: callers must treat that as not-yet-finished and
// may retry the whole call (events are re-emitted, never partially
// trusted). Returns the outputs with published records substituted in;
// caller values are not mutated.
func (m *Metadata) PublishExecution(ctx context.Context, executionID int64, inputs, outputs map[string][]record.Artifact, finalState record.ExecutionState) (map[string][]record.Artifact, error) {
	ctx, span := m.tracer.Start(ctx, "rireki.PublishExecution",
		trace.WithAttributes(attribute.Int64("execution.id", executionID)))
	defer span.End()

	if finalState != record.ExecutionComplete && finalState != record.ExecutionCached {
		return nil, invalidRequestf("final state must be %q or %q, got %q",
			record.ExecutionComplete, record.ExecutionCached, finalState)
	}
	// Validate everything up front; nothing may hit the store until the
	// whole request is known to be well-formed.
	for _, name := range sortedNames(inputs) {
		if name == "" {
			return nil, invalidRequestf("input name must not be empty")
		}
		for i, a := range inputs[name] {
			if a.ID == 0 {
				return nil, invalidRequestf("input %q[%d] is not published", name, i)
			}
		}
	}
	for _, name := range sortedNames(outputs) {
		if name == "" {
			return nil, invalidRequestf("output name must not be empty")
		}
		for i, a := range outputs[name] {
			if a.ID == 0 && a.TypeName == "" {
				return nil, invalidRequestf("output %q[%d] is missing a type name", name, i)
			}
		}
	}

	executions, err := m.store.GetExecutionsByID(ctx, []int64{executionID})
	if err != nil {
		return nil, fmt.Errorf("rireki: publish execution: %w", err)
	}
	if len(executions) == 0 {
		return nil, fmt.Errorf("rireki: execution %d: %w", executionID, store.ErrNotFound)
	}
	execution := executions[0]

	var events []record.Event
	for _, name := range sortedNames(inputs) {
		for i, a := range inputs[name] {
			events = append(events, record.Event{
				ExecutionID: executionID,
				ArtifactID:  a.ID,
				Type:        record.EventInput,
				Path:        record.StepPath(name, i),
			})
		}
	}

	published := make(map[string][]record.Artifact, len(outputs))
	for _, name := range sortedNames(outputs) {
		list := make([]record.Artifact, len(outputs[name]))
		for i, a := range outputs[name] {
			if a.ID == 0 {
				if list[i], err = m.publishArtifact(ctx, a); err != nil {
					return nil, err
				}
			} else {
				list[i] = a.Clone()
			}
			events = append(events, record.Event{
				ExecutionID: executionID,
				ArtifactID:  list[i].ID,
				Type:        record.EventOutput,
				Path:        record.StepPath(name, i),
			})
		}
		published[name] = list
	}

	if err := m.store.PutEvents(ctx, events); err != nil {
		return nil, fmt.Errorf("rireki: publish events: %w", err)
	}

	execution.State = finalState
	execution.Properties[record.PropState] = record.String(string(finalState))
	if err := m.store.UpdateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("rireki: finalize execution: %w", err)
	}

	m.logger.Debug("execution published",
		"execution_id", executionID, "events", len(events), "state", finalState)
	return published, nil
}

// ── Type interning ────────────────────────────────────────────────────────────

func (m *Metadata) artifactTypeID(ctx context.Context, name string) (int64, error) {
	return m.typeID(ctx, "artifact", name, m.artifactTypes, m.store.CreateArtifactType)
}

func (m *Metadata) executionTypeID(ctx context.Context, name string) (int64, error) {
	return m.typeID(ctx, "execution", name, m.executionTypes, m.store.CreateExecutionType)
}

// typeID caches interned type ids locally; singleflight collapses
// concurrent first lookups of the same name into one store round-trip.
func (m *Metadata) typeID(ctx context.Context, kind, name string, cache map[string]int64, create func(context.Context, string) (int64, error)) (int64, error) {
	m.typeMu.Lock()
	id, ok := cache[name]
	m.typeMu.Unlock()
	if ok {
		return id, nil
	}

	v, err, _ := m.typeGroup.Do(kind+"/"+name, func() (any, error) {
		id, err := create(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("rireki: intern %s type %q: %w", kind, name, err)
		}
		m.typeMu.Lock()
		cache[name] = id
		m.typeMu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func sortedNames[T any](dict map[string][]T) []string {
	names := make([]string, 0, len(dict))
	for name := range dict {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
