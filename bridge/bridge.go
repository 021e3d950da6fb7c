package bridge

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/calltable"
	"github.com/wippyai/icall-bridge/errors"
	"github.com/wippyai/icall-bridge/layout"
	"github.com/wippyai/icall-bridge/manifest"
	"github.com/wippyai/icall-bridge/metadata"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Initializer binds what it needs from the call table while the bridge is
// Resolving. Initializers stay registered across reloads and run once per
// generation, in the order they were added.
type Initializer interface {
	Initialize(r *Resolver) error
}

// Unloader is implemented by initializers that hold state tied to a
// generation. Unload runs after in-flight calls have drained, and also for
// a load that failed part way.
type Unloader interface {
	Unload(ctx context.Context) error
}

// InitializerFunc adapts a function to Initializer
type InitializerFunc func(r *Resolver) error

func (f InitializerFunc) Initialize(r *Resolver) error { return f(r) }

// Bridge owns the call table, layouts and attributes of one managed image
// and moves them through the load lifecycle.
//
// Lifecycle methods are meant to be driven from one goroutine. Calls through
// slots and Acquire are safe from any goroutine.
type Bridge struct {
	logger     *zap.Logger
	strict     bool
	newSession func() string

	mu           sync.Mutex
	table        *calltable.Table
	layouts      *layout.Registry
	attrs        *metadata.Builder
	initializers []Initializer
	required     []manifest.CallDecl
	pending      error
	lastErr      error

	state      atomic.Int32
	generation atomic.Uint64
	session    atomic.Value // string
	store      atomic.Pointer[metadata.Store]
	gate       gate
}

// New creates an Unloaded bridge
func New(opts ...Option) *Bridge {
	b := &Bridge{
		logger:     zap.NewNop(),
		newSession: defaultSessionID,
		table:      calltable.New(),
		layouts:    layout.NewRegistry(),
		attrs:      metadata.NewBuilder(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.generation.Store(b.table.Generation())
	b.session.Store("")
	return b
}

// State returns the current lifecycle state
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Generation returns the generation of the current or most recent load
func (b *Bridge) Generation() uint64 {
	return b.generation.Load()
}

// Session returns the id of the current load session, empty before Begin
func (b *Bridge) Session() string {
	return b.session.Load().(string)
}

// Table returns the call table
func (b *Bridge) Table() *calltable.Table {
	return b.table
}

// Logger returns the bridge logger
func (b *Bridge) Logger() *zap.Logger {
	return b.logger
}

// Err returns the error of the last failed load, nil otherwise
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Bridge) setState(to State) {
	from := State(b.state.Swap(int32(to)))
	b.logger.Debug("state transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Uint64("generation", b.Generation()))
}

// Begin opens a new load session. The bridge must be Unloaded.
func (b *Bridge) Begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.State(); s != StateUnloaded {
		return errors.InvalidState("begin", s.String())
	}
	b.session.Store(b.newSession())
	b.setState(StateRegistering)
	b.logger.Info("load session started",
		zap.String("session", b.Session()),
		zap.Uint64("generation", b.Generation()))
	return nil
}

// record keeps a registration failure so that Load reports it
func (b *Bridge) record(err error) error {
	if err != nil {
		b.pending = multierr.Append(b.pending, err)
	}
	return err
}

func (b *Bridge) requireRegistering(op string) error {
	if s := b.State(); s != StateRegistering {
		return errors.InvalidState(op, s.String())
	}
	return nil
}

// Register adds one internal call. Any failure is also reported by Load.
func (b *Bridge) Register(id string, fn any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireRegistering("register"); err != nil {
		return err
	}
	err := b.table.Register(calltable.Identifier(id), fn)
	if err != nil {
		b.logger.Warn("internal call rejected", zap.String("id", id), zap.Error(err))
	}
	return b.record(err)
}

// RegisterHost adds every internal call of a native class
func (b *Bridge) RegisterHost(h calltable.Host) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireRegistering("register"); err != nil {
		return err
	}
	err := b.table.RegisterHost(h)
	if err != nil {
		b.logger.Warn("host rejected", zap.String("class", h.ClassName()), zap.Error(err))
	}
	return b.record(err)
}

// DeclareLayout declares the native layout of the Go struct v
func (b *Bridge) DeclareLayout(v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireRegistering("declare layout"); err != nil {
		return err
	}
	d, err := layout.FromValue(v)
	if err != nil {
		return b.record(err)
	}
	return b.record(b.layouts.DeclareNative(d))
}

// DeclareManagedLayout declares how the managed image lays out a struct
func (b *Bridge) DeclareManagedLayout(d *layout.Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireRegistering("declare layout"); err != nil {
		return err
	}
	return b.record(b.layouts.DeclareManaged(d))
}

// DeclareAttribute attaches one attribute to owner. Problems are reported
// by Load.
func (b *Bridge) DeclareAttribute(owner, name string, fields map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireRegistering("declare attribute"); err != nil {
		return err
	}
	b.attrs.Declare(owner, name, fields)
	return nil
}

// DeclareMember describes one method, field or property of a managed
// type. Attributes on it are declared with owner m.Path().
func (b *Bridge) DeclareMember(m metadata.Member) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireRegistering("declare member"); err != nil {
		return err
	}
	b.attrs.DeclareMember(m)
	return nil
}

// DeclareManifest declares the managed layouts, members and attributes of an image.
// Every internal call the manifest lists is required: Load fails unless
// each one is registered with the declared signature.
func (b *Bridge) DeclareManifest(m *manifest.Image) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireRegistering("declare manifest"); err != nil {
		return err
	}
	descs, err := m.Layouts()
	if err != nil {
		return b.record(err)
	}
	var errs error
	for _, d := range descs {
		errs = multierr.Append(errs, b.layouts.DeclareManaged(d))
	}
	b.attrs.Scan(m.Declarations()).ScanMembers(m.Members())
	b.required = append(b.required, m.InternalCalls...)
	return b.record(errs)
}

// AddInitializer adds an initializer that runs on every load from the next
// one on. It is not allowed while a load is in progress or ready.
func (b *Bridge) AddInitializer(init Initializer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch s := b.State(); s {
	case StateUnloaded, StateRegistering:
	default:
		return errors.InvalidState("add initializer", s.String())
	}
	b.initializers = append(b.initializers, init)
	return nil
}

// RemoveInitializer drops an initializer. It takes effect on the next load.
func (b *Bridge) RemoveInitializer(init Initializer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.initializers {
		if existing == init {
			b.initializers = append(b.initializers[:i], b.initializers[i+1:]...)
			return true
		}
	}
	return false
}

// Load seals the table, runs every initializer and freezes layouts and
// attributes. On failure the bridge is LoadFailed, the returned
// *errors.LoadError lists every problem of the session and nothing bound
// during the attempt stays visible.
func (b *Bridge) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.State(); s != StateRegistering {
		return errors.InvalidState("load", s.String())
	}

	gen := b.Generation()
	log := b.logger.With(zap.String("session", b.Session()), zap.Uint64("generation", gen))
	b.setState(StateResolving)
	b.table.Seal()

	errs := b.pending
	errs = multierr.Append(errs, b.checkRequired())
	errs = multierr.Append(errs, b.declareSignatureLayouts())
	errs = multierr.Append(errs, b.layouts.Verify(b.strict))

	r := &Resolver{bridge: b, ctx: ctx, generation: gen}
	for _, init := range b.initializers {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		errs = multierr.Append(errs, init.Initialize(r))
	}

	store, err := b.attrs.Build()
	errs = multierr.Append(errs, err)

	if errs != nil {
		b.discard(ctx, gen)
		b.lastErr = errors.NewLoadError(gen, errs)
		b.setState(StateLoadFailed)
		log.Warn("load failed",
			zap.Int("failures", len(multierr.Errors(errs))),
			zap.Error(errs))
		return b.lastErr
	}

	b.store.Store(store)
	b.lastErr = nil
	b.setState(StateReady)
	b.gate.reopen()
	log.Info("bridge ready",
		zap.Int("internal_calls", b.table.Len()),
		zap.Int("layouts", b.layouts.Len()),
		zap.Int("attributes", store.Len()),
		zap.Int("initializers", len(b.initializers)))
	return nil
}

// checkRequired resolves every internal call declared by a manifest and
// compares signatures. Missing calls are reported together.
func (b *Bridge) checkRequired() error {
	var (
		errs       error
		unresolved []string
	)
	seen := make(map[string]bool)
	for _, decl := range b.required {
		p, err := b.table.Resolve(calltable.Identifier(decl.ID))
		if errors.Is(err, errors.ErrUnknownIdentifier) {
			if !seen[decl.ID] {
				seen[decl.ID] = true
				unresolved = append(unresolved, decl.ID)
			}
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !decl.Sig().Equal(p.Signature) {
			errs = multierr.Append(errs, errors.SignatureMismatch(decl.ID,
				decl.Sig().String(), p.Signature.String()))
		}
	}
	if len(unresolved) > 0 {
		errs = multierr.Append(errs, errors.NewUnresolvedCallsError(unresolved))
	}
	return errs
}

// requires reports whether a manifest declared id
func (b *Bridge) requires(id string) bool {
	for _, decl := range b.required {
		if decl.ID == id {
			return true
		}
	}
	return false
}

// declareSignatureLayouts declares the native layout of every Go struct
// passed to or returned from a registered call
func (b *Bridge) declareSignatureLayouts() error {
	var errs error
	for _, e := range b.table.Entries() {
		ft := e.Pointer.Value().Type()
		types := make([]reflect.Type, 0, ft.NumIn()+ft.NumOut())
		for i := 0; i < ft.NumIn(); i++ {
			types = append(types, ft.In(i))
		}
		for i := 0; i < ft.NumOut(); i++ {
			types = append(types, ft.Out(i))
		}
		for _, t := range types {
			if k, _ := abi.KindOf(t); k != abi.KindStruct {
				continue
			}
			if _, ok := b.layouts.Native(abi.TypeNameOf(t)); ok {
				continue
			}
			d, err := layout.FromGo(t)
			if err == nil {
				err = b.layouts.DeclareNative(d)
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// discard undoes what initializers bound during a failed load
func (b *Bridge) discard(ctx context.Context, gen uint64) {
	for _, init := range b.initializers {
		if d, ok := init.(discarder); ok {
			d.discard(gen)
		}
		if u, ok := init.(Unloader); ok {
			if err := u.Unload(ctx); err != nil {
				b.logger.Warn("unload after failed load", zap.Error(err))
			}
		}
	}
}

type discarder interface {
	discard(generation uint64)
}

// Unload waits for in-flight calls, releases every initializer and drops
// the registrations of the current generation. Unloading an Unloaded
// bridge does nothing.
func (b *Bridge) Unload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unload(ctx)
}

func (b *Bridge) unload(ctx context.Context) error {
	s := b.State()
	if s == StateUnloaded {
		return nil
	}
	if err := b.gate.drain(ctx); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidState, err, "waiting for in-flight calls")
	}

	var errs error
	if s == StateReady {
		for _, init := range b.initializers {
			if u, ok := init.(Unloader); ok {
				errs = multierr.Append(errs, u.Unload(ctx))
			}
		}
	}

	prev := b.Generation()
	gen := b.table.Reset()
	b.layouts.Reset()
	b.attrs = metadata.NewBuilder()
	b.store.Store(nil)
	b.required = nil
	b.pending = nil
	b.generation.Store(gen)
	b.setState(StateUnloaded)

	b.logger.Info("bridge unloaded",
		zap.String("session", b.Session()),
		zap.Uint64("generation", prev),
		zap.Uint64("next_generation", gen))
	return errs
}

// Reload unloads the bridge, opens a new session, lets register populate
// it and loads again. Calls made through stale slots in the meantime fail
// with StaleSlot or NotReady; calls already running finish first.
func (b *Bridge) Reload(ctx context.Context, register func(*Bridge) error) error {
	if err := b.Unload(ctx); err != nil {
		return err
	}
	if err := b.Begin(); err != nil {
		return err
	}
	if register != nil {
		if err := register(b); err != nil {
			b.mu.Lock()
			b.record(err)
			b.mu.Unlock()
		}
	}
	return b.Load(ctx)
}

// Acquire enters the reload barrier. The returned release must be called
// once the call has returned; Unload waits for it.
func (b *Bridge) Acquire() (release func(), err error) {
	if !b.gate.enter() {
		return nil, errors.NotReady(errors.PhaseInvoke, "call", b.State().String())
	}
	var once sync.Once
	return func() { once.Do(b.gate.exit) }, nil
}

// Attributes returns the attributes declared on owner, or an empty slice
func (b *Bridge) Attributes(owner string) ([]metadata.Record, error) {
	store := b.store.Load()
	if store == nil || b.State() != StateReady {
		return nil, errors.NotReady(errors.PhaseMetadata, "attribute lookup", b.State().String())
	}
	return store.Lookup(owner), nil
}

// Members returns the declared members of owner, or an empty slice
func (b *Bridge) Members(owner string) ([]metadata.Member, error) {
	store := b.store.Load()
	if store == nil || b.State() != StateReady {
		return nil, errors.NotReady(errors.PhaseMetadata, "member lookup", b.State().String())
	}
	return store.Members(owner), nil
}

// Methods returns the declared methods of owner, or an empty slice
func (b *Bridge) Methods(owner string) ([]metadata.Member, error) {
	store := b.store.Load()
	if store == nil || b.State() != StateReady {
		return nil, errors.NotReady(errors.PhaseMetadata, "method lookup", b.State().String())
	}
	return store.Methods(owner), nil
}

// Layout returns the agreed layout of a struct type
func (b *Bridge) Layout(name string) (*layout.Descriptor, error) {
	if s := b.State(); s != StateReady {
		return nil, errors.NotReady(errors.PhaseLayout, "layout lookup", s.String())
	}
	d, ok := b.layouts.Lookup(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseLayout, "layout", name)
	}
	return d, nil
}

// Layouts returns the layout registry of the current generation
func (b *Bridge) Layouts() *layout.Registry {
	return b.layouts
}
