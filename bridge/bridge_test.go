package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
	"github.com/wippyai/icall-bridge/layout"
	"github.com/wippyai/icall-bridge/manifest"
	"github.com/wippyai/icall-bridge/metadata"
)

const testCall = "Example.Managed.ExampleClass.TestInternalCall"

func subtractTen(v float32) float32 { return v - 10 }

type MyVec3 struct {
	X, Y, Z float32
}

func lengthSquared(v MyVec3) float32 { return v.X*v.X + v.Y*v.Y + v.Z*v.Z }

func begin(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	b := New(opts...)
	if err := b.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return b
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	b := New(WithSessionIDs(func() string { return "session-1" }))

	if b.State() != StateUnloaded {
		t.Fatalf("initial state = %s", b.State())
	}
	if err := b.Load(ctx); !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("Load before Begin: %v", err)
	}
	if err := b.Register(testCall, subtractTen); !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("Register before Begin: %v", err)
	}

	if err := b.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if b.State() != StateRegistering || b.Session() != "session-1" {
		t.Fatalf("after Begin: state %s, session %q", b.State(), b.Session())
	}
	if err := b.Begin(); !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("second Begin: %v", err)
	}

	if err := b.Register(testCall, subtractTen); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := b.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.State() != StateReady {
		t.Fatalf("after Load: %s", b.State())
	}
	if err := b.Register("Other.Call", subtractTen); !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("Register while ready: %v", err)
	}

	gen := b.Generation()
	if err := b.Unload(ctx); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if b.State() != StateUnloaded {
		t.Fatalf("after Unload: %s", b.State())
	}
	if b.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d", b.Generation(), gen+1)
	}
	if b.Table().Len() != 0 {
		t.Errorf("table kept %d entries", b.Table().Len())
	}
	if err := b.Unload(ctx); err != nil {
		t.Errorf("Unload when unloaded: %v", err)
	}
}

func TestSlotRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := begin(t)

	slot, err := NewSlot[func(float32) float32](b, testCall)
	if err != nil {
		t.Fatalf("NewSlot: %v", err)
	}
	if _, err := slot.Get(); !errors.Is(err, errors.ErrNotReady) {
		t.Fatalf("Get before Load: %v", err)
	}
	if err := b.Register(testCall, subtractTen); err != nil {
		t.Fatal(err)
	}
	if err := b.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fn, err := slot.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := fn(50); got != 40 {
		t.Errorf("fn(50) = %v, want 40", got)
	}

	var got float32
	err = slot.Call(func(f func(float32) float32) error {
		got = f(15)
		return nil
	})
	if err != nil || got != 5 {
		t.Errorf("Call: %v, %v", got, err)
	}
	if !slot.Bound() {
		t.Error("slot should be bound")
	}
}

func TestNewSlotErrors(t *testing.T) {
	b := begin(t)
	tests := []struct {
		name string
		make func() error
		kind errors.Kind
	}{
		{"invalid id", func() error {
			_, err := NewSlot[func()](b, "no..segments")
			return err
		}, errors.KindInvalidInput},
		{"not a function", func() error {
			_, err := NewSlot[int](b, testCall)
			return err
		}, errors.KindSignatureMismatch},
		{"int is not sized", func() error {
			_, err := NewSlot[func(int) int](b, testCall)
			return err
		}, errors.KindSignatureMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.make()
			var e *errors.Error
			if !errors.As(err, &e) || e.Kind != tt.kind {
				t.Fatalf("error = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *Bridge)
		want  error
	}{
		{
			name: "unknown identifier",
			setup: func(b *Bridge) {
				_, _ = NewSlot[func(float32) float32](b, "Missing.Call")
			},
			want: errors.ErrUnknownIdentifier,
		},
		{
			name: "duplicate identifier",
			setup: func(b *Bridge) {
				_ = b.Register(testCall, subtractTen)
				_ = b.Register(testCall, subtractTen)
			},
			want: errors.ErrDuplicateIdentifier,
		},
		{
			name: "signature mismatch",
			setup: func(b *Bridge) {
				_ = b.Register(testCall, subtractTen)
				_, _ = NewSlot[func(float64) float64](b, testCall)
			},
			want: errors.ErrSignatureMismatch,
		},
		{
			name: "layout mismatch",
			setup: func(b *Bridge) {
				_ = b.Register("Vec.LengthSquared", lengthSquared)
				managed, _ := layout.NewBuilder("MyVec3").
					Field("X", abi.KindF32).
					Field("Y", abi.KindF64).
					Field("Z", abi.KindF32).
					Build()
				_ = b.DeclareManagedLayout(managed)
			},
			want: errors.ErrLayoutMismatch,
		},
		{
			name: "duplicate attribute",
			setup: func(b *Bridge) {
				_ = b.DeclareAttribute("Example.Managed.ExampleClass", "Custom", nil)
				_ = b.DeclareAttribute("Example.Managed.ExampleClass", "Custom", nil)
			},
			want: errors.ErrDuplicateIdentifier,
		},
		{
			name: "initializer error",
			setup: func(b *Bridge) {
				_ = b.AddInitializer(InitializerFunc(func(r *Resolver) error {
					_, err := r.Resolve("Nobody.Home")
					return err
				}))
			},
			want: errors.ErrUnknownIdentifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := begin(t)
			tt.setup(b)
			err := b.Load(context.Background())
			if err == nil {
				t.Fatal("Load should fail")
			}
			var le *errors.LoadError
			if !errors.As(err, &le) {
				t.Fatalf("error %T is not a *LoadError: %v", err, err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error %v does not match %v", err, tt.want)
			}
			if b.State() != StateLoadFailed {
				t.Errorf("state = %s, want load_failed", b.State())
			}
			if b.Err() != err {
				t.Error("Err should return the load error")
			}
		})
	}
}

func TestFailedLoadLeavesNoSlotBound(t *testing.T) {
	ctx := context.Background()
	b := begin(t)

	good, _ := NewSlot[func(float32) float32](b, testCall)
	bad, _ := NewSlot[func(int32) int32](b, testCall)
	_ = b.Register(testCall, subtractTen)

	err := b.Load(ctx)
	if !errors.Is(err, errors.ErrSignatureMismatch) {
		t.Fatalf("Load: %v", err)
	}
	for _, s := range []interface{ Bound() bool }{good, bad} {
		if s.Bound() {
			t.Error("slot bound after a failed load")
		}
	}
	if good.cell.Load() != nil {
		t.Error("binding of the failed generation was kept")
	}
	if _, err := good.Get(); !errors.Is(err, errors.ErrNotReady) {
		t.Errorf("Get after failed load: %v", err)
	}

	if err := b.Begin(); !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("Begin from load_failed: %v", err)
	}
	if err := b.Unload(ctx); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if b.Err() == nil {
		t.Error("last load error should survive Unload")
	}
}

func TestAttributes(t *testing.T) {
	ctx := context.Background()
	b := begin(t)

	const owner = "Example.Managed.ExampleClass"
	_ = b.DeclareAttribute(owner, "Custom", map[string]any{"Value": -2500.0})

	if _, err := b.Attributes(owner); !errors.Is(err, errors.ErrNotReady) {
		t.Fatalf("Attributes before Load: %v", err)
	}
	if err := b.Load(ctx); err != nil {
		t.Fatal(err)
	}

	recs, err := b.Attributes(owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Name != "Custom" {
		t.Fatalf("records = %+v", recs)
	}
	if v, ok := recs[0].Float32("Value"); !ok || v != -2500 {
		t.Errorf("Value = %v, %v", v, ok)
	}

	none, err := b.Attributes("Example.Managed.Undecorated")
	if err != nil {
		t.Fatal(err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("undecorated owner: %#v", none)
	}
}

const memberManifest = `
name = "Example.Managed"

[[types]]
name = "Example.Managed.ExampleClass"

  [[types.members]]
  name = "StaticMethod"
  kind = "method"
  static = true
  signature = "(f32) -> f32"

    [[types.members.attributes]]
    name = "Obsolete"
    fields = { Message = "use MemberMethod" }

  [[types.members]]
  name = "PublicProp"
  kind = "property"
  type = "s32"
`

func TestMembers(t *testing.T) {
	ctx := context.Background()
	m, err := manifest.Parse([]byte(memberManifest))
	if err != nil {
		t.Fatal(err)
	}

	const owner = "Example.Managed.ExampleClass"
	b := begin(t)
	if err := b.DeclareManifest(m); err != nil {
		t.Fatal(err)
	}
	if err := b.DeclareMember(metadata.Member{
		Owner: owner, Name: "myPrivateValue", Kind: metadata.MemberField, Type: abi.Prim(abi.KindS32),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Methods(owner); !errors.Is(err, errors.ErrNotReady) {
		t.Fatalf("Methods before Load: %v", err)
	}
	if err := b.Load(ctx); err != nil {
		t.Fatal(err)
	}

	members, err := b.Members(owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %v", members)
	}
	methods, err := b.Methods(owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 1 || methods[0].Name != "StaticMethod" || !methods[0].Static {
		t.Fatalf("methods = %v", methods)
	}

	recs, err := b.Attributes(methods[0].Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Name != "Obsolete" {
		t.Errorf("member attributes = %+v", recs)
	}

	if err := b.DeclareMember(metadata.Member{Owner: owner, Name: "Late", Kind: metadata.MemberMethod}); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("DeclareMember while ready = %v", err)
	}
}

func TestDuplicateMemberFailsLoad(t *testing.T) {
	b := begin(t)
	member := metadata.Member{Owner: "Example.Managed.ExampleClass", Name: "PublicProp", Kind: metadata.MemberProperty, Type: abi.Prim(abi.KindS32)}
	_ = b.DeclareMember(member)
	_ = b.DeclareMember(member)
	if err := b.Load(context.Background()); !errors.Is(err, errors.ErrDuplicateIdentifier) {
		t.Fatalf("Load = %v", err)
	}
	if b.State() != StateLoadFailed {
		t.Errorf("state = %s", b.State())
	}
}

func TestLayoutAgreement(t *testing.T) {
	ctx := context.Background()
	b := begin(t)

	_ = b.Register("Example.Managed.ExampleClass.LengthSquared", lengthSquared)
	managed, err := layout.NewBuilder("MyVec3").
		Field("x", abi.KindF32).
		Field("y", abi.KindF32).
		Field("z", abi.KindF32).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	_ = b.DeclareManagedLayout(managed)
	slot, _ := NewSlot[func(MyVec3) float32](b, "Example.Managed.ExampleClass.LengthSquared")

	if _, err := b.Layout("MyVec3"); !errors.Is(err, errors.ErrNotReady) {
		t.Fatalf("Layout before Load: %v", err)
	}
	if err := b.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	d, err := b.Layout("MyVec3")
	if err != nil {
		t.Fatal(err)
	}
	if d.Size != 12 || d.Align != 4 {
		t.Errorf("layout %s", d)
	}
	fn, err := slot.Get()
	if err != nil {
		t.Fatal(err)
	}
	if got := fn(MyVec3{1, 2, 3}); got != 14 {
		t.Errorf("LengthSquared = %v", got)
	}
	if _, err := b.Layout("Missing"); err == nil {
		t.Error("unknown layout should fail")
	}
}

func TestStrictLayouts(t *testing.T) {
	b := begin(t, WithStrictLayouts())
	_ = b.Register("Vec.LengthSquared", lengthSquared)
	if err := b.Load(context.Background()); !errors.Is(err, errors.ErrLayoutMismatch) {
		t.Fatalf("strict load without managed layout: %v", err)
	}

	managedOnly, _ := layout.NewBuilder("OnlyManaged").Field("X", abi.KindF32).Build()
	b = begin(t, WithStrictLayouts())
	_ = b.DeclareManagedLayout(managedOnly)
	if err := b.Load(context.Background()); !errors.Is(err, errors.ErrLayoutMismatch) {
		t.Fatalf("strict load without native layout: %v", err)
	}

	b = begin(t)
	_ = b.DeclareManagedLayout(managedOnly)
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("managed-only layout outside strict mode: %v", err)
	}
}

const requiredManifest = `
name = "Example.Managed"

[[internal_calls]]
id = "Example.Managed.ExampleClass.TestInternalCall"
signature = "(f32) -> f32"

[[internal_calls]]
id = "Example.Managed.ExampleClass.NeverRegistered"
signature = "(f32) -> f32"
`

func TestManifestRequiredCalls(t *testing.T) {
	m, err := manifest.Parse([]byte(requiredManifest))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		register func(b *Bridge)
		want     error
	}{
		{
			name: "missing call",
			register: func(b *Bridge) {
				_ = b.Register(testCall, subtractTen)
			},
			want: errors.ErrUnknownIdentifier,
		},
		{
			name: "wrong signature",
			register: func(b *Bridge) {
				_ = b.Register(testCall, func(v float64) float64 { return v })
				_ = b.Register("Example.Managed.ExampleClass.NeverRegistered", subtractTen)
			},
			want: errors.ErrSignatureMismatch,
		},
		{
			name: "all registered",
			register: func(b *Bridge) {
				_ = b.Register(testCall, subtractTen)
				_ = b.Register("Example.Managed.ExampleClass.NeverRegistered", subtractTen)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := begin(t)
			if err := b.DeclareManifest(m); err != nil {
				t.Fatal(err)
			}
			tt.register(b)
			err := b.Load(context.Background())
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Load = %v, want %v", err, tt.want)
			}
			if b.State() != StateLoadFailed {
				t.Errorf("state = %s", b.State())
			}
		})
	}
}

func TestReloadStaleness(t *testing.T) {
	ctx := context.Background()
	b := begin(t)
	slot, _ := NewSlot[func(float32) float32](b, testCall)
	_ = b.Register(testCall, subtractTen)
	if err := b.Load(ctx); err != nil {
		t.Fatal(err)
	}
	firstGen := b.Generation()

	if err := b.Unload(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := slot.Get()
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindStaleSlot {
		t.Fatalf("Get after Unload: %v", err)
	}
	if e.Value != firstGen {
		t.Errorf("stale generation = %v, want %d", e.Value, firstGen)
	}
	if err := slot.Call(func(func(float32) float32) error { return nil }); !errors.Is(err, errors.ErrStaleSlot) {
		t.Errorf("Call after Unload: %v", err)
	}

	err = b.Reload(ctx, func(b *Bridge) error {
		return b.Register(testCall, func(v float32) float32 { return v * 2 })
	})
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	fn, err := slot.Get()
	if err != nil {
		t.Fatalf("Get after Reload: %v", err)
	}
	if got := fn(4); got != 8 {
		t.Errorf("rebound fn(4) = %v, want 8", got)
	}
	if b.Generation() != firstGen+1 {
		t.Errorf("generation = %d", b.Generation())
	}
}

func TestReloadRegisterError(t *testing.T) {
	ctx := context.Background()
	b := begin(t)
	if err := b.Load(ctx); err != nil {
		t.Fatal(err)
	}
	err := b.Reload(ctx, func(b *Bridge) error {
		return errors.InvalidInput(errors.PhaseRegister, "image missing")
	})
	if err == nil || b.State() != StateLoadFailed {
		t.Fatalf("Reload: %v, state %s", err, b.State())
	}
}

type drainCheck struct {
	active     *atomic.Int32
	violations atomic.Int32
}

func (d *drainCheck) Initialize(*Resolver) error { return nil }

func (d *drainCheck) Unload(context.Context) error {
	if d.active.Load() != 0 {
		d.violations.Add(1)
	}
	return nil
}

func TestConcurrentCallsAcrossReload(t *testing.T) {
	ctx := context.Background()
	var active atomic.Int32
	slow := func(v float32) float32 {
		active.Add(1)
		defer active.Add(-1)
		time.Sleep(50 * time.Microsecond)
		return v - 10
	}
	register := func(b *Bridge) error { return b.Register(testCall, slow) }

	b := begin(t)
	slot, _ := NewSlot[func(float32) float32](b, testCall)
	check := &drainCheck{active: &active}
	_ = b.AddInitializer(check)
	_ = register(b)
	if err := b.Load(ctx); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var ok, rejected atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				err := slot.Call(func(f func(float32) float32) error {
					if f(50) != 40 {
						t.Error("wrong result")
					}
					return nil
				})
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, errors.ErrStaleSlot), errors.Is(err, errors.ErrNotReady):
					rejected.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		if err := b.Reload(ctx, register); err != nil {
			t.Errorf("Reload %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	if v := check.violations.Load(); v != 0 {
		t.Errorf("%d unloads ran with calls in flight", v)
	}
	if ok.Load() == 0 {
		t.Error("no call succeeded")
	}
	if b.gate.inFlight() != 0 {
		t.Errorf("%d calls still counted in flight", b.gate.inFlight())
	}
}

func TestUnloadWaitsForContext(t *testing.T) {
	b := begin(t)
	if err := b.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	release, err := b.Acquire()
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Unload(ctx); err == nil {
		t.Fatal("Unload should give up while a call is in flight")
	}
	if b.State() != StateReady {
		t.Fatalf("state = %s, want ready", b.State())
	}
	again, err := b.Acquire()
	if err != nil {
		t.Fatalf("gate should reopen: %v", err)
	}
	again()
	release()
	release()

	if err := b.Unload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Acquire(); !errors.Is(err, errors.ErrNotReady) {
		t.Errorf("Acquire after Unload: %v", err)
	}
}

func TestInitializerOrder(t *testing.T) {
	b := begin(t)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		_ = b.AddInitializer(InitializerFunc(func(r *Resolver) error {
			order = append(order, i)
			if r.Generation() != b.Generation() {
				t.Errorf("resolver generation %d, bridge %d", r.Generation(), b.Generation())
			}
			return nil
		}))
	}
	if err := b.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Errorf("order = %v", order)
	}
	if err := b.AddInitializer(InitializerFunc(func(*Resolver) error { return nil })); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("AddInitializer while ready: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnloaded, "unloaded"},
		{StateRegistering, "registering"},
		{StateResolving, "resolving"},
		{StateReady, "ready"},
		{StateLoadFailed, "load_failed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q", got)
			}
		})
	}
}
