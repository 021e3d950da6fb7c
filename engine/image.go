package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	icall "github.com/wippyai/icall-bridge"
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/bridge"
	"github.com/wippyai/icall-bridge/errors"
	"github.com/wippyai/icall-bridge/manifest"
	"github.com/wippyai/icall-bridge/thunk"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	_ bridge.Initializer = (*Image)(nil)
	_ bridge.Unloader    = (*Image)(nil)
)

// Image is a compiled managed image. Added to a bridge as an initializer,
// it links its imports against the call table on every load.
type Image struct {
	engine    *Engine
	compiled  wazero.CompiledModule
	manifest  *manifest.Image
	namespace string
	imports   []Import
	messages  bool

	mu         sync.Mutex
	bridge     *bridge.Bridge
	host       api.Module
	generation uint64
	instances  map[*Instance]struct{}
}

// Namespace returns the module name the image imports internal calls from
func (img *Image) Namespace() string {
	return img.namespace
}

// Manifest returns the manifest the image was loaded with, or nil
func (img *Image) Manifest() *manifest.Image {
	return img.manifest
}

// Imports returns the internal calls the image needs. The message import
// is served by the engine and not listed.
func (img *Image) Imports() []Import {
	out := make([]Import, len(img.imports))
	copy(out, img.imports)
	return out
}

// Messages reports whether the image imports manifest.MessageImport
func (img *Image) Messages() bool {
	return img.messages
}

// Exports returns the exported function definitions by name
func (img *Image) Exports() map[string]api.FunctionDefinition {
	return img.compiled.ExportedFunctions()
}

// Initialize resolves every import and instantiates the host module that
// serves them. All imports nobody registered are reported in one
// *errors.UnresolvedCallsError, except those the bridge already checks
// as required by a declared manifest.
func (img *Image) Initialize(r *bridge.Resolver) error {
	log := Logger().With(zap.String("namespace", img.namespace), zap.Uint64("generation", r.Generation()))

	builder := img.engine.runtime.NewHostModuleBuilder(img.namespace)
	var (
		unresolved []string
		errs       error
		skipped    bool
	)
	for _, imp := range img.imports {
		raw, err := r.Compile(imp.ID)
		if err != nil {
			switch {
			case errors.Is(err, errors.ErrUnknownIdentifier) && r.Required(imp.ID):
				skipped = true
			case errors.Is(err, errors.ErrUnknownIdentifier):
				unresolved = append(unresolved, imp.ID)
			default:
				errs = multierr.Append(errs, err)
			}
			continue
		}
		if img.manifest != nil {
			if decl, ok := img.manifest.Call(imp.ID); ok && !decl.Sig().Equal(raw.Pointer().Signature) {
				if r.Required(imp.ID) {
					skipped = true
				} else {
					errs = multierr.Append(errs, errors.SignatureMismatch(imp.ID,
						decl.Sig().String(), raw.Pointer().Signature.String()))
				}
				continue
			}
		}
		if err := raw.CheckFlat(imp.Params, imp.Results); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(hostFunc(raw), imp.Params, imp.Results).
			WithName(imp.ID).
			Export(imp.ID)
	}
	if img.messages {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(img.engine.messageFunc(), messageParams, nil).
			WithName(manifest.MessageImport).
			Export(manifest.MessageImport)
	}
	if len(unresolved) > 0 {
		errs = multierr.Append(errs, errors.NewUnresolvedCallsError(unresolved))
	}
	if errs != nil || skipped {
		return errs
	}

	host, err := builder.Instantiate(r.Context())
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidState, err, "instantiate host module "+img.namespace)
	}

	img.mu.Lock()
	img.bridge = r.Bridge()
	img.host = host
	img.generation = r.Generation()
	img.mu.Unlock()

	log.Debug("image linked", zap.Int("imports", len(img.imports)))
	return nil
}

// hostFunc adapts a trampoline to wazero. A failing call panics, which
// wazero turns into an error returned from the guest call. While the
// callee runs, the calling instance accepts nested calls.
func hostFunc(raw *thunk.Raw) api.GoModuleFunc {
	if raw.Fast() {
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			if inst := calleeOf(ctx); inst != nil {
				inst.callees.Add(1)
				defer inst.callees.Add(-1)
			}
			if err := raw.Call(nil, stack); err != nil {
				panic(err)
			}
		}
	}
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		if inst := calleeOf(ctx); inst != nil {
			inst.callees.Add(1)
			defer inst.callees.Add(-1)
		}
		var mem icall.Memory
		if m := mod.Memory(); m != nil {
			mem = NewMemory(m)
		}
		if err := raw.Call(mem, stack); err != nil {
			panic(err)
		}
	}
}

// Unload closes every instance and the host module of the current
// generation
func (img *Image) Unload(ctx context.Context) error {
	img.mu.Lock()
	instances := img.instances
	img.instances = make(map[*Instance]struct{})
	host := img.host
	img.host = nil
	img.mu.Unlock()

	var errs error
	for inst := range instances {
		errs = multierr.Append(errs, inst.close(ctx))
	}
	if host != nil {
		errs = multierr.Append(errs, host.Close(ctx))
	}
	if len(instances) > 0 || host != nil {
		Logger().Debug("image unloaded",
			zap.String("namespace", img.namespace),
			zap.Int("instances", len(instances)))
	}
	return errs
}

// Instantiate creates an instance linked to the current generation
func (img *Image) Instantiate(ctx context.Context) (*Instance, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.host == nil || img.bridge == nil {
		return nil, errors.NotReady(errors.PhaseLoad, "instantiate", "unlinked")
	}

	mod, err := img.engine.runtime.InstantiateModule(ctx, img.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidState, err, "instantiate image")
	}

	inst := &Instance{
		image:      img,
		module:     mod,
		bridge:     img.bridge,
		generation: img.generation,
	}
	if m := mod.Memory(); m != nil {
		inst.memory = NewMemory(m)
		scratch, err := NewScratchAllocator(m, img.engine.cfg.ScratchPages)
		if err != nil {
			_ = mod.Close(ctx)
			return nil, err
		}
		inst.scratch = scratch
	}
	img.instances[inst] = struct{}{}
	return inst, nil
}

func (img *Image) forget(inst *Instance) {
	img.mu.Lock()
	delete(img.instances, inst)
	img.mu.Unlock()
}

// Method returns the signature and export name of a managed method. A
// method the manifest does not declare is looked up among the exports and
// typed from its wasm signature.
func (img *Image) Method(name string) (abi.Signature, string, error) {
	if img.manifest != nil {
		if decl, ok := img.manifest.Method(name); ok {
			return decl.Sig(), decl.Export, nil
		}
	}
	def, ok := img.compiled.ExportedFunctions()[name]
	if !ok {
		return abi.Signature{}, "", errors.NotFound(errors.PhaseInvoke, "method", name)
	}
	sig, err := flatSignature(def)
	if err != nil {
		return abi.Signature{}, "", err
	}
	return sig, name, nil
}

// Methods returns the methods the manifest declares followed by the
// remaining exports, sorted
func (img *Image) Methods() []string {
	var names []string
	declared := make(map[string]bool)
	if img.manifest != nil {
		for _, m := range img.manifest.Methods {
			names = append(names, m.Name)
			declared[m.Export] = true
		}
	}
	var rest []string
	for name := range img.compiled.ExportedFunctions() {
		if !declared[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// Close releases the compiled image. Instances must be closed first.
func (img *Image) Close(ctx context.Context) error {
	return img.compiled.Close(ctx)
}
