package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
	"github.com/wippyai/icall-bridge/manifest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// ScratchPages is the number of pages each instance reserves for struct
	// arguments and return areas of host-initiated calls. 0 means 1.
	ScratchPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	EnableThreads bool

	// MessageLevel is the lowest level of managed messages delivered.
	// The zero value is zapcore.InfoLevel.
	MessageLevel zapcore.Level

	// OnMessage receives managed messages. nil logs them through Logger().
	OnMessage func(level zapcore.Level, message string)

	// OnTrap is called when a managed method fails, before the error is
	// returned to the caller. nil reports the failure as an error message.
	OnTrap func(method string, err error)
}

// Engine compiles and runs managed images
type Engine struct {
	runtime wazero.Runtime
	cfg     Config
}

// NewEngine creates an engine. cfg may be nil.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	var c Config
	if cfg != nil {
		c = *cfg
		if c.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
		}
		if c.EnableThreads {
			runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		}
	}
	if c.ScratchPages == 0 {
		c.ScratchPages = 1
	}

	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     c,
	}, nil
}

// Close releases the runtime and everything instantiated in it
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// message delivers a managed message at or above the configured level
func (e *Engine) message(level zapcore.Level, text string) {
	if level < e.cfg.MessageLevel {
		return
	}
	if e.cfg.OnMessage != nil {
		e.cfg.OnMessage(level, text)
		return
	}
	if ce := Logger().Check(level, text); ce != nil {
		ce.Write(zap.String("source", "managed"))
	}
}

func (e *Engine) trap(method string, err error) {
	if e.cfg.OnTrap != nil {
		e.cfg.OnTrap(method, err)
		return
	}
	e.message(zapcore.ErrorLevel, fmt.Sprintf("%s: %v", method, err))
}

// MessageLevel maps a managed message level to a zap level
func MessageLevel(v uint32) (zapcore.Level, bool) {
	switch v {
	case manifest.MessageInfo:
		return zapcore.InfoLevel, true
	case manifest.MessageWarning:
		return zapcore.WarnLevel, true
	case manifest.MessageError:
		return zapcore.ErrorLevel, true
	}
	return zapcore.InvalidLevel, false
}

var messageParams = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}

// messageFunc serves manifest.MessageImport. A bad level or a text
// outside memory traps the guest.
func (e *Engine) messageFunc() api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		if inst := calleeOf(ctx); inst != nil {
			inst.callees.Add(1)
			defer inst.callees.Add(-1)
		}
		raw := api.DecodeU32(stack[0])
		level, ok := MessageLevel(raw)
		if !ok {
			panic(errors.InvalidInput(errors.PhaseInvoke, fmt.Sprintf("message level %d", raw)))
		}
		m := mod.Memory()
		if m == nil {
			panic(errors.New(errors.PhaseInvoke, errors.KindOutOfBounds).
				Identifier(manifest.MessageImport).
				Detail("image has no memory").
				Build())
		}
		data, err := NewMemory(m).Read(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
		if err != nil {
			panic(err)
		}
		e.message(level, string(data))
	}
}

// Import is one internal call a managed image imports
type Import struct {
	ID      string
	Params  []api.ValueType
	Results []api.ValueType
}

func (imp Import) String() string {
	return fmt.Sprintf("%s %s", imp.ID, flatString(imp.Params, imp.Results))
}

// LoadImage compiles wasm. m describes the image and may be nil, in which
// case imports are expected in manifest.DefaultNamespace and export
// signatures come from their wasm types.
func (e *Engine) LoadImage(ctx context.Context, wasm []byte, m *manifest.Image) (*Image, error) {
	ns := manifest.DefaultNamespace
	if m != nil && m.Namespace != "" {
		ns = m.Namespace
	}

	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "compile image")
	}

	img := &Image{
		engine:    e,
		compiled:  compiled,
		manifest:  m,
		namespace: ns,
		instances: make(map[*Instance]struct{}),
	}

	var problems error
	for _, fn := range compiled.ImportedFunctions() {
		modName, name, _ := fn.Import()
		if modName != ns {
			problems = errors.Unsupported(errors.PhaseLoad,
				fmt.Sprintf("import %s.%s is outside namespace %q", modName, name, ns))
			break
		}
		imp := Import{ID: name, Params: fn.ParamTypes(), Results: fn.ResultTypes()}
		if name == manifest.MessageImport {
			if !equalTypes(imp.Params, messageParams) || len(imp.Results) > 0 {
				problems = errors.SignatureMismatch(name,
					flatString(messageParams, nil),
					flatString(imp.Params, imp.Results))
				break
			}
			img.messages = true
			continue
		}
		if m != nil {
			if decl, ok := m.Call(name); ok {
				params, results := decl.Sig().Flat()
				if !equalTypes(params, imp.Params) || !equalTypes(results, imp.Results) {
					problems = errors.SignatureMismatch(name,
						fmt.Sprintf("%s %s", decl.Sig(), flatString(params, results)),
						flatString(imp.Params, imp.Results))
					break
				}
			}
		}
		img.imports = append(img.imports, imp)
	}
	if problems != nil {
		_ = compiled.Close(ctx)
		return nil, problems
	}

	Logger().Debug("image compiled",
		zap.String("namespace", ns),
		zap.Int("imports", len(img.imports)),
		zap.Int("exports", len(compiled.ExportedFunctions())))
	return img, nil
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func flatString(params, results []api.ValueType) string {
	s := "("
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(p)
	}
	s += ")"
	if len(results) > 0 {
		s += " -> " + api.ValueTypeName(results[0])
	}
	return s
}

// flatSignature derives a signature for an export no manifest describes
func flatSignature(def api.FunctionDefinition) (abi.Signature, error) {
	return abi.FlatSignature(def.ParamTypes(), def.ResultTypes())
}
