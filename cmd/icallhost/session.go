package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/bridge"
	"github.com/wippyai/icall-bridge/calltable"
	"github.com/wippyai/icall-bridge/engine"
	"github.com/wippyai/icall-bridge/internal/imagegen"
	"github.com/wippyai/icall-bridge/manifest"
	"go.uber.org/zap"
)

// source says where the manifest and image come from
type source struct {
	manifestPath string
	wasmPath     string
	demo         bool
}

// paths returns the files worth watching
func (src source) paths(m *manifest.Image) []string {
	var out []string
	if src.manifestPath != "" {
		out = append(out, src.manifestPath)
	}
	if !src.demo {
		if p := src.imagePath(m); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (src source) imagePath(m *manifest.Image) string {
	if src.wasmPath != "" {
		return src.wasmPath
	}
	if m != nil {
		return m.ModulePath()
	}
	return ""
}

func (src source) load() (*manifest.Image, []byte, error) {
	var m *manifest.Image
	if src.manifestPath != "" {
		var err error
		m, err = manifest.Load(src.manifestPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if src.demo {
		ns := manifest.DefaultNamespace
		if m != nil {
			ns = m.Namespace
		}
		return m, imagegen.Example(ns), nil
	}
	path := src.imagePath(m)
	if path == "" {
		return nil, nil, fmt.Errorf("no image: pass -wasm, -demo, or a manifest with a module")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read image: %w", err)
	}
	return m, data, nil
}

// session keeps one managed image loaded into a bridge
type session struct {
	log    *zap.Logger
	src    source
	engine *engine.Engine
	bridge *bridge.Bridge
	calls  atomic.Int64

	mu       sync.Mutex
	image    *engine.Image
	manifest *manifest.Image
	instance *engine.Instance
}

func newSession(ctx context.Context, log *zap.Logger, src source, cfg *engine.Config) (*session, error) {
	e, err := engine.NewEngine(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	s := &session{
		log:    log,
		src:    src,
		engine: e,
		bridge: bridge.New(bridge.WithLogger(log)),
	}
	if err := s.bridge.Begin(); err != nil {
		return nil, err
	}
	if err := s.populate(ctx)(s.bridge); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	if err := s.bridge.Load(ctx); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	if err := s.instantiate(ctx); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	return s, nil
}

// populate registers everything a load needs. A new image replaces the
// previous one as initializer.
func (s *session) populate(ctx context.Context) func(b *bridge.Bridge) error {
	return func(b *bridge.Bridge) error {
		m, wasm, err := s.src.load()
		if err != nil {
			return err
		}
		img, err := s.engine.LoadImage(ctx, wasm, m)
		if err != nil {
			return err
		}

		s.mu.Lock()
		old := s.image
		s.image, s.manifest, s.instance = img, m, nil
		s.mu.Unlock()

		if old != nil {
			b.RemoveInitializer(old)
			_ = old.Close(ctx)
		}
		if err := b.AddInitializer(img); err != nil {
			return err
		}
		if m != nil {
			if err := b.DeclareManifest(m); err != nil {
				return err
			}
		}
		return b.RegisterHost(&exampleClass{log: s.log, calls: &s.calls})
	}
}

func (s *session) instantiate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, err := s.image.Instantiate(ctx)
	if err != nil {
		return err
	}
	s.instance = inst
	return nil
}

// reload swaps in the image as it is on disk now
func (s *session) reload(ctx context.Context) error {
	if err := s.bridge.Reload(ctx, s.populate(ctx)); err != nil {
		return err
	}
	return s.instantiate(ctx)
}

func (s *session) close(ctx context.Context) error {
	if err := s.bridge.Unload(ctx); err != nil {
		s.log.Warn("unload", zap.Error(err))
	}
	return s.engine.Close(ctx)
}

// call invokes method with arguments given as text. Struct arguments are
// written as "X=1,Y=2,Z=3".
func (s *session) call(ctx context.Context, method string, texts []string) (any, error) {
	s.mu.Lock()
	img, inst := s.image, s.instance
	s.mu.Unlock()
	if inst == nil {
		return nil, fmt.Errorf("image not instantiated")
	}

	sig, _, err := img.Method(method)
	if err != nil {
		return nil, err
	}
	if len(texts) != len(sig.Params) {
		return nil, fmt.Errorf("%s takes %d argument(s) %s, got %d", method, len(sig.Params), sig, len(texts))
	}
	args := make([]any, len(texts))
	for i, t := range sig.Params {
		args[i], err = parseArg(t, texts[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return inst.Call(ctx, method, args...)
}

func parseArg(t abi.Type, text string) (any, error) {
	if t.Kind != abi.KindStruct {
		return abi.ParseValue(t.Kind, strings.TrimSpace(text))
	}
	fields := make(map[string]string)
	for _, pair := range strings.Split(text, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%s field %q needs name=value", t.Struct, pair)
		}
		fields[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return fields, nil
}

// methodInfo describes a callable method for listings
type methodInfo struct {
	name string
	sig  abi.Signature
}

func (s *session) methods() []methodInfo {
	s.mu.Lock()
	img := s.image
	s.mu.Unlock()

	var out []methodInfo
	for _, name := range img.Methods() {
		sig, _, err := img.Method(name)
		if err != nil {
			continue
		}
		out = append(out, methodInfo{name: name, sig: sig})
	}
	return out
}

func (s *session) describe() string {
	s.mu.Lock()
	img, m := s.image, s.manifest
	s.mu.Unlock()

	var b strings.Builder
	name := "(no manifest)"
	if m != nil {
		name = m.Name
	}
	fmt.Fprintf(&b, "Image: %s\n", name)
	if s.src.manifestPath != "" {
		fmt.Fprintf(&b, "Manifest: %s\n", filepath.Clean(s.src.manifestPath))
	}
	fmt.Fprintf(&b, "Namespace: %s\n", img.Namespace())
	fmt.Fprintf(&b, "State: %s (generation %d, session %s)\n",
		s.bridge.State(), s.bridge.Generation(), s.bridge.Session())

	fmt.Fprintf(&b, "\nInternal calls:\n")
	for _, imp := range img.Imports() {
		status := "unregistered"
		if s.bridge.Table().Has(calltable.Identifier(imp.ID)) {
			status = "registered"
		}
		fmt.Fprintf(&b, "  %s [%s]\n", imp, status)
	}

	fmt.Fprintf(&b, "\nMethods:\n")
	for _, mi := range s.methods() {
		fmt.Fprintf(&b, "  %s%s\n", mi.name, mi.sig)
	}

	names := s.bridge.Layouts().Names()
	if len(names) > 0 {
		fmt.Fprintf(&b, "\nLayouts:\n")
		for _, n := range names {
			if d, err := s.bridge.Layout(n); err == nil {
				fmt.Fprintf(&b, "  %s\n", d)
			}
		}
	}

	if m != nil {
		var owners []string
		for _, t := range m.Types {
			if len(t.Attributes) > 0 {
				owners = append(owners, t.Name)
			}
			for _, md := range t.Members {
				if len(md.Attributes) > 0 {
					owners = append(owners, t.Name+"."+md.Name)
				}
			}
		}
		sort.Strings(owners)

		first := true
		for _, t := range m.Types {
			members, err := s.bridge.Members(t.Name)
			if err != nil || len(members) == 0 {
				continue
			}
			if first {
				fmt.Fprintf(&b, "\nMembers:\n")
				first = false
			}
			for _, mem := range members {
				fmt.Fprintf(&b, "  %s: %s\n", t.Name, mem)
			}
		}

		if len(owners) > 0 {
			fmt.Fprintf(&b, "\nAttributes:\n")
			for _, owner := range owners {
				recs, err := s.bridge.Attributes(owner)
				if err != nil {
					continue
				}
				for _, r := range recs {
					fmt.Fprintf(&b, "  %s: %s %v\n", owner, r.Name, r.Fields)
				}
			}
		}
	}
	return b.String()
}
