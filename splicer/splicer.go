// Package splicer is the Orchestrator (spec §4.7): it wires the Module
// Model, WASI Stubber, Import Synthesizer, Export Synthesizer, and Script
// Generator into the two public operations of this tool -- stubbing an
// engine's WASI imports, and splicing a full component out of an engine
// plus a resolved import/export catalog.
package splicer

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/exportsynth"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/importsynth"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/scriptgen"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/waistub"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm/binary"
)

// overriddenExports are world-level exports a component host always
// provides itself; if the engine happens to define them they are
// dropped before stubbing so the synthesized exports win (spec §4.7).
var overriddenExports = []string{
	"wasi:cli/run@0.2.0#run",
	"wasi:http/incoming-handler@0.2.0#handle",
}

const bindingsCustomSection = "component-type:bindings"

// Options configures one splice run.
type Options struct {
	// Imports and Exports are the resolver's catalogs, in declaration
	// order (spec §4.2).
	Imports []api.ImportDecl
	Exports []api.ExportDecl
	// Features gates which WASI imports the stubber leaves untouched.
	Features api.FeatureSet
	// Debug downgrades one template-extraction failure in the Import
	// Synthesizer, a coreabi_sample_i32 body with no nested prelude
	// block, to a logged warning instead of an error; every other
	// template failure is still returned as an error.
	Debug bool
	// BuildTimeNanos is embedded into the stubbed clock_time_get body.
	BuildTimeNanos int64
	// SourceName is the module specifier the generated script imports
	// the user's source module under (spec §4.6 step 1).
	SourceName string
}

// Result is the orchestrator's output: the spliced binary and its
// companion script (spec §6).
type Result struct {
	Wasm   []byte
	Script string
}

// Splice runs the full pipeline: parse -> strip overridden exports ->
// strip the component-type:bindings custom section -> stub WASI -> synth
// imports -> synth exports -> serialize, and separately renders the
// companion script from the same resolver output (spec §4.7).
func Splice(engine []byte, opts Options) (*Result, error) {
	m, err := binary.DecodeModule(engine)
	if err != nil {
		return nil, err
	}

	for _, name := range overriddenExports {
		if _, ok := m.FindExport(name); ok {
			logrus.WithField("export", name).Debug("dropping overridden export")
			m.DeleteFunctionAndExport(name)
		}
	}
	m.DeleteCustomSection(bindingsCustomSection)

	if err := waistub.Stub(m, opts.Features, opts.BuildTimeNanos); err != nil {
		return nil, errors.Wrap(err, "stubbing WASI imports")
	}
	if err := importsynth.Synthesize(m, opts.Imports, opts.Debug); err != nil {
		return nil, errors.Wrap(err, "synthesizing imports")
	}
	if err := exportsynth.Synthesize(m, opts.Exports); err != nil {
		return nil, errors.Wrap(err, "synthesizing exports")
	}

	script, err := scriptgen.Generate(opts.Imports, opts.Exports, opts.SourceName)
	if err != nil {
		return nil, errors.Wrap(err, "generating companion script")
	}

	logrus.WithFields(logrus.Fields{
		"imports": len(opts.Imports),
		"exports": len(opts.Exports),
	}).Info("splice complete")

	return &Result{Wasm: binary.EncodeModule(m), Script: script}, nil
}

// StubWasi runs only the WASI Stubber (spec §4.3) and reserializes,
// leaving the engine's template exports and import/export catalog
// otherwise untouched. This backs the `stub-wasi` CLI subcommand (spec
// §6), used standalone when a caller wants to inspect the intermediate
// module before splicing.
func StubWasi(engine []byte, features api.FeatureSet, buildTimeNanos int64) ([]byte, error) {
	m, err := binary.DecodeModule(engine)
	if err != nil {
		return nil, err
	}
	if err := waistub.Stub(m, features, buildTimeNanos); err != nil {
		return nil, errors.Wrap(err, "stubbing WASI imports")
	}
	return binary.EncodeModule(m), nil
}
