// Package splicererr defines the sentinel error kinds reported by every
// stage of the splicer (spec §7). Internal packages wrap these with
// github.com/pkg/errors so callers can recover the sentinel with
// errors.Is/errors.Cause while still seeing the call-site context in the
// message.
package splicererr

import "errors"

var (
	// MalformedBinary is returned when the input bytes do not parse as a
	// valid WebAssembly module.
	MalformedBinary = errors.New("malformed WebAssembly binary")

	// TemplateMissing is returned when the engine module does not meet
	// the template-export contract spec §6 requires (missing
	// coreabi_get_import, a stale table index constant, and so on).
	TemplateMissing = errors.New("engine module is missing a required template export or pattern")

	// StubTargetMissing is returned when a WASI import named in the
	// stubber's allow-list is not present in the module.
	StubTargetMissing = errors.New("stub target import not found in module")

	// UnsupportedStringEncoding is returned when the interface resolver
	// reports a string encoding other than UTF-8.
	UnsupportedStringEncoding = errors.New("unsupported string encoding: only UTF-8 is supported")

	// ModelCorrupt is returned when an internal consistency check fails:
	// a function body that cannot be walked while renumbering function
	// indices, a duplicate script binding name, or a generated script that
	// does not parse. Serialization itself performs no checks and never
	// returns it.
	ModelCorrupt = errors.New("module model is internally inconsistent")

	// IoFailure is returned by the CLI layer for filesystem errors.
	IoFailure = errors.New("I/O failure")
)
