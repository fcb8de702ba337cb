// Package waistub implements the WASI Stubber (spec §4.3): it replaces a
// fixed allow-list of wasi_snapshot_preview1 imports with inert local
// function bodies, parametrised by a feature set, so the resulting
// module no longer depends on a host-provided WASI implementation.
package waistub

import (
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
)

const moduleName = "wasi_snapshot_preview1"

const (
	nameEnvironGet          = "environ_get"
	nameEnvironSizesGet     = "environ_sizes_get"
	nameFdClose             = "fd_close"
	nameFdFdstatSetFlags    = "fd_fdstat_set_flags"
	nameFdFdstatGet         = "fd_fdstat_get"
	nameFdPrestatGet        = "fd_prestat_get"
	nameFdPrestatDirName    = "fd_prestat_dir_name"
	nameFdRead              = "fd_read"
	nameFdSeek              = "fd_seek"
	nameFdWrite             = "fd_write"
	namePathOpen            = "path_open"
	namePathRemoveDirectory = "path_remove_directory"
	namePathUnlinkFile      = "path_unlink_file"
	nameProcExit            = "proc_exit"
	nameRandomGet           = "random_get"
	nameClockResGet         = "clock_res_get"
	nameClockTimeGet        = "clock_time_get"
)

// alwaysTrapped is replaced with an unreachable instruction regardless of
// the feature set (spec §4.3's policy table, "unchanged" column).
var alwaysTrapped = []string{
	nameEnvironGet, nameEnvironSizesGet, nameFdClose, nameFdFdstatSetFlags,
	nameFdPrestatGet, nameFdPrestatDirName, nameFdRead, nameFdSeek,
	namePathOpen, namePathRemoveDirectory, namePathUnlinkFile, nameProcExit,
	nameRandomGet,
}

// Stub replaces the allow-listed wasi_snapshot_preview1 imports present
// in m with inert local bodies. buildTimeNanos is embedded verbatim as
// the timestamp the clock_time_get stub stores through its result
// pointer (the stub itself returns 0); it is the only observable side
// effect of this package (spec §6, "Environment").
func Stub(m *wasm.Module, features api.FeatureSet, buildTimeNanos int64) error {
	for _, name := range alwaysTrapped {
		if _, ok := m.FindImportFunc(moduleName, name); !ok {
			continue
		}
		if err := trap(m, name); err != nil {
			return err
		}
	}

	if !features.Has(api.Clocks) {
		if _, ok := m.FindImportFunc(moduleName, nameClockResGet); ok {
			if err := trap(m, nameClockResGet); err != nil {
				return err
			}
		}
		if _, ok := m.FindImportFunc(moduleName, nameClockTimeGet); ok {
			if err := stubClockTimeGet(m, buildTimeNanos); err != nil {
				return err
			}
		}
	}

	if !features.Has(api.Stdio) {
		if _, ok := m.FindImportFunc(moduleName, nameFdFdstatGet); ok {
			if err := stubFdFdstatGet(m); err != nil {
				return err
			}
		}
		if _, ok := m.FindImportFunc(moduleName, nameFdWrite); ok {
			if err := stubFdWrite(m); err != nil {
				return err
			}
		}
	}

	return nil
}

// trap replaces the named import with a local function whose body is a
// single unreachable instruction.
func trap(m *wasm.Module, name string) error {
	return m.ReplaceImportedFuncWithLocal(moduleName, name, func(ft *wasm.FunctionType) *wasm.FunctionBuilder {
		b := wasm.NewFunctionBuilder(ft.Params, ft.Results)
		b.Body().Unreachable()
		return b
	})
}

// stubClockTimeGet writes buildTimeNanos to the pointer in the clock's
// third parameter (clockid, precision, *timestamp) and returns success
// (errno 0), never consulting the real wall clock.
func stubClockTimeGet(m *wasm.Module, buildTimeNanos int64) error {
	return m.ReplaceImportedFuncWithLocal(moduleName, nameClockTimeGet, func(ft *wasm.FunctionType) *wasm.FunctionBuilder {
		b := wasm.NewFunctionBuilder(ft.Params, ft.Results)
		resultPtr := b.ParamLocal(2)
		s := b.Body()
		s.LocalGet(resultPtr)
		s.I64Const(buildTimeNanos)
		s.Store(wasm.OpI64Store, wasm.MemArg{Align: 3, Offset: 0})
		s.I32Const(0)
		return b
	})
}

// stubFdFdstatGet always reports success without touching the stat
// buffer: no host file descriptors exist in this build.
func stubFdFdstatGet(m *wasm.Module) error {
	return m.ReplaceImportedFuncWithLocal(moduleName, nameFdFdstatGet, func(ft *wasm.FunctionType) *wasm.FunctionBuilder {
		b := wasm.NewFunctionBuilder(ft.Params, ft.Results)
		b.Body().I32Const(0)
		return b
	})
}

// stubFdWrite pretends every byte requested was written: it stores the
// iovs length parameter into the nwritten out-pointer and returns
// success, matching spec §4.3's "return the len param" policy.
func stubFdWrite(m *wasm.Module) error {
	return m.ReplaceImportedFuncWithLocal(moduleName, nameFdWrite, func(ft *wasm.FunctionType) *wasm.FunctionBuilder {
		b := wasm.NewFunctionBuilder(ft.Params, ft.Results)
		iovsLen := b.ParamLocal(2)
		nwritten := b.ParamLocal(3)
		s := b.Body()
		s.LocalGet(nwritten)
		s.LocalGet(iovsLen)
		s.Store(wasm.OpI32Store, wasm.MemArg{Align: 2, Offset: 0})
		s.I32Const(0)
		return b
	})
}
