// Package resolver is the splicer-facing half of the Interface Resolver
// contract (spec §4.2): it never parses WIT documents itself, only
// consumes an already-resolved graph and flattens it into the ordered
// ImportDecl/ExportDecl lists the rest of the splicer operates on.
package resolver

import "github.com/bytecodealliance/spidermonkey-embedding-splicer/api"

// Resolver yields the ordered import/export catalog for one world. Order
// is authoritative: the splicer derives both table slot and script
// binding name from the index into the returned slices.
type Resolver interface {
	Resolve() ([]api.ImportDecl, []api.ExportDecl, error)
}

// RootModuleName is the module name under which freestanding (not
// interface-scoped) world-level imports are recorded, matching the
// convention wit-bindgen-family tools use for "$root" imports.
const RootModuleName = "$root"
