package main

import (
	"encoding/json"
	"fmt"

	"github.com/bytecodealliance/wasm-tools-go/wit"
	"github.com/pkg/errors"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/resolver"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

// loadWorld reads the WIT JSON produced by `wasm-tools component wit
// --json` at witPath (the upstream parser's output, entirely out of this
// module's scope per spec §4.2) and picks out the world named worldName.
// An empty worldName is only valid when the document resolves to exactly
// one world.
//
// Decoding goes straight through encoding/json into wit.Resolve's exported
// fields rather than a dedicated loader: wit.World.Imports/Exports are
// keyed on the WorldItem interface, which has no concrete type the decoder
// can pick without a custom UnmarshalJSON this package doesn't provide, so
// a document with non-empty imports or exports fails to decode those maps.
// Worlds with no host-facing imports/exports (spec §8 scenario S1) decode
// cleanly; anything richer needs the upstream tool's own decoder, which is
// out of this module's scope.
func loadWorld(witPath, worldName string) (*wit.World, error) {
	f, err := appFs.Open(witPath)
	if err != nil {
		return nil, errors.Wrap(splicererr.IoFailure, err.Error())
	}
	defer f.Close()

	var res wit.Resolve
	if err := json.NewDecoder(f).Decode(&res); err != nil {
		return nil, errors.Wrap(err, "parsing WIT document")
	}

	if worldName == "" {
		if len(res.Worlds) != 1 {
			return nil, fmt.Errorf("--world-name is required: document resolves to %d worlds", len(res.Worlds))
		}
		return res.Worlds[0], nil
	}
	for _, w := range res.Worlds {
		if w.Name == worldName {
			return w, nil
		}
	}
	return nil, fmt.Errorf("no world named %q in %s", worldName, witPath)
}

// newWitResolver builds the splicer's import/export catalog for one
// world, or returns an empty catalog when witPath is unset (an engine
// with no host imports/exports to splice, spec §8 scenario S1).
func newWitResolver(witPath, worldName string) (resolver.Resolver, error) {
	if witPath == "" {
		return emptyResolver{}, nil
	}
	w, err := loadWorld(witPath, worldName)
	if err != nil {
		return nil, err
	}
	return &resolver.WitResolver{World: w}, nil
}

// emptyResolver is the Resolver used when no --wit-path is given: the
// engine is spliced with no host imports and no extra exports beyond its
// own template cleanup.
type emptyResolver struct{}

func (emptyResolver) Resolve() ([]api.ImportDecl, []api.ExportDecl, error) { return nil, nil, nil }
