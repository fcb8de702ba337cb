package main

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicer"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

func newSpliceBindingsCmd() *cobra.Command {
	var input, outDir, witPath, worldName string
	var debug bool
	features := newFeaturesValue()

	cmd := &cobra.Command{
		Use:   "splice-bindings",
		Short: "Splice a component out of an engine module plus its WIT world",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := afero.ReadFile(appFs, input)
			if err != nil {
				return errors.Wrap(splicererr.IoFailure, err.Error())
			}

			res, err := newWitResolver(witPath, worldName)
			if err != nil {
				return err
			}
			imports, exports, err := res.Resolve()
			if err != nil {
				return err
			}

			result, err := splicer.Splice(engine, splicer.Options{
				Imports:        imports,
				Exports:        exports,
				Features:       features.set,
				Debug:          debug,
				BuildTimeNanos: time.Now().UnixNano(),
				SourceName:     "./source.js",
			})
			if err != nil {
				return err
			}

			if err := appFs.MkdirAll(outDir, 0o755); err != nil {
				return errors.Wrap(splicererr.IoFailure, err.Error())
			}
			if err := afero.WriteFile(appFs, filepath.Join(outDir, "component.wasm"), result.Wasm, 0o644); err != nil {
				return errors.Wrap(splicererr.IoFailure, err.Error())
			}
			if err := afero.WriteFile(appFs, filepath.Join(outDir, "initializer.js"), []byte(result.Script), 0o644); err != nil {
				return errors.Wrap(splicererr.IoFailure, err.Error())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "path to the input engine module")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory to write component.wasm and initializer.js into")
	cmd.Flags().Var(features, "features", "a WASI capability to leave unstubbed (repeatable)")
	cmd.Flags().StringVar(&witPath, "wit-path", "", "path to a resolved WIT JSON document")
	cmd.Flags().StringVar(&worldName, "world-name", "", "the world within --wit-path to use")
	cmd.Flags().BoolVar(&debug, "debug", false, "downgrade template-extraction failures to a warning")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("out-dir")

	return cmd
}
