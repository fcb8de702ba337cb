package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicer"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

func newStubWasiCmd() *cobra.Command {
	var input, output, witPath, worldName string
	features := newFeaturesValue()

	cmd := &cobra.Command{
		Use:   "stub-wasi",
		Short: "Replace an engine's wasi_snapshot_preview1 imports with inert stubs",
		RunE: func(cmd *cobra.Command, args []string) error {
			// witPath/worldName are accepted for CLI-surface symmetry with
			// splice-bindings (spec §6) but this subcommand never resolves
			// an import/export catalog, so they are otherwise unused here.
			_, _ = witPath, worldName

			engine, err := afero.ReadFile(appFs, input)
			if err != nil {
				return errors.Wrap(splicererr.IoFailure, err.Error())
			}

			out, err := splicer.StubWasi(engine, features.set, time.Now().UnixNano())
			if err != nil {
				return err
			}

			if err := afero.WriteFile(appFs, output, out, 0o644); err != nil {
				return errors.Wrap(splicererr.IoFailure, err.Error())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "path to the input engine module")
	cmd.Flags().StringVar(&output, "output", "", "path to write the stubbed module")
	cmd.Flags().Var(features, "features", "a WASI capability to leave unstubbed (repeatable)")
	cmd.Flags().StringVar(&witPath, "wit-path", "", "path to a resolved WIT JSON document")
	cmd.Flags().StringVar(&worldName, "world-name", "", "the world within --wit-path to use")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}
