package main

import (
	"strings"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/api"
)

// featuresValue adapts api.ParseFeature to pflag's repeatable-flag
// interface so `--features clocks --features random` (or a single
// comma-separated `--features clocks,random`) both accumulate into one
// api.FeatureSet.
type featuresValue struct {
	set api.FeatureSet
}

func newFeaturesValue() *featuresValue {
	return &featuresValue{set: api.NewFeatureSet()}
}

func (v *featuresValue) String() string {
	names := make([]string, 0, len(v.set))
	for f := range v.set {
		names = append(names, f.String())
	}
	return strings.Join(names, ",")
}

func (v *featuresValue) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		f, err := api.ParseFeature(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		v.set[f] = struct{}{}
	}
	return nil
}

func (v *featuresValue) Type() string {
	return "feature"
}
