package cli

import (
	"context"
	"flag"
	"fmt"
	"slices"

	"github.com/askiada/go-sensor-pipeline/internal/registry"
)

// VersionsTask lists the registry versions.
type VersionsTask struct{}

func (*VersionsTask) Name() string           { return "versions" }
func (*VersionsTask) Args() string           { return "" }
func (*VersionsTask) Synopsis() string       { return "list the model versions of the registry" }
func (*VersionsTask) SetFlags(*flag.FlagSet) {}

func (*VersionsTask) Run(_ context.Context, env Env, args []string) error {
	if len(args) > 0 {
		return ErrUsage
	}

	resolver, err := registry.New(env.Config.RegistryDir, registry.WithLogger(env.Logger))
	if err != nil {
		return err
	}

	versions, err := resolver.Versions()
	if err != nil {
		return err
	}

	if len(versions) == 0 {
		fmt.Fprintf(env.Stdout, "no model version in %s\n", resolver.Root())

		return nil
	}

	latest := slices.Max(versions)

	for _, n := range versions {
		v, err := resolver.Get(n)
		if err != nil {
			return err
		}

		state := "complete"
		if !v.Complete() {
			state = "incomplete"
		}

		marker := ""
		if n == latest {
			marker = " (latest)"
		}

		fmt.Fprintf(env.Stdout, "%d\t%s\t%s%s\n", n, state, v.Dir, marker)
	}

	return nil
}
