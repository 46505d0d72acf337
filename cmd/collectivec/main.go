// Command collectivec compiles a built-in collective-communication pattern
// over a topology into a GPU schedule descriptor, following the teacher's
// cmd/chunker flag-and-stderr-progress CLI shape. It contains no compiler
// logic of its own: it only wires internal/collective, internal/topology,
// internal/config, and internal/frontend together.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/quantarax/collectivec/internal/cache"
	"github.com/quantarax/collectivec/internal/collective"
	"github.com/quantarax/collectivec/internal/config"
	"github.com/quantarax/collectivec/internal/emit"
	"github.com/quantarax/collectivec/internal/frontend"
	"github.com/quantarax/collectivec/internal/ir"
	"github.com/quantarax/collectivec/internal/observability"
	"github.com/quantarax/collectivec/internal/topology"
)

func main() {
	if shutdown, err := observability.InitTracing(context.Background(), "collectivec"); err == nil {
		defer shutdown(context.Background())
	}

	collName := flag.String("collective", "allgather", "built-in collective: allgather, allreduce, alltoall")
	ranks := flag.Int("ranks", 2, "number of ranks")
	instances := flag.Int("instances", 1, "replication factor")
	protocol := flag.String("protocol", ir.ProtocolSimple, "wire protocol: Simple, LL, LL128")
	policy := flag.String("policy", config.PolicyAutomatic, "threadblock policy: automatic, manual")
	topoKind := flag.String("topology", "full", "topology: full, ring")
	output := flag.String("output", "", "write the JSON descriptor to this file (default: stdout)")
	pretty := flag.Bool("pretty", true, "pretty-print JSON output")
	cacheDir := flag.String("cache-dir", "", "compile cache directory (empty: config default when caching is enabled in config, else no cache)")
	flag.Parse()

	out := colorable.NewColorableStdout()
	isColor := isatty.IsTerminal(os.Stdout.Fd())

	cfg := config.DefaultConfig()
	cfg.DefaultInstances = *instances
	cfg.ThreadblockPolicy = *policy
	if !ir.ValidProtocol(*protocol) {
		fmt.Fprintf(os.Stderr, "Error: unknown protocol %q\n", *protocol)
		os.Exit(1)
	}
	cfg.DefaultProtocol = *protocol

	coll, err := builtinCollective(*collName, *ranks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	topo, err := builtinTopology(*topoKind, *ranks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("collectivec", "dev", os.Stderr)

	var c *cache.Cache
	dir := *cacheDir
	if dir == "" && cfg.CacheEnabled {
		dir = cfg.CacheDirectory
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err == nil {
			c, err = cache.Open(dir + "/compiles.db")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cache unavailable: %v\n", err)
				c = nil
			}
		}
	}
	if c != nil {
		defer c.Close()
	}

	prog, err := frontend.New(*collName, coll, topo, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error constructing program: %v\n", err)
		os.Exit(2)
	}
	prog.Logger = logger

	fmt.Fprintf(os.Stderr, "Compiling %s over %d ranks (%s topology, %d instance(s), %s protocol)...\n",
		*collName, *ranks, *topoKind, *instances, *protocol)

	start := time.Now()
	if err := frontend.Build(prog, builtinScript(*collName, *ranks)); err != nil {
		fmt.Fprintf(os.Stderr, "Error building script: %v\n", err)
		os.Exit(3)
	}

	result, err := prog.Compile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error compiling: %v\n", err)
		os.Exit(4)
	}
	elapsed := time.Since(start)

	descriptor := frontend.Descriptor(result, 1)
	jsonData, err := encode(descriptor, *pretty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing descriptor: %v\n", err)
		os.Exit(5)
	}

	if c != nil {
		if cached, hit, _ := c.Get(result.BuildID); hit {
			logger.CacheHit(result.BuildID)
			_ = cached
		} else {
			logger.CacheMiss(result.BuildID)
			if err := c.Put(result.BuildID, jsonData); err != nil {
				fmt.Fprintf(out, "Warning: failed to persist to cache: %v\n", err)
			}
		}
	}

	statusColor, reset := "", ""
	if isColor {
		if result.CheckOK {
			statusColor, reset = "\x1b[32m", "\x1b[0m"
		} else {
			statusColor, reset = "\x1b[31m", "\x1b[0m"
		}
	}
	fmt.Fprintf(out, "%sOracle check: %v%s\n", statusColor, result.CheckOK, reset)
	fmt.Fprintf(out, "Build ID: %s\n", result.BuildID)
	fmt.Fprintf(out, "Gpus: %s, Channels: %s, Descriptor size: %s\n",
		humanize.Comma(int64(len(descriptor.Gpus))),
		humanize.Comma(int64(descriptor.NChannels)),
		humanize.Bytes(uint64(len(jsonData))))
	fmt.Fprintf(out, "Compiled in %s\n", elapsed)

	if *output != "" {
		if err := os.WriteFile(*output, jsonData, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing descriptor: %v\n", err)
			os.Exit(6)
		}
		fmt.Fprintf(os.Stderr, "Descriptor written to: %s\n", *output)
	} else {
		fmt.Println(string(jsonData))
	}
}

func encode(d emit.Descriptor, pretty bool) ([]byte, error) {
	enc := emit.JSONEncoder{Indent: pretty}
	return enc.Encode(d)
}

func builtinCollective(name string, ranks int) (collective.Collective, error) {
	switch name {
	case "allgather":
		return collective.AllGather{NumRanks: ranks}, nil
	case "allreduce":
		return collective.AllReduce{NumRanks: ranks}, nil
	case "alltoall":
		return collective.AllToAll{NumRanks: ranks}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ir.ErrUnknownCollective, name)
	}
}

func builtinTopology(kind string, ranks int) (topology.Topology, error) {
	switch kind {
	case "full":
		return topology.FullyConnected{N: ranks}, nil
	case "ring":
		return topology.Ring(ranks), nil
	default:
		return nil, fmt.Errorf("unknown topology %q", kind)
	}
}

// builtinScript returns the reference exchange for each built-in
// collective: an all-pairs send exchange (every rank to every rank) for
// allgather/alltoall, a
// reduce-to-rank-0-then-broadcast chain for allreduce.
func builtinScript(collName string, ranks int) func(*frontend.Program) error {
	return func(p *frontend.Program) error {
		switch collName {
		case "allgather":
			for rank := 0; rank < ranks; rank++ {
				in := p.Input(rank, 0, 1)
				for dst := 0; dst < ranks; dst++ {
					if _, err := in.Send(dst, ir.Output(), rank, 0, 0, 0); err != nil {
						return err
					}
				}
			}
		case "alltoall":
			for rank := 0; rank < ranks; rank++ {
				in := p.Input(rank, 0, ranks)
				parts, err := in.Split(ranks)
				if err != nil {
					return err
				}
				for dst, part := range parts {
					if _, err := part.Send(dst, ir.Output(), rank, 0, 0, 0); err != nil {
						return err
					}
				}
			}
		case "allreduce":
			acc, err := p.Input(0, 0, 1).Send(0, ir.Output(), 0, 0, 0, 0)
			if err != nil {
				return err
			}
			for rank := 1; rank < ranks; rank++ {
				in := p.Input(rank, 0, 1)
				acc, err = in.Reduce(0, ir.Output(), 0, 0, 0, 0)
				if err != nil {
					return err
				}
			}
			for dst := 1; dst < ranks; dst++ {
				if _, err := acc.Send(dst, ir.Output(), 0, 0, 0, 0); err != nil {
					return err
				}
			}
		}
		return nil
	}
}
