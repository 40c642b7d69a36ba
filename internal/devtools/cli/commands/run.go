// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"melrun/internal/governance"
	"melrun/internal/governance/authority"
	"melrun/internal/governance/proposal"
	"melrun/internal/governance/scope"
	"melrun/internal/host/loop"
	"melrun/pkg/config"
	"melrun/pkg/core/compute"
	"melrun/pkg/core/expr"
	"melrun/pkg/core/flow"
	"melrun/pkg/core/schema"
	"melrun/pkg/effects"
	"melrun/pkg/events"
	"melrun/pkg/telemetry"
	"melrun/pkg/worldstore"
)

// printTrace renders a TraceGraph as indented lines, for local inspection
// only — never parsed back in by anything in this repo.
func printTrace(w io.Writer, n *flow.TraceNode, depth int) {
	fmt.Fprintf(w, "%s%s %s (%s)\n", strings.Repeat("  ", depth), n.ID, n.Path, n.Kind)
	for _, c := range n.Children {
		printTrace(w, c, depth+1)
	}
}

// counterSchema is the canned demo schema run's single "increment" action
// mutates: one numeric field, bumped by one per submitted proposal.
func counterSchema() (*schema.Schema, error) {
	def := schema.Def{
		ID:     "counter",
		Fields: []schema.FieldSpec{{Name: "count", Type: "number", Default: 0.0}},
		Actions: []schema.Action{
			{
				Name: "increment",
				Flow: flow.Seq(
					flow.Patch(flow.PatchSpec{Op: "set", Path: "count", Value: expr.Add(expr.Get("data.count"), expr.Lit(1.0))}),
				),
			},
		},
	}
	s, errv := schema.Load(def)
	if errv != nil {
		return nil, errv
	}
	return s, nil
}

// NewRunCommand returns the `melrun run` command: it loads HostOptions,
// boots an in-memory world and host loop, submits the canned counter
// schema's "increment" action some number of times, and prints the
// resulting trace.
func NewRunCommand() *cobra.Command {
	var configPath string
	var times int
	var actorID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit the canned counter schema through the host loop and print the trace",
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			log := telemetry.NewLogger(verbose)

			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}
			opts, err := config.Load(configPath)
			if err != nil {
				if err == config.ErrConfigNotFound {
					log.Warn("no config found, running with defaults", telemetry.F("path", configPath))
					opts = &config.HostOptions{
						Project:   config.ProjectOptions{Name: "counter-demo"},
						Scheduler: config.DefaultScheduler(),
					}
				} else {
					return fmt.Errorf("loading config: %w", err)
				}
			}

			s, err := counterSchema()
			if err != nil {
				return fmt.Errorf("loading canned schema: %w", err)
			}

			ws := worldstore.NewMemStore()
			sink := events.NewBufferedSink()
			l := loop.New(effects.NewRegistry(), sink, log)
			l.TraceEnabled = opts.Devtools.TraceEnabled
			auth := authority.AutoAuthority{
				DefaultScope: scope.ApprovedScope{AllowedPaths: []string{"count"}, MaxPatchCount: 10},
			}
			g := governance.New(ws, l, auth, sink, nil)

			initial := opts.Initial.Data
			if initial == nil {
				initial = map[string]any{"count": 0.0}
			}

			now := time.Now().UTC()
			genesisID, err := g.InitGenesis(context.Background(), s, initial, now, 1)
			if err != nil {
				return fmt.Errorf("initializing genesis world: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "genesis world: %s\n", genesisID)

			worldID := genesisID
			for i := 0; i < times; i++ {
				now = time.Now().UTC()
				p := proposal.New(actorID, worldID, "main", compute.Intent{
					ID:         fmt.Sprintf("intent-%d", i),
					ActionName: "increment",
				}, 0, now)

				out, err := g.Submit(context.Background(), p, s, now, uint64(i+1))
				if err != nil {
					return fmt.Errorf("submitting proposal %d: %w", i, err)
				}
				if out.Rejected {
					return fmt.Errorf("proposal %d rejected: %s", i, out.Reason)
				}
				if out.Pending {
					fmt.Fprintf(cmd.OutOrStdout(), "proposal %d: pending (suspended on an effect)\n", i)
					continue
				}

				worldID = out.WorldID
				fmt.Fprintf(cmd.OutOrStdout(), "proposal %d: world=%s count=%v\n", i, worldID, out.Snapshot.Data["count"])
				if out.Trace != nil {
					printTrace(cmd.OutOrStdout(), out.Trace, 1)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to melrun.yml")
	cmd.Flags().IntVar(&times, "times", 3, "number of increment proposals to submit")
	cmd.Flags().StringVar(&actorID, "actor", "devtools", "actor id to submit proposals as")

	return cmd
}
