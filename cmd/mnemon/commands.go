package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemon-dev/mnemon/internal/engine"
	"github.com/mnemon-dev/mnemon/internal/gitinfo"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

var sessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "Print the push surface and refresh the memory artifact",
	Long: `session-start renders the ranked, token-bounded memory surface for
this project and prints it to stdout. When an artifact path is configured
the surface is also written between the generation markers in that file.

This command is invoked by the host runtime. It never fails the host:
problems are logged to stderr and the exit code stays zero.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := buildEnv()
		if err != nil {
			log.Printf("session-start: %v", err)
			return
		}
		defer env.Close()
		ctx := cmd.Context()

		branch := gitinfo.Gather(ctx, ".").Branch
		surface, err := env.eng.BuildPushSurface(ctx, env.projectStore(), branch)
		if err != nil {
			log.Printf("session-start: %v", err)
			return
		}

		fmt.Print(surface)
		if env.cfg.Engine.ArtifactPath != "" {
			if err := engine.WriteArtifact(env.cfg.Engine.ArtifactPath, surface); err != nil {
				log.Printf("session-start: %v", err)
			}
		}
	},
}

var (
	sessionEndSession    string
	sessionEndTranscript string
	sessionEndWorkDir    string
)

var sessionEndCmd = &cobra.Command{
	Use:   "session-end",
	Short: "Extract memories from a session transcript",
	Long: `session-end reads the session transcript past the saved cursor,
extracts new memories, links them into the graph, runs the lifecycle
sweep, and rebuilds the memory artifact.

This command is invoked by the host runtime. It never fails the host:
problems are logged to stderr and the exit code stays zero.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := buildEnv()
		if err != nil {
			log.Printf("session-end: %v", err)
			return
		}
		defer env.Close()

		err = withStoreLock(env.cfg, func() error {
			report, err := env.eng.RunExtraction(cmd.Context(), engine.TranscriptIntake{
				SessionID:      sessionEndSession,
				TranscriptPath: sessionEndTranscript,
				WorkingDir:     sessionEndWorkDir,
			})
			if err != nil {
				return err
			}
			log.Printf("session-end: %d new memories, %d edges", report.NewMemories, report.EdgesCreated)
			return nil
		})
		if err != nil {
			log.Printf("session-end: %v", err)
		}
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories by meaning",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.eng.Recall(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no memories found")
			return nil
		}

		for _, r := range results {
			text := r.Memory.Summary
			if text == "" {
				text = types.TruncateSummary(r.Memory.Content)
			}
			fmt.Printf("%.2f  [%s]  %s\n", r.Score, r.Memory.Type, text)
		}
		return nil
	},
}

var (
	rememberType     string
	rememberScope    string
	rememberPriority int
	rememberTags     []string
	rememberPin      bool
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory directly",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		return withStoreLock(env.cfg, func() error {
			mem, err := env.eng.Remember(cmd.Context(), engine.RememberRequest{
				Content:  strings.Join(args, " "),
				Type:     types.MemoryType(rememberType),
				Scope:    types.Scope(rememberScope),
				Priority: rememberPriority,
				Tags:     rememberTags,
				Pinned:   rememberPin,
			})
			if err != nil {
				return err
			}
			fmt.Printf("remembered %s (%s)\n", mem.ID, mem.Type)
			return nil
		})
	},
}

var (
	indexSummary   string
	indexLineStart int
	indexLineEnd   int
	indexBranch    string
)

var indexCodeCmd = &cobra.Command{
	Use:   "index-code <file>",
	Short: "Index a code range as a prose/code memory pair",
	Long: `index-code stores two linked memories for a file range: an embedded
prose description that participates in search and the push surface, and
the raw code text, which is retrievable through the description but never
embedded or surfaced on its own.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		return withStoreLock(env.cfg, func() error {
			prose, _, err := env.eng.IndexCode(cmd.Context(), env.projectStore(), engine.IndexRequest{
				FilePath:  args[0],
				Summary:   indexSummary,
				LineStart: indexLineStart,
				LineEnd:   indexLineEnd,
				Branch:    indexBranch,
			})
			if err != nil {
				return err
			}
			fmt.Printf("indexed %s (%s)\n", args[0], prose.ID)
			return nil
		})
	},
}

var (
	consolidatePropose bool
	consolidateCommit  bool
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge clusters of redundant memories",
	Long: `consolidate finds clusters of highly similar active memories and
merges each into a single memory, superseding the originals. The store is
snapshotted first; any failure rolls the whole run back.

With --propose, clusters above the manual-review threshold are printed
and saved without changing any memory; --commit applies the saved
proposals after review. Without flags an automatic run merges only
clusters above the stricter automatic threshold.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if consolidatePropose && consolidateCommit {
			return fmt.Errorf("--propose and --commit are mutually exclusive")
		}

		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.Close()
		ctx := cmd.Context()

		if consolidatePropose {
			proposals, err := env.eng.ProposeConsolidation(ctx, env.projectStore(), engine.ConsolidationManualThreshold)
			if err != nil {
				return err
			}
			if len(proposals) == 0 {
				fmt.Println("nothing to consolidate")
				return nil
			}
			for i, p := range proposals {
				fmt.Printf("proposal %d: merge %d memories into %q\n", i+1, len(p.Cluster), p.Merged.Summary)
				for _, m := range p.Cluster {
					fmt.Printf("  - %s\n", types.TruncateSummary(m.Content))
				}
			}
			if err := engine.WriteProposals(env.cfg.ProposalsPath(), proposals); err != nil {
				return err
			}
			fmt.Printf("saved %d proposals; run `mnemon consolidate --commit` to apply them\n", len(proposals))
			return nil
		}

		if consolidateCommit {
			return withStoreLock(env.cfg, func() error {
				proposals, err := engine.LoadProposals(ctx, env.projectStore(), env.cfg.ProposalsPath())
				if err != nil {
					return err
				}
				if len(proposals) == 0 {
					fmt.Println("no applicable proposals")
				} else if err := env.eng.CommitProposals(ctx, env.projectStore(), proposals); err != nil {
					return err
				} else {
					fmt.Printf("committed %d proposals\n", len(proposals))
				}
				return os.Remove(env.cfg.ProposalsPath())
			})
		}

		return withStoreLock(env.cfg, func() error {
			return env.eng.Consolidate(ctx, env.projectStore())
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the confidence decay and archival sweep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		return withStoreLock(env.cfg, func() error {
			return env.eng.Sweep(cmd.Context(), env.projectStore(), timeNow())
		})
	},
}

func init() {
	sessionEndCmd.Flags().StringVar(&sessionEndSession, "session", "", "session identifier (required)")
	sessionEndCmd.Flags().StringVar(&sessionEndTranscript, "transcript", "", "path to the session transcript")
	sessionEndCmd.Flags().StringVar(&sessionEndWorkDir, "workdir", ".", "project working directory")
	_ = sessionEndCmd.MarkFlagRequired("session")

	rememberCmd.Flags().StringVar(&rememberType, "type", "", "memory type (default: context)")
	rememberCmd.Flags().StringVar(&rememberScope, "scope", "", "project or global (default: project)")
	rememberCmd.Flags().IntVar(&rememberPriority, "priority", 0, "priority 1-10")
	rememberCmd.Flags().StringSliceVar(&rememberTags, "tags", nil, "comma-separated tags")
	rememberCmd.Flags().BoolVar(&rememberPin, "pin", false, "pin the memory to the push surface")

	indexCodeCmd.Flags().StringVar(&indexSummary, "summary", "", "prose description of the code (required)")
	indexCodeCmd.Flags().IntVar(&indexLineStart, "start", 0, "first line, 1-based (default: whole file)")
	indexCodeCmd.Flags().IntVar(&indexLineEnd, "end", 0, "last line, inclusive")
	indexCodeCmd.Flags().StringVar(&indexBranch, "branch", "", "branch the code belongs to")
	_ = indexCodeCmd.MarkFlagRequired("summary")

	consolidateCmd.Flags().BoolVar(&consolidatePropose, "propose", false, "print and save proposals without merging")
	consolidateCmd.Flags().BoolVar(&consolidateCommit, "commit", false, "apply previously saved proposals")

	rootCmd.AddCommand(sessionStartCmd, sessionEndCmd, recallCmd, rememberCmd, indexCodeCmd, consolidateCmd, sweepCmd)
}
