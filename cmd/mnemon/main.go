// mnemon is a persistent, project-scoped memory engine for AI coding
// assistants. The host runtime invokes it around sessions: session-start
// prints the push surface, session-end extracts memories from the
// transcript. The remaining commands are for people.
package main

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemon-dev/mnemon/internal/config"
	"github.com/mnemon-dev/mnemon/internal/engine"
	"github.com/mnemon-dev/mnemon/internal/llm"
	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/internal/storage/postgres"
	"github.com/mnemon-dev/mnemon/internal/storage/sqlite"
)

var version = "0.1.0"

func main() {
	log.SetFlags(0)
	log.SetPrefix("mnemon: ")
	log.SetOutput(os.Stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mnemon:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mnemon",
	Short: "Persistent memory for AI coding assistants",
	Long: `mnemon maintains a project-scoped memory store for AI coding
assistants: memories extracted from session transcripts, ranked and
decayed over time, linked into a typed graph, and surfaced back at
session start within a token budget.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mnemon %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// runtimeEnv is everything a command needs: configuration, the opened
// stores, and the engine wired over them.
type runtimeEnv struct {
	cfg    *config.Config
	eng    *engine.Engine
	stores []storage.Store
}

// projectStore is the store opened for the working directory; it is
// always the first one in stores.
func (r *runtimeEnv) projectStore() storage.Store {
	return r.stores[0]
}

func (r *runtimeEnv) Close() {
	for _, s := range r.stores {
		if err := s.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
}

// buildEnv loads configuration and wires the engine. Model providers are
// optional collaborators: a provider that cannot be constructed is logged
// and left nil, and the engine degrades accordingly.
func buildEnv() (*runtimeEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	project, global, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	env := &runtimeEnv{cfg: cfg, stores: []storage.Store{project}}
	if global != nil {
		env.stores = append(env.stores, global)
	}

	textGen, remoteEmbedder := buildProviders(cfg)
	localEmbedder := buildLocalEmbedder(cfg)

	env.eng, err = engine.New(project, global, textGen, remoteEmbedder, localEmbedder, engine.Config{
		SnapshotDir:                    cfg.SnapshotDir(),
		ArtifactPath:                   cfg.Engine.ArtifactPath,
		TokenBudget:                    cfg.Engine.TokenBudget,
		MaxTranscriptChars:             cfg.Engine.MaxTranscriptChars,
		ConsolidationExtractionTrigger: cfg.Engine.ConsolidationExtractionTrigger,
		ConsolidationActiveTrigger:     cfg.Engine.ConsolidationActiveTrigger,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// openStores opens the project store per the configured backend and the
// global store, which is always sqlite under the user's home directory.
func openStores(cfg *config.Config) (project, global storage.Store, err error) {
	if err := os.MkdirAll(cfg.Storage.ProjectDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create project dir: %w", err)
	}

	switch cfg.Storage.Engine {
	case "postgres":
		project, err = postgres.New(cfg.Storage.PostgresDSN)
	default:
		project, err = sqlite.New(cfg.ProjectDBPath())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open project store: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.GlobalDir, 0o755); err != nil {
		log.Printf("create global dir: %v, continuing project-only", err)
		return project, nil, nil
	}
	global, err = sqlite.New(cfg.GlobalDBPath())
	if err != nil {
		log.Printf("open global store: %v, continuing project-only", err)
		return project, nil, nil
	}
	return project, global, nil
}

func buildProviders(cfg *config.Config) (llm.TextGenerator, llm.EmbeddingGenerator) {
	providerCfg := llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.TextAPIKey(),
		Model:    cfg.TextModel(),
		BaseURL:  cfg.LLM.OllamaURL,
	}

	textGen, err := llm.NewTextGenerator(providerCfg)
	if err != nil {
		log.Printf("text provider unavailable: %v", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(providerCfg, cfg.LLM.EmbeddingModel)
	if err != nil {
		log.Printf("embedding provider unavailable: %v", err)
	}
	return textGen, embedder
}

func buildLocalEmbedder(cfg *config.Config) llm.EmbeddingGenerator {
	if cfg.LLM.LocalModelPath == "" {
		return nil
	}
	embedder, err := llm.NewLocalEmbeddingGenerator(cfg.LLM.LocalModelPath, cfg.LLM.LocalTokenizerPath, cfg.LLM.LocalLibraryPath)
	if err != nil {
		log.Printf("local embedder unavailable: %v", err)
		return nil
	}
	return embedder
}

// withStoreLock runs fn while holding the cross-process store lock.
func withStoreLock(cfg *config.Config, fn func() error) error {
	lock := storage.NewFileLockWithBounds(
		cfg.LockPath(),
		secondsDuration(cfg.Lock.WaitSeconds),
		secondsDuration(cfg.Lock.StaleAfterSeconds),
	)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Printf("release lock: %v", err)
		}
	}()
	return fn()
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func timeNow() time.Time {
	return time.Now().UTC()
}
