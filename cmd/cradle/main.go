package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rzline/CradleAI/internal/config"
	"github.com/rzline/CradleAI/internal/engine"
	"github.com/rzline/CradleAI/internal/memory"
	"github.com/rzline/CradleAI/internal/store"
)

const usage = `usage:
  cradle create <conversation-id> <character.json>
  cradle chat <conversation-id> <message...>
  cradle regen <conversation-id> <ai-index>
  cradle reset <conversation-id>
  cradle delete <conversation-id>`

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command, conversationID := os.Args[1], os.Args[2]

	var st store.Store
	var pg *store.PostgresStore
	if cfg.DatabaseURL != "" {
		var err error
		pg, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer pg.Close()
		st = pg
	} else {
		st = store.NewMemStore()
	}

	opts := []engine.Option{
		engine.WithUserName(cfg.UserName),
		engine.WithDiagnostics(engine.LogDiagnostics{}),
		engine.WithStreamHandler(func(delta string) {
			fmt.Print(delta)
		}),
	}
	if mem := buildMemoryService(ctx, cfg, pg); mem != nil {
		opts = append(opts, engine.WithMemory(mem))
	}

	eng, err := engine.New(st, cfg.ProviderSettings(), opts...)
	if err != nil {
		log.Fatalf("failed to initialize engine: %v", err)
	}

	switch command {
	case "create":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		raw, err := os.ReadFile(os.Args[3])
		if err != nil {
			log.Fatalf("failed to read character file: %v", err)
		}
		var data engine.CharacterData
		if err := json.Unmarshal(raw, &data); err != nil {
			log.Fatalf("failed to parse character file: %v", err)
		}
		if err := eng.CreateCharacter(ctx, conversationID, data); err != nil {
			log.Fatalf("failed to create character: %v", err)
		}
	case "chat":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		message := strings.Join(os.Args[3:], " ")
		response, err := eng.ContinueChat(ctx, conversationID, message)
		if err != nil {
			log.Fatalf("chat turn failed: %v", err)
		}
		fmt.Println(response)
	case "regen":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		index, err := strconv.Atoi(os.Args[3])
		if err != nil {
			log.Fatalf("invalid index: %v", err)
		}
		response, err := eng.RegenerateFromMessage(ctx, conversationID, index)
		if err != nil {
			log.Fatalf("regenerate failed: %v", err)
		}
		fmt.Println(response)
	case "reset":
		if err := eng.ResetChatHistory(ctx, conversationID); err != nil {
			log.Fatalf("reset failed: %v", err)
		}
	case "delete":
		if err := eng.DeleteCharacterData(ctx, conversationID); err != nil {
			log.Fatalf("delete failed: %v", err)
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

// buildMemoryService wires the optional summarization and retrieval
// stack. Missing pieces degrade to nil rather than aborting startup.
func buildMemoryService(ctx context.Context, cfg config.Config, pg *store.PostgresStore) *memory.Service {
	if !cfg.MemoryEnabled || cfg.GoogleAPIKey == "" {
		return nil
	}

	summarizer, err := memory.NewADKSummarizer(ctx, cfg.GoogleAPIKey, cfg.MemoryModel)
	if err != nil {
		log.Printf("memory summarizer unavailable: %v", err)
		return nil
	}

	var embedder memory.Embedder
	var repo memory.Repo
	if pg != nil {
		e, err := memory.NewGenAIEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel)
		if err != nil {
			log.Printf("embedder unavailable, memory search disabled: %v", err)
		} else {
			r, err := memory.NewPGRepo(pg.DB())
			if err != nil {
				log.Printf("memory repo unavailable, memory search disabled: %v", err)
			} else {
				embedder = e
				repo = r
			}
		}
	}

	return memory.NewService(summarizer, embedder, repo,
		cfg.SummarizeThreshold, cfg.SummarizeKeepRecent, cfg.TopK, cfg.SimilarityThreshold)
}
