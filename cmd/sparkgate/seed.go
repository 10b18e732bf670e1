package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sparkgate/sparkgate/internal/account"
	"github.com/sparkgate/sparkgate/internal/auth"
	"github.com/sparkgate/sparkgate/internal/catalog"
	"github.com/sparkgate/sparkgate/internal/config"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo model catalog and a test account",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

var demoModels = []catalog.Model{
	{
		ID:     "meta-llama/llama-3.1-8b-instruct:free",
		Name:   "Llama 3.1 8B Instruct (free)",
		Rank:   1,
		Family: "meta-llama",
		Tier:   catalog.TierBasic,
		IsFree: true,
	},
	{
		ID:     "mistralai/mistral-7b-instruct:free",
		Name:   "Mistral 7B Instruct (free)",
		Rank:   2,
		Family: "mistralai",
		Tier:   catalog.TierBasic,
		IsFree: true,
	},
	{
		ID:     "google/gemma-2-9b-it:free",
		Name:   "Gemma 2 9B (free)",
		Rank:   3,
		Family: "google",
		Tier:   catalog.TierBasic,
		IsFree: true,
	},
	{
		ID:      "google/gemini-flash-1.5",
		Name:    "Gemini Flash 1.5",
		Rank:    4,
		Family:  "google",
		Tier:    catalog.TierBasic,
		Pricing: catalog.Pricing{Prompt: 0.000000075, Completion: 0.0000003},
	},
	{
		ID:      "openai/gpt-4o-mini",
		Name:    "GPT-4o mini",
		Rank:    5,
		Family:  "openai",
		Tier:    catalog.TierMedium,
		Pricing: catalog.Pricing{Prompt: 0.00000015, Completion: 0.0000006},
	},
	{
		ID:      "deepseek/deepseek-chat",
		Name:    "DeepSeek V2.5",
		Rank:    6,
		Family:  "deepseek",
		Tier:    catalog.TierMedium,
		Pricing: catalog.Pricing{Prompt: 0.00000014, Completion: 0.00000028},
	},
	{
		ID:      "qwen/qwen-2.5-72b-instruct",
		Name:    "Qwen 2.5 72B Instruct",
		Rank:    7,
		Family:  "qwen",
		Tier:    catalog.TierMedium,
		Pricing: catalog.Pricing{Prompt: 0.00000035, Completion: 0.0000004},
	},
	{
		ID:      "openai/gpt-4o",
		Name:    "GPT-4o",
		Rank:    8,
		Family:  "openai",
		Tier:    catalog.TierProfessional,
		Pricing: catalog.Pricing{Prompt: 0.0000025, Completion: 0.00001},
	},
	{
		ID:      "mistralai/mistral-large",
		Name:    "Mistral Large",
		Rank:    9,
		Family:  "mistralai",
		Tier:    catalog.TierProfessional,
		Pricing: catalog.Pricing{Prompt: 0.000002, Completion: 0.000006},
	},
	{
		ID:      "openai/o1-preview",
		Name:    "o1 Preview",
		Rank:    10,
		Family:  "openai",
		Tier:    catalog.TierPremium,
		Pricing: catalog.Pricing{Prompt: 0.000015, Completion: 0.00006},
	},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	catalogStore := catalog.NewStore(pool)
	accountStore := account.NewStore(pool)

	// Check if seed has already run.
	existing, err := catalogStore.List(ctx)
	if err != nil {
		return fmt.Errorf("checking existing models: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	if err := catalogStore.Replace(ctx, demoModels); err != nil {
		return fmt.Errorf("seeding model catalog: %w", err)
	}
	slog.Info("seeded model catalog", "models", len(demoModels))

	// Create demo account.
	apiKey, plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generating api key: %w", err)
	}

	acct, err := accountStore.Create(ctx, account.CreateInput{
		Email:     "demo@example.com",
		Password:  "demo-password",
		Name:      "demo",
		KeyHash:   apiKey.Hash,
		KeyPrefix: apiKey.Prefix,
	}, cfg.Budget.StartingSparks)
	if err != nil {
		return fmt.Errorf("creating demo account: %w", err)
	}

	slog.Info("created demo account", "id", acct.ID, "email", acct.Email)
	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Models:    %d registered\n", len(demoModels))
	fmt.Printf("Account:   %s (%s)\n", acct.Email, acct.ID)
	fmt.Printf("Sparks:    %.0f\n", acct.Sparks)
	fmt.Printf("API Key:   %s\n", plaintext)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl http://localhost:%d/api/v1/models\n", cfg.Server.Port)
	fmt.Printf("  curl -H 'Authorization: Bearer %s' -d '{\"query\":\"What is the capital of France?\"}' http://localhost:%d/api/v1/query\n", plaintext, cfg.Server.Port)

	return nil
}
