package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/defiinsight/insight/internal/agents"
	"github.com/defiinsight/insight/internal/agents/token"
	"github.com/defiinsight/insight/internal/auth"
	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/events"
	api "github.com/defiinsight/insight/internal/interfaces/http"
	"github.com/defiinsight/insight/internal/market"
	"github.com/defiinsight/insight/internal/metrics"
	"github.com/defiinsight/insight/internal/persistence/postgres"
	"github.com/defiinsight/insight/internal/providers"
	"github.com/defiinsight/insight/internal/providers/anthropic"
	"github.com/defiinsight/insight/internal/providers/coingecko"
	"github.com/defiinsight/insight/internal/providers/cryptocompare"
	"github.com/defiinsight/insight/internal/providers/cryptopanic"
	"github.com/defiinsight/insight/internal/providers/defillama"
	"github.com/defiinsight/insight/internal/providers/explorer"
	"github.com/defiinsight/insight/internal/providers/feargreed"
	"github.com/defiinsight/insight/internal/providers/lunarcrush"
	"github.com/defiinsight/insight/internal/providers/telegram"
)

const shutdownGrace = 30 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(settings.LogLevel)

	provCfg, err := config.LoadProvidersConfigOrDefault(flagOrDefault(cmd.Flags(), "config", settings.ProvidersConfig))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, settings.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if doMigrate, _ := cmd.Flags().GetBool("migrate"); doMigrate {
		ran, err := postgres.NewMigrator(db).Apply(ctx, settings.MigrationsDir)
		if err != nil {
			return err
		}
		log.Info().Int("applied", len(ran)).Msg("Migrations up to date")
	}

	store := cache.NewAuto(settings)
	defer store.Close()

	stack := buildProviderStack(settings, provCfg, store)

	var publisher events.Publisher = events.NewNop()
	if settings.KafkaEnabled() {
		publisher = events.NewKafka(settings.KafkaBrokers, settings.KafkaTopic)
		log.Info().Strs("brokers", settings.KafkaBrokers).Str("topic", settings.KafkaTopic).Msg("Kafka events enabled")
	}
	defer publisher.Close()

	server := api.NewServer(settings, api.Deps{
		Users:       postgres.NewUsersRepo(db, postgres.DefaultTimeout),
		Analyses:    postgres.NewAnalysesRepo(db, postgres.DefaultTimeout),
		Portfolios:  postgres.NewPortfoliosRepo(db, postgres.DefaultTimeout),
		Preferences: postgres.NewPreferencesRepo(db, postgres.DefaultTimeout),
		Tokens:      auth.NewTokens(settings.JWTSecret, settings.AccessTokenExpiry),
		Agents:      stack.manager,
		Market:      stack.market,
		Cache:       store,
		DB:          db,
		Breakers:    stack.transport.Breakers(),
		Events:      publisher,
		Metrics:     metrics.NewRegistry(),
	}, version)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// providerStack bundles everything built on top of the guarded transport.
type providerStack struct {
	transport *providers.Client
	manager   *agents.Manager
	market    *market.Service
}

// buildProviderStack wires the provider clients, agents, and the market
// service. Shared by serve and the one-shot analyze command.
func buildProviderStack(settings *config.Settings, provCfg *config.ProvidersConfig, store cache.Cache) *providerStack {
	transport := providers.New(provCfg, store)

	gecko := coingecko.New(transport, providerSection(provCfg, "coingecko"), settings.CoinGeckoAPIKey, settings.CoinGeckoDelay)
	compare := cryptocompare.New(transport, providerSection(provCfg, "cryptocompare"), settings.CryptoCompareKey)
	llama := defillama.New(transport, providerSection(provCfg, "defillama"))
	fng := feargreed.New(transport, providerSection(provCfg, "feargreed"))
	news := cryptopanic.New(transport, providerSection(provCfg, "cryptopanic"), settings.CryptoPanicToken)
	lunar := lunarcrush.New(transport, providerSection(provCfg, "lunarcrush"), settings.LunarCrushKey)
	chain := explorer.New(transport, providerSection(provCfg, "explorer"), settings.EtherscanAPIKey)
	claude := anthropic.New(transport, providerSection(provCfg, "anthropic"), settings.AnthropicAPIKey, settings.AnthropicModel)

	resolver := token.NewResolver(gecko)

	manager := agents.NewManager(
		agents.NewTechnicalAgent(resolver, compare, gecko, transport.Breakers()),
		agents.NewSentimentAgent(resolver, claude,
			agents.NewTelegramSource(telegram.NewSimulated(settings.TelegramChannels...)),
			agents.NewNewsSource(news),
			agents.NewSocialSource(lunar),
		),
		agents.NewOnchainAgent(chain, gecko),
	)

	return &providerStack{
		transport: transport,
		manager:   manager,
		market:    market.NewService(gecko, llama, fng, news, lunar),
	}
}

// providerSection returns the named provider's config, or a disabled zero
// section when the YAML omits it.
func providerSection(cfg *config.ProvidersConfig, name string) config.ProviderConfig {
	if pc, ok := cfg.GetProvider(name); ok {
		return *pc
	}
	log.Warn().Str("provider", name).Msg("Provider missing from config, using zero section")
	return config.ProviderConfig{}
}
