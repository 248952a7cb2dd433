package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/theapemachine/minne/pkg/archive"
	"github.com/theapemachine/minne/pkg/audit"
	"github.com/theapemachine/minne/pkg/errors"
	"github.com/theapemachine/minne/pkg/memory"
	"github.com/theapemachine/minne/pkg/orchestrator"
	"github.com/theapemachine/minne/pkg/prompt"
	"github.com/theapemachine/minne/pkg/provider"
	"github.com/theapemachine/minne/pkg/ratelimit"
	"github.com/theapemachine/minne/pkg/router"
	"github.com/theapemachine/minne/pkg/service"
)

var (
	portFlag int
	hostFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the completion gateway",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			gateway, cleanup, err := buildGateway()
			if err != nil {
				return err
			}
			defer cleanup()

			addr := fmt.Sprintf("%s:%d", hostFlag, portFlag)
			log.Info("starting gateway", "addr", addr)
			return gateway.Start(addr)
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 8700, "Port to serve on")
	serveCmd.Flags().StringVarP(&hostFlag, "host", "H", "0.0.0.0", "Host address to bind to")
}

/*
buildGateway assembles the full object graph from the viper config:
stores, memory tiers, providers, router, orchestrator and gateway.
Every backend not configured falls back to an in-process default so a
bare install serves requests without any external dependency.
*/
func buildGateway() (*service.Gateway, func(), error) {
	redisClient := redisClientFromConfig()

	counterStore, counterPing := buildCounterStore(redisClient)
	limiter := buildLimiter(counterStore)

	shortTerm := buildShortTerm(redisClient)
	embedder := buildEmbedder()
	vectorStore := buildVectorStore()

	manager := memory.NewManager(
		shortTerm,
		memory.NewLongTerm(embedder, vectorStore),
		memory.WithRecentWindow(viper.GetInt("memory.recent_window")),
		memory.WithSearchK(viper.GetInt("memory.search_k")),
	)

	registry := buildRegistry()

	orchestratorOptions := []orchestrator.Option{
		orchestrator.WithLimiter(limiter),
		orchestrator.WithMemory(manager),
		orchestrator.WithAssembler(buildAssembler()),
		orchestrator.WithRouter(buildRouter()),
		orchestrator.WithRegistry(registry),
		orchestrator.WithRetryConfig(retryFromConfig()),
	}

	if timeout := viper.GetDuration("orchestrator.call_timeout"); timeout > 0 {
		orchestratorOptions = append(orchestratorOptions, orchestrator.WithCallTimeout(timeout))
	}

	auditor, err := buildAuditor()
	if err != nil {
		return nil, nil, err
	}

	if auditor != nil {
		orchestratorOptions = append(orchestratorOptions, orchestrator.WithAuditor(auditor))
	}

	core := orchestrator.New(orchestratorOptions...)

	gatewayOptions := []service.GatewayOption{
		service.WithHealthCheck("counter_store", counterPing),
		service.WithHealthCheck("short_term", shortTerm.Ping),
		service.WithHealthCheck("vector_store", vectorStore.Ping),
	}

	if auditor != nil {
		gatewayOptions = append(gatewayOptions, service.WithAuditor(auditor))
	}

	if secret := jwtSecret(); secret != "" {
		gatewayOptions = append(gatewayOptions, service.WithValidator(newValidator(secret)))
	} else {
		log.Warn("no jwt secret configured, gateway runs in dev mode")
	}

	if archiver := buildArchiver(shortTerm); archiver != nil {
		gatewayOptions = append(gatewayOptions, service.WithArchiver(archiver))
	}

	cleanup := func() {
		manager.Close()

		if auditor != nil {
			_ = auditor.Close()
		}

		if redisClient != nil {
			_ = redisClient.Close()
		}
	}

	return service.NewGateway(core, gatewayOptions...), cleanup, nil
}

func redisClientFromConfig() *redis.Client {
	if viper.GetString("ratelimit.store") != "redis" &&
		viper.GetString("memory.short_term") != "redis" {
		return nil
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = viper.GetString("redis.addr")
	}

	return redis.NewClient(&redis.Options{Addr: addr})
}

func buildCounterStore(redisClient *redis.Client) (ratelimit.CounterStore, func(ctx context.Context) error) {
	if viper.GetString("ratelimit.store") == "redis" && redisClient != nil {
		store := ratelimit.NewRedisCounterStore(redisClient)
		return store, store.Ping
	}

	store := ratelimit.NewMemoryCounterStore()
	return store, store.Ping
}

func buildLimiter(store ratelimit.CounterStore) *ratelimit.Limiter {
	options := []ratelimit.LimiterOption{
		ratelimit.WithBucket(bucketFromConfig("ratelimit")),
	}

	for class := range viper.GetStringMap("ratelimit.classes") {
		options = append(options, ratelimit.WithClass(
			class, bucketFromConfig("ratelimit.classes."+class),
		))
	}

	return ratelimit.NewLimiter(store, options...)
}

func bucketFromConfig(key string) ratelimit.Config {
	config := ratelimit.DefaultConfig()

	if capacity := viper.GetFloat64(key + ".capacity"); capacity > 0 {
		config.Capacity = capacity
	}

	if rate := viper.GetFloat64(key + ".refill_rate"); rate > 0 {
		config.RefillRate = rate
	}

	if ttl := viper.GetDuration(key + ".ttl"); ttl > 0 {
		config.TTL = ttl
	}

	return config
}

func buildShortTerm(redisClient *redis.Client) memory.ShortTerm {
	idleTTL := viper.GetDuration("memory.idle_ttl")

	if viper.GetString("memory.short_term") == "redis" && redisClient != nil {
		return memory.NewRedisShortTerm(redisClient, memory.WithRedisIdleTTL(idleTTL))
	}

	return memory.NewMemoryShortTerm(memory.WithIdleTTL(idleTTL))
}

func buildEmbedder() memory.Embedder {
	switch viper.GetString("embedding.provider") {
	case "openai":
		return provider.NewOpenAIEmbedder()
	case "ollama":
		return provider.NewOllamaEmbedder()
	}

	dims := viper.GetInt("embedding.mock_dims")
	if dims <= 0 {
		dims = 16
	}

	return memory.NewMockEmbedder(dims)
}

func buildVectorStore() memory.VectorStore {
	if viper.GetString("memory.vector") == "qdrant" {
		return memory.NewQdrantStore(
			viper.GetString("memory.qdrant.endpoint"),
			viper.GetString("memory.qdrant.collection"),
		)
	}

	return memory.NewMemoryVectorStore()
}

func buildAssembler() *prompt.Assembler {
	options := []prompt.AssemblerOption{}

	if preamble := viper.GetString("prompt.preamble"); preamble != "" {
		options = append(options, prompt.WithPreamble(preamble))
	}

	if budget := viper.GetInt("prompt.token_budget"); budget > 0 {
		options = append(options, prompt.WithTokenBudget(budget))
	}

	if fragments := viper.GetInt("prompt.max_fragments"); fragments > 0 {
		options = append(options, prompt.WithMaxFragments(fragments))
	}

	return prompt.NewAssembler(options...)
}

func buildRouter() *router.Router {
	options := []router.RouterOption{}

	costly := viper.GetString("router.costly")
	cheap := viper.GetString("router.cheap")

	if costly != "" && cheap != "" {
		options = append(options, router.WithModels(costly, cheap))
	}

	if threshold := viper.GetInt("router.size_threshold"); threshold > 0 {
		options = append(options, router.WithSizeThreshold(threshold))
	}

	return router.NewRouter(options...)
}

/*
buildRegistry binds every configured model to its provider client.
One client per provider name is shared across models. When no model
resolves to a usable client, a scripted-free stub backs the configured
models so a credential-free install still answers.
*/
func buildRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	clients := make(map[string]provider.Client)
	bound := 0

	for model := range viper.GetStringMap("models") {
		providerName := viper.GetString("models." + model + ".provider")

		client, ok := clients[providerName]
		if !ok {
			client = buildClient(providerName)
			clients[providerName] = client
		}

		if client == nil {
			log.Warn("no client for provider, model left unbound",
				"model", model, "provider", providerName)
			continue
		}

		registry.Register(model, provider.Binding{
			Client:      client,
			MaxTokens:   viper.GetInt("models." + model + ".max_tokens"),
			Temperature: viper.GetFloat64("models." + model + ".temperature"),
		})
		bound++
	}

	if bound == 0 {
		log.Warn("no models bound, falling back to the stub provider")
		stub := provider.NewStubClient()

		for _, model := range []string{viper.GetString("router.costly"), viper.GetString("router.cheap")} {
			if model != "" {
				registry.Register(model, provider.Binding{Client: stub, MaxTokens: 512})
			}
		}
	}

	return registry
}

func buildClient(name string) provider.Client {
	switch name {
	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			return nil
		}
		return provider.NewOpenAIProvider(provider.WithOpenAIClient())
	case "anthropic":
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return nil
		}
		return provider.NewAnthropicProvider(provider.WithAnthropicClient())
	case "cohere":
		if os.Getenv("COHERE_API_KEY") == "" {
			return nil
		}
		return provider.NewCohereProvider(provider.WithCohereClient())
	case "deepseek":
		if os.Getenv("DEEPSEEK_API_KEY") == "" {
			return nil
		}
		return provider.NewDeepseekProvider(provider.WithDeepseekClient())
	case "google":
		if os.Getenv("GOOGLE_API_KEY") == "" && os.Getenv("GEMINI_API_KEY") == "" {
			return nil
		}
		return provider.NewGoogleProvider(provider.WithGoogleClient())
	case "ollama":
		return provider.NewOllamaProvider(provider.WithOllamaClient())
	case "stub":
		return provider.NewStubClient()
	}

	return nil
}

func retryFromConfig() *errors.RetryConfig {
	config := errors.DefaultRetryConfig()

	if attempts := viper.GetInt("orchestrator.max_attempts"); attempts > 0 {
		config.MaxAttempts = attempts
	}

	return config
}

func buildAuditor() (*audit.Logger, error) {
	if !viper.GetBool("audit.enabled") {
		return nil, nil
	}

	path := viper.GetString("audit.path")
	if path == "" {
		path = "audit.db"
	}

	if !filepath.IsAbs(path) {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, "."+projectName, path)
	}

	return audit.NewLogger(path)
}

func buildArchiver(shortTerm memory.ShortTerm) *archive.Archiver {
	endpoint := viper.GetString("archive.endpoint")
	if endpoint == "" {
		return nil
	}

	conn, err := archive.NewConn(
		archive.WithEndpoint(endpoint),
		archive.WithBucket(viper.GetString("archive.bucket")),
		archive.WithSecure(viper.GetBool("archive.secure")),
	)
	if err != nil {
		log.Error("failed to connect to object storage, archiving disabled", "error", err)
		return nil
	}

	ensureCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.EnsureBucket(ensureCtx); err != nil {
		log.Error("failed to ensure archive bucket, archiving disabled", "error", err)
		return nil
	}

	return archive.NewArchiver(conn, shortTerm)
}

var longServe = `
Serve the completion gateway.

Examples:
  # Serve on the default port with in-process stores
  minne serve

  # Bind to localhost only
  minne serve --host 127.0.0.1 --port 8700
`
