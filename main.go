package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/Chative-Task-Chat/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	conversationx "github.com/tanpawarit/Chative-Task-Chat/agent/conversation"
	dispatchx "github.com/tanpawarit/Chative-Task-Chat/agent/dispatch"
	gatewayx "github.com/tanpawarit/Chative-Task-Chat/agent/gateway"
	ledgerx "github.com/tanpawarit/Chative-Task-Chat/agent/ledger"
	llmx "github.com/tanpawarit/Chative-Task-Chat/agent/llm"
	promptx "github.com/tanpawarit/Chative-Task-Chat/agent/prompt"
	taskx "github.com/tanpawarit/Chative-Task-Chat/agent/task"
	toolx "github.com/tanpawarit/Chative-Task-Chat/agent/tool"
	"github.com/tanpawarit/Chative-Task-Chat/api"
	authx "github.com/tanpawarit/Chative-Task-Chat/pkg/auth"
	configx "github.com/tanpawarit/Chative-Task-Chat/pkg/config"
	databasex "github.com/tanpawarit/Chative-Task-Chat/pkg/database"
	_ "github.com/tanpawarit/Chative-Task-Chat/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Task-Chat/pkg/openrouter"
)

type HTTPConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"15s"`
}

func main() {
	httpCfg := configx.MustNew[HTTPConfig]("HTTP")
	dbCfg := configx.MustNew[databasex.Config]("DATABASE")
	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	authCfg := configx.MustNew[authx.Config]("AUTH")
	chatCfg := configx.MustNew[orchestratorx.Config]("CHAT")
	upstashCfg := configx.MustNew[ledgerx.UpstashConfig]("UPSTASH")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := databasex.Open(ctx, *dbCfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", dbCfg.Driver).Msg("open database")
	}
	defer db.Close()

	tasks := taskx.NewRepository(db)
	if err := tasks.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate tasks")
	}
	store := conversationx.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate conversations")
	}

	ledger, err := buildLedger(*upstashCfg, conversationx.NewLedger(db))
	if err != nil {
		log.Fatal().Err(err).Msg("build invocation ledger")
	}
	dispatcher, err := dispatchx.New(toolx.New(tasks), ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("build tool dispatcher")
	}

	client := openrouterx.NewClient(*openRouterCfg)
	gateway, err := gatewayx.New(&client.Chat.Completions, *llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build model gateway")
	}

	orchestrator, err := orchestratorx.New(store, gateway, dispatcher, promptx.LoadPromptSet().Chat, *chatCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build orchestrator")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(api.RequestLogger())
	api.NewHandler(orchestrator, authx.MustNew(*authCfg)).RegisterRoutes(e)

	go func() {
		log.Info().Str("addr", httpCfg.Addr).Str("model", llmCfg.Model).Msg("chat server listening")
		if err := e.Start(httpCfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// buildLedger puts the Upstash cache in front of the SQL ledger when it is
// configured.
func buildLedger(cfg ledgerx.UpstashConfig, durable contractx.Ledger) (contractx.Ledger, error) {
	if !cfg.Enabled() {
		return durable, nil
	}
	cache, err := ledgerx.NewUpstashLedger(cfg)
	if err != nil {
		return nil, err
	}
	return ledgerx.NewLayered(cache, durable)
}
