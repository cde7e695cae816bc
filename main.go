package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	apirest "github.com/ashvale/alchemyd/api/rest"
	"github.com/ashvale/alchemyd/api/sse"
	"github.com/ashvale/alchemyd/audit"
	"github.com/ashvale/alchemyd/bridge"
	"github.com/ashvale/alchemyd/cache"
	"github.com/ashvale/alchemyd/config"
	dbadapter "github.com/ashvale/alchemyd/db"
	"github.com/ashvale/alchemyd/engine/crafting"
	"github.com/ashvale/alchemyd/engine/guild"
	"github.com/ashvale/alchemyd/engine/ledger"
	"github.com/ashvale/alchemyd/engine/registry"
	"github.com/ashvale/alchemyd/hook"
	mw "github.com/ashvale/alchemyd/middleware"
	"github.com/ashvale/alchemyd/model"
	"github.com/ashvale/alchemyd/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Hook Center ----
	hooks := hook.NewCenter()

	// ---- External Ledger Bridge ----
	var br bridge.ExternalLedger
	if cfg.Bridge.Mode == "log" {
		br = bridge.NewLogOnly(logger)
	}

	// ---- Engine Services ----
	ledgerSvc := ledger.NewService(db, br, logger)
	registrySvc := registry.NewService(db, logger)
	craftingSvc := crafting.NewService(db, registrySvc, ledgerSvc, hooks, logger)
	guildSvc := guild.NewService(db, c, ledgerSvc, hooks, logger)

	// Publish economy events to SSE subscribers and the audit trail.
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	publishEvent := func(ctx context.Context, event string, data interface{}) (interface{}, error) {
		payload, _ := json.Marshal(gin.H{"event": event, "data": data})
		if err := sseH.Publish(ctx, string(payload)); err != nil {
			logger.Warn("event publish failed", zap.String("event", event), zap.Error(err))
		}
		auditSvc.Log(audit.AuditEntry{Action: event, Response: data})
		return data, nil
	}
	for _, event := range []string{
		hook.OnCraftStarted,
		hook.OnCraftResolved,
		hook.OnCraftCancelled,
		hook.OnGuildCreated,
		hook.OnContribution,
		hook.OnQuestCreated,
		hook.OnQuestCompleted,
		hook.OnQuestExpired,
	} {
		hooks.Register(event, 100, "economy_feed", publishEvent)
	}

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("quest_expiry", cfg.Economy.QuestSweepInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := guildSvc.ExpireDue(ctx); err != nil {
			logger.Error("quest expiry sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("quest expiry sweep", zap.Int("expired", n))
		}
	})
	sched.AddTicker("session_prune", cfg.Economy.SessionPruneInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cutoff := time.Now().Add(-cfg.Economy.SessionRetention)
		if n, err := craftingSvc.PruneTerminal(ctx, cutoff); err != nil {
			logger.Error("session prune failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("session prune", zap.Int64("removed", n))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	materialH := apirest.NewMaterialHandler(db, ledgerSvc)
	recipeH := apirest.NewRecipeHandler(registrySvc)
	craftH := apirest.NewCraftingHandler(craftingSvc)
	guildH := apirest.NewGuildHandler(guildSvc)
	adminH := apirest.NewAdminHandler(db, ledgerSvc, registrySvc, guildSvc, sched, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		matG := api.Group("/materials")
		matG.GET("", materialH.List)
		matG.GET("/:id", materialH.Detail)
		matG.POST("/transfer", mw.Auth(cfg.Security, c), materialH.Transfer)

		holdG := api.Group("/holdings")
		holdG.Use(mw.Auth(cfg.Security, c))
		holdG.GET("", materialH.Holdings)
		holdG.GET("/:materialID", materialH.Balance)

		recipeG := api.Group("/recipes")
		recipeG.GET("", recipeH.List)
		recipeG.GET("/:id", recipeH.Detail)
		recipeG.POST("", mw.Auth(cfg.Security, c), recipeH.Create)

		craftG := api.Group("/craft")
		craftG.Use(mw.Auth(cfg.Security, c))
		craftG.POST("", craftH.Start)
		craftG.GET("/history", craftH.History)
		craftG.GET("/:id", craftH.Status)
		craftG.POST("/:id/complete", craftH.Complete)
		craftG.POST("/:id/cancel", craftH.Cancel)

		guildsG := api.Group("/guilds")
		guildsG.Use(mw.Auth(cfg.Security, c))
		guildsG.POST("", guildH.Create)
		guildsG.GET("", guildH.List)
		guildsG.GET("/:id", guildH.Detail)
		guildsG.POST("/:id/join", guildH.Join)
		guildsG.POST("/leave", guildH.Leave)
		guildsG.POST("/contribute", guildH.Contribute)
		guildsG.PUT("/members/role", guildH.Promote)
		guildsG.GET("/:id/leaderboard", guildH.Leaderboard)
		guildsG.GET("/:id/activity", guildH.Activity)
		guildsG.POST("/quests", guildH.CreateQuest)
		guildsG.GET("/:id/quests", guildH.ListQuests)

		questsG := api.Group("/quests")
		questsG.Use(mw.Auth(cfg.Security, c))
		questsG.POST("/:id/accept", guildH.AcceptQuest)
		questsG.POST("/:id/complete", guildH.CompleteQuest)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPWhitelist))
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.POST("/materials", adminH.CreateMaterial)
		adminG.PUT("/materials/:id/enabled", adminH.SetMaterialEnabled)
		adminG.POST("/materials/:id/mint", adminH.Mint)
		adminG.POST("/recipes/:id/approve", adminH.ApproveRecipe)
		adminG.PUT("/recipes/:id/enabled", adminH.SetRecipeEnabled)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.POST("/quests/sweep", adminH.SweepQuests)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- SSE ----
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
