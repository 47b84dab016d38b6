package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexmarket/realtime/admin"
	"github.com/nexmarket/realtime/cache"
	"github.com/nexmarket/realtime/chat"
	"github.com/nexmarket/realtime/global"
	"github.com/nexmarket/realtime/logger"
	"github.com/nexmarket/realtime/middleware"
	"github.com/nexmarket/realtime/offline"
	"github.com/nexmarket/realtime/presence"
	"github.com/nexmarket/realtime/storage/kv"
	"github.com/nexmarket/realtime/storage/mgo"
	"github.com/nexmarket/realtime/store"
	"github.com/nexmarket/realtime/tools/ids"
	"github.com/nexmarket/realtime/tools/safe"
	"github.com/nexmarket/realtime/tools/security"
)

func main() {
	cfg, err := global.Load()
	if err != nil {
		logger.Errorf("[boot] config: %v", err)
		return
	}
	ids.SetNodeID(cfg.NodeID)

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kvs, err := kv.NewRedis(bootCtx, kv.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Errorf("[boot] redis: %v", err)
		return
	}

	mdb, err := mgo.Connect(bootCtx, &mgo.Config{
		URI:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    cfg.Mongo.MaxRetry,
	})
	if err != nil {
		logger.Errorf("[boot] mongo: %v", err)
		return
	}

	users := store.NewUsers(mdb.DB())
	convs := store.NewConversations(mdb.DB())
	userCache := cache.NewUsers(kvs, users, cfg.CacheTTLDur())
	pres := presence.NewTracker(kvs, cfg.PresenceTTLDur())
	offq := offline.NewQueue(kvs, int64(cfg.OfflineMax), cfg.OfflineTTLDur())

	var relay *chat.Relay
	if len(cfg.Nats.Servers) > 0 {
		relay, err = chat.NewRelay(chat.RelayConfig{
			Servers:   cfg.Nats.Servers,
			Name:      cfg.Nats.Name,
			GatewayID: cfg.GatewayID,
		})
		if err != nil {
			logger.Errorf("[boot] nats: %v", err)
			return
		}
		defer relay.Close()
	} else {
		logger.Warnf("[boot] no nats servers configured, cross-instance relay disabled")
	}

	srv, err := chat.NewServer(chat.Options{
		GatewayID:    cfg.GatewayID,
		JWT:          security.DefaultOptions(cfg.JwtSecretBytes()),
		StoreTimeout: cfg.StoreTimeout(),
	}, userCache, pres, offq, convs, relay)
	if err != nil {
		logger.Errorf("[boot] chat server: %v", err)
		return
	}

	// periodic repair: evict projections idle past twice the cache TTL
	safe.Go(func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, _ := userCache.SweepInactive(ctx, 2*cfg.CacheTTLDur())
			cancel()
			if n > 0 {
				logger.Infof("[cache] swept %d inactive projections", n)
			}
		}
	})

	r := gin.New()
	r.Use(gin.Recovery(), middleware.CORS())

	r.GET("/ws",
		middleware.RateLimit(kvs, int64(cfg.ConnectRateLimit), time.Minute),
		srv.HandleWS)

	g := r.Group("/admin", middleware.AdminAuth(cfg.AdminToken))
	admin.NewHandler(userCache, pres).Register(g)

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := gin.H{"gateway": cfg.GatewayID, "conns": srv.Manager().Count()}
		code := http.StatusOK
		if err := kvs.Ping(ctx); err != nil {
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := mdb.DB().Client().Ping(ctx, nil); err != nil {
			status["mongo"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if relay != nil && !relay.Connected() {
			status["nats"] = "disconnected"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	logger.Infof("[boot] gateway %s listening on %s", cfg.GatewayID, cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Errorf("[boot] http server: %v", err)
	}
}
