package main

import (
	"context"
	"os/signal"
	"syscall"

	mongoutil "QRGate/data/database/mgo/mongoutil"
	"QRGate/global"
	"QRGate/logger"
	mid "QRGate/middleware"
	midsec "QRGate/middleware/security"
	"QRGate/module/handshake"
	"QRGate/module/handshake/service"
	"QRGate/module/handshake/store"
	"QRGate/service/mgo"
	"QRGate/service/notify"
	"QRGate/service/reaper"
	redisstore "QRGate/service/storage/redis"
	"QRGate/tools/safe"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := global.LoadConfig()
	if err != nil {
		logger.Log.Fatal("configuration error", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1) Storage: constructed manager, reconnects on failure
	mgr := mgo.NewManager()
	mgr.StartAsync(ctx, &mongoutil.Config{
		Uri:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
	})
	if err := mgr.WaitReady(ctx); err != nil {
		logger.Log.Fatal("mongo not reachable", zap.Error(err))
	}

	// repos resolve the handle per operation, so a reconnect swaps the client
	// under them
	sessions := store.NewSessionRepo(mgr.TryDB)
	teachers := store.NewTeacherRepo(mgr.TryDB)

	// 2) Optional Redis, used only to coordinate the reaper across instances
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("redis unavailable, reaper runs unlocked", zap.Error(err))
			rdb = nil
		}
	}
	safe.Go("session-reaper", func() { reaper.New(sessions, rdb).Run(ctx) })

	// 3) Handshake engine + websocket push
	hub := notify.NewHub()
	engine := service.NewEngine(sessions, teachers, cfg.JWTOptions(), service.WithNotifier(hub))
	h := handshake.NewHandler(engine)

	// 4) HTTP surface
	r := gin.New()
	r.Use(gin.Recovery(), mid.Origin())
	r.HandleMethodNotAllowed = true
	r.NoMethod(mid.MethodNotAllowed())

	authRequired := midsec.Middleware(cfg.JWTOptions())

	mid.POST(r, "/api/web-session/generate-qr", h.GenerateQR, mid.RouteOpt{})
	mid.POST(r, "/api/web-session/authenticate", h.Authenticate, mid.RouteOpt{})
	mid.GET(r, "/api/web-session/check-auth", h.CheckAuth, mid.RouteOpt{})
	mid.POST(r, "/api/web-session/verify", h.Verify, mid.RouteOpt{})
	mid.POST(r, "/api/web-session/disconnect", h.Disconnect, mid.RouteOpt{Auth: authRequired})
	mid.GET(r, "/api/web-session/active", h.ActiveSessions, mid.RouteOpt{Auth: authRequired})
	r.GET("/ws/session", hub.HandleWS)

	logger.Infof("[HTTP] Listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Log.Fatal("http server failed", zap.Error(err))
	}
}
