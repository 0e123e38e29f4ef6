package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"NProject/global/config"
	"NProject/logger"
	"NProject/service/audit"
	"NProject/service/authz"
	"NProject/service/collab"
	"NProject/service/collab/handlers"
	"NProject/service/relay"
	"NProject/service/store"
	redisx "NProject/service/storage/redis"
	"NProject/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	config.ConfigAll()

	nodeID := strconv.FormatInt(config.Global.NodeID, 10)

	// Mongo-backed stores when available, in-memory fallbacks for single-node
	// development.
	var docStore store.DocumentStore
	var oracle authz.Oracle
	connCtx, cancelConn := context.WithTimeout(context.Background(), 10*time.Second)
	cli, err := config.ConfigMgo(connCtx)
	cancelConn()
	if err != nil {
		logger.Warnf("[main] mongo unavailable, using in-memory stores err=%v", err)
		docStore = store.NewMemoryStore()
		oracle = authz.NewMapOracle()
	} else {
		docStore = store.NewMongoStore(cli)
		oracle = authz.NewMongoOracle(cli, authz.NewFlagStore())
	}

	var sink collab.OperationSink
	var auditSink *audit.KafkaSink
	if config.Global.AuditEnabled {
		s, err := audit.NewKafkaSink(audit.Config{
			Brokers: config.Global.KafkaBrokers,
			Topic:   config.Global.AuditTopic,
		})
		if err != nil {
			logger.Warnf("[main] kafka unavailable, auditing disabled err=%v", err)
		} else {
			sink, auditSink = s, s
		}
	}

	var tap collab.EventTap
	var bus *relay.Relay
	if config.Global.RelayEnabled {
		r, err := relay.NewRelay(relay.Config{
			Servers: config.Global.NatsServers,
			Name:    "collab-node-" + nodeID,
		}, nodeID)
		if err != nil {
			logger.Warnf("[main] nats unavailable, relay disabled err=%v", err)
		} else {
			tap, bus = r, r
		}
	}

	mgr := collab.NewConnManager(collab.ManagerConf{
		ConnTTL: config.Global.SessionTTL,
	}, nodeID)
	reg := collab.NewSessionRegistry(collab.RegistryConf{
		SessionTTL:     config.Global.SessionTTL,
		CursorInterval: config.Global.CursorInterval,
	}, nodeID)
	bc := collab.NewBroadcaster(mgr, reg, tap)
	table := collab.NewRoomTable(collab.RoomConf{
		HistoryLimit: config.Global.HistoryLimit,
		Writer: store.WriterConf{
			RetryBase: config.Global.RetryBase,
			RetryCap:  config.Global.RetryCap,
		},
	}, docStore, sink)
	table.Attach(bc)
	reg.Attach(bc, table, mgr)
	reg.Start()

	gate := collab.NewGate(oracle, security.DefaultOptions(config.GetJwtSecret()), reg, table, bc)

	cctx := &collab.Context{Reg: reg, Rooms: table, Gate: gate, Mgr: mgr, Bc: bc}

	disp := collab.NewDispatcher()
	disp.Register(handlers.NewJoinHandler())
	disp.Register(handlers.NewLeaveHandler())
	disp.Register(handlers.NewOperationHandler())
	disp.Register(handlers.NewCursorHandler())
	disp.Register(handlers.NewPingHandler())

	ws := collab.NewServer(cctx, disp)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", ws.HandleWS)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": nodeID})
	})

	srv := &http.Server{Addr: ":" + config.Global.Port, Handler: router}
	go func() {
		logger.Infof("[main] listening on :%s node=%s", config.Global.Port, nodeID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[main] server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("[main] shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)

	reg.Stop()
	table.Shutdown() // flushes every room's writer
	mgr.Close()
	if auditSink != nil {
		_ = auditSink.Close()
	}
	if bus != nil {
		bus.Close()
	}
	_ = redisx.CloseRedis()
	logger.Sync()
}
