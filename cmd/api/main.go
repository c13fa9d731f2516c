package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"idgate.org/internal/config"
	"idgate.org/internal/crypt"
	"idgate.org/internal/gateway"
	"idgate.org/internal/geo"
	"idgate.org/internal/httpapi"
	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
	"idgate.org/internal/session"
	"idgate.org/internal/throttle"
	"idgate.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	encryptor, err := crypt.NewEncryptor(cfg.MasterKey)
	if err != nil {
		log.Fatalf("encryptor: %v", err)
	}
	index, err := crypt.NewBlindIndex(cfg.IndexKey)
	if err != nil {
		log.Fatalf("blind index: %v", err)
	}
	tokenField := crypt.NewEncryptedField(encryptor, index)

	var sessionStore session.Store
	var mirrors identity.MirrorStore
	var users identity.UserStore
	if db != nil {
		sessionStore = session.NewPGStore(db)
		mirrors = identity.NewPGMirrorStore(db)
		users = identity.NewPGUserStore(db)
	}
	if sessionStore == nil {
		log.Fatal("IDGATE_PG_DSN is required")
	}

	opts := []session.Option{
		session.WithDuration(cfg.SessionDuration),
		session.WithIdleLimit(cfg.IdleLimit),
		session.WithTouchCooldown(cfg.TouchCooldown),
	}
	if cfg.TokenStrategy == config.TokenStrategySigned {
		signer, err := token.NewSigner(cfg.TokenKey)
		if err != nil {
			log.Fatalf("token signer: %v", err)
		}
		opts = append(opts, session.WithSigner(signer))
	}
	if cfg.GeoURL != "" {
		geoClient, err := geo.NewClient(cfg.GeoURL)
		if err != nil {
			log.Fatalf("geo: %v", err)
		}
		opts = append(opts, session.WithGeoResolver(geoClient))
	}
	sessions, err := session.NewService(sessionStore, tokenField, encryptor, opts...)
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}

	// Remote authority when configured, local password table otherwise.
	var gw gateway.Gateway
	if cfg.AuthorityURL != "" {
		gw, err = gateway.NewRemote(cfg.AuthorityURL, cfg.AuthorityAPIKey, cfg.AuthoritySecret, mirrors)
		if err != nil {
			log.Fatalf("gateway: %v", err)
		}
	} else {
		gw = gateway.NewLocal(users)
	}

	var limiter *throttle.Limiter
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = throttle.New(redisClient,
			throttle.WithBudget(cfg.ThrottleMaxAttempts, cfg.ThrottleWindow))
	}

	api := httpapi.New(httpapi.Options{
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Version:    version,
		Sessions:   sessions,
		Gateway:    gw,
		Evaluator: &identity.Evaluator{
			ElevatedAccessLevel:  cfg.ElevatedAccessLevel,
			FullAdminAccessLevel: cfg.FullAdminAccessLevel,
		},
		Users:        users,
		Mirrors:      mirrors,
		Limiter:      limiter,
		IdleLimit:    cfg.IdleLimit,
		CookieSecure: cfg.CookieSecure,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting idgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Println("Stopped")
}
