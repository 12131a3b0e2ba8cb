// cmd/api/main.go
// Main entry point for the chat server
// This file bootstraps all components and starts the server

package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imadgeboyega/kiekky-chat/internal/auth"
	"github.com/imadgeboyega/kiekky-chat/internal/common/database"
	"github.com/imadgeboyega/kiekky-chat/internal/config"
	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
	"github.com/imadgeboyega/kiekky-chat/internal/realtime"
)

var startTime = time.Now()

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("========================================")
	log.Println("🚀 Starting Kiekky Chat API")
	log.Println("========================================")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Load environment variables
	log.Println("📁 Step 1: Loading .env file...")
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// 2. Load and validate configuration
	log.Println("\n📋 Step 2: Loading configuration...")
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ Configuration validation failed:", err)
	}
	log.Println("✅ Configuration is valid")

	// 3. Connect to PostgreSQL
	log.Println("\n🗄️  Step 3: Connecting to PostgreSQL...")
	db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL, cfg.DBStatementTimeout)
	if err != nil {
		log.Fatal("❌ Failed to connect to PostgreSQL:", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	log.Println("✅ Connected to PostgreSQL successfully")

	// 4. Run database migrations
	log.Println("\n🔨 Step 4: Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatal("❌ Failed to run migrations:", err)
	}
	log.Println("✅ Database migrations completed")

	// 5. Shared ephemeral store (Redis, or in-process when not configured)
	log.Println("\n📮 Step 5: Connecting to Redis...")
	var store ephemeral.Store
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClientFromURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("❌ Failed to connect to Redis:", err)
		}
		defer redisClient.Close()
		store = ephemeral.NewRedisStore(redisClient, "chat:")
		log.Println("✅ Connected to Redis successfully")
	} else {
		local := ephemeral.NewLocalStore()
		go local.Start(ctx, time.Minute)
		store = local
		log.Println("⚠️  Redis URL not configured, limits and revocations are local to this process")
	}

	limiter := ratelimit.New(store)
	go limiter.Start(ctx, time.Minute)

	// 6. Initialize Auth system
	log.Println("\n🔐 Step 6: Initializing authentication system...")
	authService := auth.NewService(
		auth.NewPostgresRepository(sqlxDB),
		auth.NewRevoker(store, cfg.AccessTokenExpiry),
		&auth.Config{
			JWTSecret:         cfg.JWTSecret,
			AccessTokenExpiry: cfg.AccessTokenExpiry,
			BCryptCost:        cfg.BCryptCost,
		},
	)
	authHandler := auth.NewHandler(authService)
	authMiddleware := auth.NewMiddleware(authService)
	log.Println("✅ Authentication system initialized")

	// 7. Initialize Messaging module
	log.Println("\n💬 Step 7: Initializing Messaging module...")
	messagingRepo := messaging.NewPostgresRepository(sqlxDB)

	var attachments messaging.AttachmentInspector
	if cfg.UseS3 {
		awsSession, err := session.NewSession(&aws.Config{
			Region: aws.String(cfg.AWSRegion),
		})
		if err != nil {
			log.Printf("   ⚠️  AWS session creation failed, attachments are not inspected: %v", err)
		} else {
			attachments = messaging.NewS3Inspector(awsSession, cfg.S3BucketName, cfg.CDNURL, cfg.MaxAttachmentSize)
			log.Println("   ✅ Using S3 for attachment inspection")
		}
	} else {
		log.Println("   ⚠️  S3 not configured, attachments are not inspected")
	}

	var pushService messaging.PushService
	if cfg.EnablePushNotifications {
		pushService, err = messaging.NewPushService(ctx, cfg.FCMCredentialsFile, messagingRepo)
		if err != nil {
			log.Printf("   ⚠️  Warning: Push notifications disabled: %v", err)
			pushService = messaging.NewMockPushService()
		} else {
			log.Println("   ✅ Firebase push notifications enabled")
		}
	} else {
		log.Println("   📝 Using mock push service (development mode)")
		pushService = messaging.NewMockPushService()
	}

	messagingService := messaging.NewService(messagingRepo, store, limiter, attachments, pushService, &messaging.Config{
		IdempotencyTTL:    cfg.IdempotencyTTL,
		MaxMessageLength:  cfg.MaxMessageLength,
		MaxAttachmentSize: cfg.MaxAttachmentSize,
		PushIconURL:       cfg.PushIconURL,
		MessageRule:       ratelimit.Rule{Operation: messaging.EventMessageSend, Limit: cfg.MessageRateLimit, Window: cfg.MessageRateWindow},
		ReactionRule:      ratelimit.Rule{Operation: messaging.EventReactionToggle, Limit: cfg.ReactionRateLimit, Window: cfg.ReactionRateWindow},
	})
	messagingHandler := messaging.NewHandler(messagingService)
	log.Println("✅ Messaging module initialized")

	// 8. Initialize the socket hub
	log.Println("\n🔌 Step 8: Initializing WebSocket hub...")
	hub := realtime.NewHub(messagingService, limiter, store, &realtime.Config{
		MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		PresenceDebounce:      cfg.PresenceDebounce,
		ActiveViewerTTL:       cfg.ActiveViewerTTL,
		TypingTTL:             cfg.TypingTTL,
		TypingRule:            ratelimit.Rule{Operation: messaging.EventTypingStart, Limit: cfg.TypingRateLimit, Window: cfg.TypingRateWindow},
	})

	// Set hub in services (resolve circular dependency)
	messagingService.SetNotifier(hub)
	messagingService.SetViewers(hub)
	authService.SetDisconnector(hub)

	if len(cfg.KafkaBrokers) > 0 {
		hub.SetBus(realtime.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic, hub.NodeID()))
		log.Printf("   ✅ Room events shared over Kafka topic %s", cfg.KafkaTopic)
	} else {
		log.Println("   ⚠️  Kafka not configured, rooms are local to this process")
	}

	go hub.Run(ctx, cfg.ConnectionSweepInterval)
	wsHandler := realtime.NewHandler(hub, realtime.NewGatekeeper(authService, hub.Counter()), cfg.AllowedOrigins)
	log.Println("✅ WebSocket hub started")

	// 9. Setup routes
	log.Println("\n🛣️  Step 9: Setting up routes...")
	router := mux.NewRouter()

	router.HandleFunc("/health", healthCheck(db)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	authHandler.RegisterRoutes(router, authMiddleware)
	log.Println("   ✅ Auth routes registered")

	messaging.RegisterRoutes(router, messagingHandler, authMiddleware.Authenticate)
	log.Println("   ✅ Messaging routes registered")

	realtime.RegisterRoutes(router, wsHandler)
	log.Println("   ✅ WebSocket route registered")

	router.Use(loggingMiddleware)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	// 10. Create and start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Println("\n========================================")
		log.Printf("🚀 Server starting on http://localhost%s", srv.Addr)
		log.Printf("🌍 Environment: %s", cfg.Environment)
		log.Println("========================================")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n⚠️  Shutdown signal received...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("   - Shutting down WebSocket hub...")
	hub.Shutdown()
	stop()

	log.Println("   - Waiting for push deliveries...")
	messagingService.Wait()

	log.Println("✅ Server exited gracefully")
}

// healthCheck returns server health status
func healthCheck(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			log.Printf("⚠️  Health check: database unreachable: %v", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(startTime).String(),
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("→ %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Printf("← %s %s [%d] %v", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code. Hijack
// is passed through so the socket upgrade still works behind the logger.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// corsMiddleware handles CORS. An empty list allows every origin.
func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(allowed) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case originAllowed(origin, allowed):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
