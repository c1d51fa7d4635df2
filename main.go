package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"invest-settlement-system/handlers"
	"invest-settlement-system/middleware"
	"invest-settlement-system/models"
	"invest-settlement-system/services"
	"invest-settlement-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Tier{},
		&models.Subscription{},
		&models.LedgerEntry{},
		&models.Rank{},
		&models.Signal{},
		&models.SignalParticipation{},
		&models.TimedOrder{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// --- CONFIGURE chain verification ---
	rpcURL := os.Getenv("CHAIN_RPC_URL")
	if rpcURL == "" {
		log.Fatal("CHAIN_RPC_URL environment variable not set")
	}
	tokenContract := os.Getenv("PAYMENT_TOKEN_CONTRACT")
	if tokenContract == "" {
		log.Fatal("PAYMENT_TOKEN_CONTRACT environment variable not set")
	}
	receivingAddress := os.Getenv("PAYMENT_RECEIVING_ADDRESS")
	if receivingAddress == "" {
		log.Fatal("PAYMENT_RECEIVING_ADDRESS environment variable not set")
	}
	tokenDecimals, err := strconv.Atoi(getEnvDefault("PAYMENT_TOKEN_DECIMALS", "18"))
	if err != nil {
		log.Fatal("PAYMENT_TOKEN_DECIMALS must be an integer")
	}
	requiredConfirmations, err := strconv.Atoi(getEnvDefault("REQUIRED_CONFIRMATIONS", "12"))
	if err != nil {
		log.Fatal("REQUIRED_CONFIRMATIONS must be an integer")
	}
	// --- END CONFIG ---

	verifier := services.NewChainVerifier(rpcURL, tokenContract, receivingAddress, tokenDecimals)

	ledgerService := services.NewLedgerService(db)
	commissionService := services.NewCommissionService(db, ledgerService)
	rankService := services.NewRankService(db)
	activationService := services.NewActivationService(db, ledgerService, commissionService, rankService, verifier, requiredConfirmations)
	signalService := services.NewSignalService(db, ledgerService, rankService)
	adminService := services.NewAdminService(db, ledgerService, activationService, rankService, signalService)

	if err := adminService.SeedTiers(); err != nil {
		log.Fatal("failed to seed tiers:", err)
	}
	if err := rankService.SeedRanks(); err != nil {
		log.Fatal("failed to seed ranks:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verificationWorker := workers.NewVerificationWorker(db, activationService)
	go workers.PollPendingDeposits(ctx, verificationWorker, 30*time.Second)

	signalService.StartSettlementScheduler()

	handlers.SetupDepositRoutes(app, activationService, ledgerService, adminService)
	handlers.SetupSignalRoutes(app, signalService)
	handlers.SetupAdminRoutes(app, adminService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Deposit re-verification polling running (every 30s)")
	log.Println("✅ Signal settlement scheduler running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
