package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/maverickdeepak/mahadev-auto/config"
	"github.com/maverickdeepak/mahadev-auto/controllers"
	"github.com/maverickdeepak/mahadev-auto/repository"
	"github.com/maverickdeepak/mahadev-auto/routes"
	"github.com/maverickdeepak/mahadev-auto/services"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg)

	db, err := config.ConnectDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	repo := repository.NewServiceRecordRepo(db)

	var locks services.RecordLocker = services.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Fatal("Failed to connect to redis")
		}
		locks = services.NewRedisLocker(rdb, cfg.LockTTL)
		log.WithField("addr", cfg.RedisAddr).Info("Using redis record locks")
	}

	var sender services.MessageSender = services.LogSender{}
	if cfg.TwilioEnabled() {
		sender = services.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)
	} else {
		log.Warn("Twilio not configured, delivery messages will only be logged")
	}
	notifier := services.NewNotificationService(sender, repo, cfg.ShopName, cfg.NotifyTimeout)

	manager := services.NewRecordManager(repo, notifier, locks, cfg.StoreTimeout)

	reconciler := services.NewReconciler(repo, locks, cfg.StoreTimeout)
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		log.WithError(err).Fatal("Invalid RECONCILE_SCHEDULE")
	}
	defer reconciler.Stop()

	r := routes.SetupRouter(routes.Deps{
		Config:    cfg,
		Records:   &controllers.RecordController{Records: manager},
		Reports:   &controllers.ReportController{Records: repo, Timeout: cfg.StoreTimeout},
		Dashboard: &controllers.DashboardController{Records: repo, Timeout: cfg.StoreTimeout},
	})
	printRoutes(r)

	if err := r.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

func printRoutes(r *gin.Engine) {
	for _, route := range r.Routes() {
		fmt.Printf("%-6s %s\n", route.Method, route.Path)
	}
}
