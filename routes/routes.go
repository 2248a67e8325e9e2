package routes

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/maverickdeepak/mahadev-auto/config"
	"github.com/maverickdeepak/mahadev-auto/controllers"
	"github.com/maverickdeepak/mahadev-auto/utils"
)

// Deps is everything the HTTP layer needs, built in main.
type Deps struct {
	Config    config.Config
	Records   *controllers.RecordController
	Reports   *controllers.ReportController
	Dashboard *controllers.DashboardController
}

func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = deps.Config.AllowedOrigins
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Authorization", "Content-Type"}
	corsCfg.ExposeHeaders = []string{"Content-Length"}
	corsCfg.AllowCredentials = true
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(corsCfg))

	r.Use(config.PerformanceLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(utils.AuthMiddleware(deps.Config.JWTSecret))
	{
		records := api.Group("/records")
		{
			records.POST("", deps.Records.CreateRecord)
			records.GET("/search", deps.Records.Search)
			records.GET("/desk", deps.Records.GetDesk)
			records.POST("/:id/select", deps.Records.Select)
			records.PUT("/:id/status", deps.Records.SetStatus)
			records.POST("/:id/items", deps.Records.AddItem)
			records.DELETE("/:id/items/:itemId", deps.Records.RemoveItem)
			records.POST("/:id/payments", deps.Records.PostPayment)
			records.POST("/:id/recalculate", deps.Records.Recalculate)
		}

		confirmations := api.Group("/confirmations")
		{
			confirmations.GET("/pending", deps.Records.PendingConfirmation)
			confirmations.POST("/:token/confirm", deps.Records.Confirm)
			confirmations.POST("/:token/cancel", deps.Records.Cancel)
		}

		api.GET("/payments/pending", deps.Dashboard.GetPendingPayments)
		api.GET("/analytics", deps.Reports.GetAnalytics)
	}

	return r
}
