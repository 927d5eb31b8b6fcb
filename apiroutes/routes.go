package apiroutes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tradewell/go-exchange-vault/api"
	"github.com/tradewell/go-exchange-vault/api/interceptors"
	"github.com/tradewell/go-exchange-vault/global"
	"github.com/tradewell/go-exchange-vault/metrics"
	"github.com/tradewell/go-exchange-vault/repository"
	"github.com/tradewell/go-exchange-vault/services"
	"github.com/tradewell/go-exchange-vault/types"
)

// REST API routes
func ConfigRoutes(router *gin.Engine, dbSelector repository.DBSelector, vaultService *services.VaultService, env *types.Environment) *gin.Engine {
	// init metrics
	if global.Conf.Prometheus.Enabled {

		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	// SERVICE definitions
	credentialService := services.NewCredentialService(dbSelector, vaultService)
	resolverService := services.NewResolverService(dbSelector)
	signerService := services.NewSignerService(nil)

	// API definitions
	healthCheckApi := api.NewHealthCheckAPI()
	credentialsApi := api.NewCredentialsApi(credentialService, resolverService, signerService)
	keysApi := api.NewKeysApi(credentialService, vaultService, env)

	// PUBLIC API
	publicApi := router.Group("/api", metrics.MetricsMiddleware())
	{
		publicApi.GET("/v1/healthcheck", healthCheckApi.HealthCheck)
	}

	// OPERATOR API
	rootApi := router.Group("/api", metrics.MetricsMiddleware(), interceptors.RateLimitMiddleware(), interceptors.JWSMiddleware())
	{
		rootApi.POST("/v1/credentials", credentialsApi.CreateCredential)
		rootApi.GET("/v1/credentials/:clientId/:exchange", credentialsApi.GetCredential)
		rootApi.DELETE("/v1/credentials/:clientId/:exchange", credentialsApi.DeleteCredential)
		rootApi.GET("/v1/credentials/:clientId/:exchange/diagnose", credentialsApi.Diagnose)
		rootApi.POST("/v1/credentials/:clientId/:exchange/reconcile", credentialsApi.Reconcile)
		rootApi.POST("/v1/credentials/:clientId/:exchange/verify", credentialsApi.Verify)
		rootApi.GET("/v1/keys", keysApi.KeyStatus)
		rootApi.POST("/v1/keys/reencrypt", keysApi.Reencrypt)
		rootApi.POST("/v1/keys/:version/retire", keysApi.Retire)
	}

	return router
}
