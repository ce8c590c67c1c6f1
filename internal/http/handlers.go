package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"storefront/internal/analytics"
	"storefront/internal/auth"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/inventory"
	"storefront/internal/metrics"
	"storefront/internal/notify"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/session"
)

// Deps are the components the API is served from.
type Deps struct {
	Products  *service.ProductService
	Orders    *service.OrderService
	Users     *service.UserService
	Auth      *auth.Service
	Tokens    *auth.Tokens
	Checkout  *checkout.Service
	Inventory *inventory.Service
	Analytics *analytics.Service
	Catalog   *catalog.Watcher
	Sessions  session.KV
	Metrics   *metrics.Metrics
	Log       *slog.Logger

	// SessionTTL is the cookie lifetime; it should match the token TTL.
	SessionTTL   time.Duration
	CookieSecure bool
	// UploadsDir is served under /uploads when set.
	UploadsDir string
}

type Server struct {
	engine    *gin.Engine
	products  *service.ProductService
	orders    *service.OrderService
	users     *service.UserService
	auth      *auth.Service
	tokens    *auth.Tokens
	checkout  *checkout.Service
	inventory *inventory.Service
	analytics *analytics.Service
	catalog   *catalog.Watcher
	sessions  session.KV
	shop      *session.Store
	metrics   *metrics.Metrics
	log       *slog.Logger

	sessionTTL   time.Duration
	cookieSecure bool
}

// shopSessionID owns the shop-wide settings blobs.
const shopSessionID = "shop"

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	r := gin.New()
	r.Use(otelgin.Middleware("storefront"), requestLogger(d.Log), gin.Recovery())
	s := &Server{
		engine:       r,
		products:     d.Products,
		orders:       d.Orders,
		users:        d.Users,
		auth:         d.Auth,
		tokens:       d.Tokens,
		checkout:     d.Checkout,
		inventory:    d.Inventory,
		analytics:    d.Analytics,
		catalog:      d.Catalog,
		sessions:     d.Sessions,
		shop:         session.New(d.Sessions, shopSessionID, d.Log),
		metrics:      d.Metrics,
		log:          d.Log,
		sessionTTL:   d.SessionTTL,
		cookieSecure: d.CookieSecure,
	}
	if d.UploadsDir != "" {
		r.Static("/uploads", d.UploadsDir)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := s.engine.Group("/api/v1", s.withSession())
	{
		v1.GET("/session", s.getSession)

		authGroup := v1.Group("/auth")
		authGroup.POST("/login", s.login)
		authGroup.POST("/logout", s.logout)
		authGroup.POST("/signup", s.signup)
		authGroup.POST("/signup/verify", s.verifySignup)

		products := v1.Group("/products")
		products.GET("", s.listProducts)
		products.GET("/live", s.liveProducts)
		products.GET(":id", s.require(auth.ActionViewProduct), s.getProduct)

		cartGroup := v1.Group("/cart", s.require(auth.ActionUseCart))
		cartGroup.GET("", s.getCart)
		cartGroup.POST("/items", s.addToCart)
		cartGroup.POST("/items/:id/increment", s.incrementCartLine)
		cartGroup.POST("/items/:id/decrement", s.decrementCartLine)
		cartGroup.DELETE("/items/:id", s.removeCartLine)
		cartGroup.DELETE("", s.clearCart)

		co := v1.Group("/checkout", s.require(auth.ActionCheckout))
		co.GET("", s.getCheckout)
		co.PUT("/method", s.selectPaymentMethod)
		co.PUT("/details", s.setCheckoutDetails)
		co.POST("/submit", s.submitCheckout)
		co.POST("/pin", s.submitPin)
		co.POST("/cancel", s.cancelCheckout)
		co.POST("/finish", s.finishCheckout)

		me := v1.Group("/me", s.require(auth.ActionManageAccount))
		me.GET("/profile", s.getProfile)
		me.PUT("/profile", s.updateProfile)
		me.PUT("/password", s.changePassword)
		me.GET("/settings/:kind", s.getSettings)
		me.PUT("/settings/:kind", s.putSettings)

		adminAuth := v1.Group("/admin/auth")
		adminAuth.POST("/login", s.adminLogin)
		adminAuth.POST("/logout", s.adminLogout)

		admin := v1.Group("/admin", s.require(auth.ActionAdminister))
		admin.GET("/products", s.adminListProducts)
		admin.POST("/products", s.createProduct)
		admin.POST("/products/images", s.uploadProductImage)
		admin.GET("/products/:id", s.adminGetProduct)
		admin.PUT("/products/:id", s.updateProduct)
		admin.DELETE("/products/:id", s.deleteProduct)

		admin.GET("/orders", s.listOrders)
		admin.GET("/orders/:id", s.getOrder)
		admin.PUT("/orders/:id/status", s.updateOrderStatus)

		admin.GET("/users", s.listUsers)
		admin.POST("/users", s.createUser)
		admin.GET("/users/:id", s.getUser)
		admin.PUT("/users/:id", s.updateUser)
		admin.DELETE("/users/:id", s.deleteUser)
		admin.POST("/users/:id/ban", s.toggleBan)

		admin.GET("/inventory", s.getInventory)
		admin.POST("/inventory", s.addStockEntry)
		admin.GET("/inventory/low", s.lowStock)
		admin.POST("/inventory/:id/adjust", s.adjustStock)

		admin.GET("/analytics", s.analyticsReport)

		admin.GET("/settings/store", s.getStoreSettings)
		admin.PUT("/settings/store", s.putStoreSettings)
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("took", time.Since(start)),
		)
	}
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// fail writes err as {"error": ...}; validation errors also name the field.
func (s *Server) fail(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(c.Request.Context(), "request failed", "route", c.FullPath(), "err", err)
	}
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		c.JSON(status, gin.H{"error": verr.Message, "field": verr.Field})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func mapErrorToStatus(err error) int {
	var verr *checkout.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, inventory.ErrInvalidInput),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrWrongPassword),
		errors.Is(err, auth.ErrIncorrectCode),
		errors.Is(err, auth.ErrNoPendingSignup),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, session.ErrUnknownSettings):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrLoginRequired), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrAdminRequired), errors.Is(err, auth.ErrBanned):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, checkout.ErrInvalidState),
		errors.Is(err, checkout.ErrNotEnoughStock),
		errors.Is(err, checkout.ErrUnknownProduct):
		return http.StatusConflict
	case errors.Is(err, notify.ErrRateLimited), errors.Is(err, auth.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, auth.ErrNotificationFailed):
		return http.StatusBadGateway
	case errors.Is(err, checkout.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
