package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/network"
	"github.com/annel0/shiku-server/internal/protocol"
)

// Deps — зависимости REST-поверхности. Коллбеки обязаны быть
// потокобезопасными: gin обслуживает запросы из своих горутин.
type Deps struct {
	Network *network.Server
	// ProviderLogin передаёт OAuth-редирект актору по id сессии
	ProviderLogin func(sessionID string, payload protocol.ProviderPayload)
	// MintAdminTicket меняет пароль редактора на JWT-билет
	MintAdminTicket func(password string) (string, error)
}

// Server — тонкая REST-поверхность: websocket-апгрейд, health,
// OAuth-коллбек провайдеров и выдача админских билетов.
type Server struct {
	http *http.Server
	log  *logging.Logger
}

// NewServer собирает роутер и HTTP-сервер на указанном порту
func NewServer(port int, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("rest_api"))

	log := logging.GetComponentLogger("api")

	router.GET("/ws", func(c *gin.Context) {
		// Апгрейд пишет ответ сам; ошибки уже залогированы транспортом
		_ = deps.Network.Upgrade(c.Writer, c.Request)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Сторонний провайдер возвращает браузер сюда; state несёт id сессии
	router.GET("/auth/callback/:provider", func(c *gin.Context) {
		state := c.Query("state")
		code := c.Query("code")
		if state == "" || code == "" {
			c.String(http.StatusBadRequest, "missing code or state")
			return
		}
		deps.ProviderLogin(state, protocol.ProviderPayload{
			Provider: c.Param("provider"),
			Code:     code,
			State:    state,
		})
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, "<html><body>Login accepted, you can close this window.</body></html>")
	})

	router.POST("/admin/login", func(c *gin.Context) {
		var body struct {
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
			return
		}
		ticket, err := deps.MintAdminTicket(body.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ticket": ticket})
	})

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start запускает сервер в фоне
func (s *Server) Start() {
	go func() {
		s.log.Info("🌐 REST/WS listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server failed: %v", err)
		}
	}()
}

// Shutdown мягко останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
