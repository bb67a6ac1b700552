// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/nacos"
)

// AppCtx 是注册路由时可用的公共组件。
type AppCtx struct {
	Router   chi.Router
	Nacos    *nacos.Client
	Registry *prometheus.Registry
}

// AppInfo 包含了启动服务所需的特定信息。
type AppInfo struct {
	Config           *Config
	Nacos            *nacos.Client
	Registry         *prometheus.Registry
	RegisterHandlers func(appCtx AppCtx)
	// Cleanup 在 HTTP 服务器关闭后按注册的逆序执行。
	Cleanup []func(ctx context.Context) error
}

// NewRouter 创建带有公共中间件、/healthz 和 /metrics 的路由。
func NewRouter(reg *prometheus.Registry) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	return r
}

// StartService 封装了通用的启动、服务注册和优雅关停逻辑，阻塞直到 ctx 结束或收到退出信号。
func StartService(ctx context.Context, info AppInfo) error {
	cfg := info.Config
	log := logger.L()

	router := NewRouter(info.Registry)
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Router: router, Nacos: info.Nacos, Registry: info.Registry})
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("🚀 %s listening on :%d", cfg.Service.Name, cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var ip string
	if info.Nacos != nil {
		var err error
		ip, err = OutboundIP()
		if err != nil {
			return err
		}
		if err := info.Nacos.RegisterServiceInstance(cfg.Service.Name, ip, cfg.HTTP.Port); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	log.Info().Msgf("Shutting down service %s...", cfg.Service.Name)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if info.Nacos != nil {
		if err := info.Nacos.DeregisterServiceInstance(cfg.Service.Name, ip, cfg.HTTP.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}
	for i := len(info.Cleanup) - 1; i >= 0; i-- {
		if err := info.Cleanup[i](shutdownCtx); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
		}
	}
	log.Info().Msgf("Service %s gracefully shut down.", cfg.Service.Name)
	return nil
}

// OutboundIP 返回本机用于对外通信的 IP，用于 Nacos 注册。
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
