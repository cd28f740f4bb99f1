// Package server HTTP 服务装配：任务存储后端选择、管道服务与路由
package server

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"allocexport/internal/api"
	"allocexport/internal/config"
	"allocexport/internal/jobstore"
	"allocexport/internal/model"
	"allocexport/internal/pipeline"
	"allocexport/internal/retry"
)

// Server HTTP服务器
type Server struct {
	router *gin.Engine
	store  jobstore.Store
	api    *api.Handler
}

// NewServer 创建服务器
func NewServer(cfg *config.AppConfig) (*Server, error) {
	devMode := cfg.Server.DevMode
	if !devMode {
		gin.SetMode(gin.ReleaseMode)
	}

	dataDir, err := config.EnsureDataDir(cfg)
	if err != nil {
		dataDir = cfg.Data.DataDir
	}

	store, err := newJobStore(cfg, dataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化任务存储失败: %w", err)
	}

	runner := pipeline.NewRunner(model.DefaultProfile(), store, pipeline.Config{
		WorkDir:    filepath.Join(dataDir, "work"),
		ExportDir:  filepath.Join(dataDir, "exports"),
		BufferRows: cfg.Export.BufferRows,
		ChunkRows:  cfg.Export.ChunkRows,
		BOM:        cfg.Export.BOM,
		Retry:      retryOptions(cfg),
	})

	dataFile := filepath.Join(dataDir, cfg.Data.DataFile)
	svc := pipeline.NewService(runner, store, dataFile)

	s := &Server{
		router: gin.Default(),
		store:  store,
		api:    api.NewHandler(svc),
	}

	s.setupRoutes()

	return s, nil
}

// newJobStore 按配置选择任务存储后端
func newJobStore(cfg *config.AppConfig, dataDir string) (jobstore.Store, error) {
	ttl := time.Duration(cfg.JobStore.TTLMinutes) * time.Minute

	switch cfg.JobStore.Backend {
	case "", "memory":
		return jobstore.NewMemoryStore(ttl), nil
	case "sqlite":
		return jobstore.NewSQLiteStore(filepath.Join(dataDir, "allocexport.db"))
	case "redis":
		return jobstore.NewRedisStore(jobstore.RedisConfig{
			Addr:      cfg.JobStore.RedisAddr,
			DB:        cfg.JobStore.RedisDB,
			Namespace: cfg.JobStore.Namespace,
			TTL:       ttl,
		}), nil
	}
	return nil, fmt.Errorf("未知的任务存储后端: %s", cfg.JobStore.Backend)
}

func retryOptions(cfg *config.AppConfig) retry.Options {
	opts := retry.Options{
		Attempts:   cfg.Retry.Attempts,
		BaseDelay:  time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		Multiplier: cfg.Retry.Multiplier,
		MaxDelay:   time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
	}
	return opts
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// API 路由
	apiGroup := s.router.Group("/api")
	{
		s.api.RegisterRoutes(apiGroup)
	}

	// Prometheus 指标
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Run 启动服务器
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Close 释放存储资源
func (s *Server) Close() error {
	if closer, ok := s.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// GetStore 获取存储（用于测试）
func (s *Server) GetStore() jobstore.Store {
	return s.store
}
