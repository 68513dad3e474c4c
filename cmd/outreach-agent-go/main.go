package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	hlog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzerolog "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"outreach-agent-go/internal/api/handler"
	"outreach-agent-go/internal/api/router"
	"outreach-agent-go/internal/config"
	applogger "outreach-agent-go/internal/logger"
	"outreach-agent-go/internal/outbox"
	"outreach-agent-go/internal/rag"
	"outreach-agent-go/internal/tracing"
)

func main() {
	var configPath string
	var addr string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.StringVar(&addr, "addr", "", "监听地址，覆盖配置文件")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		hlog.Fatalf("加载配置失败: %v", err)
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	applogger.Init(applogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	hlog.SetLogger(hertzzerolog.From(applogger.Logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceProvider, err := tracing.InitProvider(ctx, &cfg.Tracing)
	if err != nil {
		applogger.Warn().Err(err).Msg("初始化链路追踪失败，继续无追踪运行")
	}

	svc, err := rag.GetService(ctx, cfg)
	if err != nil {
		applogger.Fatal().Err(err).Msg("初始化RAG服务失败")
	}
	defer svc.Close()
	applogger.Info().Msg("RAG服务初始化成功")

	// 直接发布失败的事件由发件箱中继补发
	if st := svc.Store(); st.MySQL != nil && st.RabbitMQ != nil {
		relay := outbox.NewMessageRelay(st.MySQL.DB(), st.RabbitMQ)
		go relay.Start(ctx)
	}

	resumeHandler := handler.NewResumeHandler(cfg, svc)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, resumeHandler)
	applogger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务器启动中")

	go func() {
		if err := h.Run(); err != nil {
			applogger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	applogger.Info().Msg("接收到终止信号，正在优雅退出")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		applogger.Error().Err(err).Msg("服务器关闭失败")
	}
	if err := traceProvider.Shutdown(shutdownCtx); err != nil {
		applogger.Warn().Err(err).Msg("追踪上报关闭失败")
	}
	applogger.Info().Msg("优雅退出完成")
}
