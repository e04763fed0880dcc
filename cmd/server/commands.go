package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/user/filmrec/internal/handler"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/middleware"
	"github.com/user/filmrec/internal/router"
	"github.com/user/filmrec/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 后台任务（管理接口触发的入库）在服务关闭时取消
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	a, err := newApp(baseCtx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 初始化 Gin
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 中间件
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	h := handler.NewHandler(baseCtx, cfg, a.catalog, a.recommend, a.ingest, a.reconcile)
	router.RegisterRoutes(r, h)

	// 启动定时对账任务
	cleanupSvc := service.NewCleanupService(a.reconcile, cfg.Reconcile.Interval, cfg.Reconcile.Apply, a.recommend.InvalidateCache)
	cleanupSvc.Start(baseCtx)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Msgf("服务器启动于 http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务器启动失败: %w", err)
	}
	logging.Info().Msg("正在关闭服务器...")
	cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	logging.Info().Msg("服务器已退出")
	return nil
}

func newIngestCmd() *cobra.Command {
	var start, end int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "抓取热门电影并写入关系库和向量索引",
		Long: `抓取 TMDB 热门列表的指定页码范围，经过内容过滤和向量化后写入两个存储。
已入库的电影会被跳过，因此可以重复执行。

Examples:
  filmrec ingest --start 1 --end 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("start") {
				cfg.Ingest.StartPage = start
			}
			if cmd.Flags().Changed("end") {
				cfg.Ingest.EndPage = end
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.ingest.Run(ctx, cfg.Ingest.StartPage, cfg.Ingest.EndPage)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d eligible=%d written=%d existing=%d failed=%d vectors=%d duration=%s\n",
				summary.Fetched, summary.Eligible, summary.Written, summary.Existing, summary.Failed,
				summary.Flushed, summary.Duration.Round(time.Millisecond))
			for reason, n := range summary.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "  skipped[%s]=%d\n", reason, n)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&start, "start", 1, "起始页码")
	cmd.Flags().IntVar(&end, "end", 1, "结束页码（包含）")
	return cmd
}

func newResetCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "重建向量集合并清空关系库",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("重置会删除全部数据，请加 --yes 确认")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ingest.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reset complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "确认删除全部数据")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "比较关系库和向量索引并修复不一致",
		Long: `默认只报告差异；加 --apply 后删除孤立向量，
用关系库中的向量副本补写索引，并删除没有向量的电影。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.reconcile.Reconcile(ctx, apply)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relational=%d indexed=%d orphan_vectors=%d repairable=%d unrecoverable=%d applied=%t\n",
				report.Relational, report.Indexed, len(report.OrphanVectors),
				len(report.Repairable), len(report.Unrecoverable), report.Applied)
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "执行修复")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发管理接口使用的 JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminSecret == "" {
				return fmt.Errorf("ADMIN_SECRET 未配置")
			}
			token, err := middleware.GenerateToken(subject, middleware.RoleAdmin, cfg.AdminSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "令牌主体")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "有效期")
	return cmd
}
