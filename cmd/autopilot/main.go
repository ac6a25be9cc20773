package main

import (
    "context"
    "log"
    "os/signal"
    "syscall"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "github.com/park285/chess-autopilot/internal/builder"
    appcfg "github.com/park285/chess-autopilot/internal/config"
    "github.com/park285/chess-autopilot/internal/obslog"
)

func main() {
    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    if err := obslog.InitFromEnv(); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    logger := obslog.L()
    defer func() { _ = logger.Sync() }()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    deps, err := builder.New(ctx, cfg, logger)
    if err != nil {
        logger.Fatal("init_failed", zap.Error(err))
    }
    defer func() {
        if err := deps.Close(); err != nil {
            logger.Warn("shutdown_close_failed", zap.Error(err))
        }
    }()

    // 엔진은 첫 분석 때 다시 시도하므로 여기서 실패해도 계속 진행
    if err := deps.Engine.Start(ctx); err != nil {
        logger.Warn("engine_start_failed", zap.String("path", cfg.StockfishPath), zap.Error(err))
    } else if err := deps.Engine.NewGame(ctx); err != nil {
        logger.Warn("engine_newgame_failed", zap.Error(err))
    }

    logger.Info("autopilot_start",
        zap.String("local_color", string(cfg.Color())),
        zap.Bool("auto_play", cfg.AutoPlay),
        zap.String("fen_api", deps.Detector.URL()),
        zap.String("status_addr", cfg.StatusAddr),
        zap.String("profile", cfg.Profile),
    )

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { return deps.Controller.Run(gctx, deps.Commands()) })
    if deps.Feed != nil {
        g.Go(func() error { return deps.Feed.Run(gctx) })
    }
    if err := g.Wait(); err != nil {
        logger.Error("autopilot_stopped", zap.Error(err))
        return
    }
    logger.Info("autopilot_stopped")
}
