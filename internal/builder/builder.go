package builder

import (
    "context"
    "errors"
    "fmt"
    "strings"

    "go.uber.org/zap"

    "github.com/park285/chess-autopilot/internal/autoplay"
    "github.com/park285/chess-autopilot/internal/capture"
    "github.com/park285/chess-autopilot/internal/chess/uci"
    "github.com/park285/chess-autopilot/internal/config"
    "github.com/park285/chess-autopilot/internal/journal"
    "github.com/park285/chess-autopilot/internal/msgcat"
    "github.com/park285/chess-autopilot/internal/pointer"
    "github.com/park285/chess-autopilot/internal/recognizer"
    "github.com/park285/chess-autopilot/internal/statusfeed"
    "github.com/park285/chess-autopilot/internal/store"
    "github.com/park285/chess-autopilot/pkg/feedproto"
)

// Deps is the fully wired process. Optional parts (Journal, Feed) are nil when not configured.
type Deps struct {
    Controller *autoplay.Controller
    Engine     *uci.Client
    Detector   *recognizer.Client
    Recognizer *recognizer.Recognizer
    Screen     *capture.Screen
    Pointer    *pointer.Driver
    Store      store.Store
    Journal    *journal.Repository
    Feed       *statusfeed.Server
    Catalog    *msgcat.Catalog
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
    if cfg == nil {
        return nil, fmt.Errorf("nil config")
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    d := &Deps{}

    // Engine (lazy: handshake on first query)
    engine, err := uci.NewClient(uci.Config{
        BinaryPath:       cfg.StockfishPath,
        Options:          uci.Options{Threads: cfg.EngineThreads, HashMB: cfg.EngineHashMB},
        HandshakeTimeout: cfg.EngineHandshakeTimeout,
        SearchTimeout:    cfg.EngineSearchTimeout,
        Logger:           logger,
    })
    if err != nil {
        return nil, fmt.Errorf("init engine: %w", err)
    }
    d.Engine = engine

    // Recognition
    d.Detector = recognizer.NewClient(cfg.FENAPIURL,
        recognizer.WithTimeout(cfg.FENAPITimeout),
        recognizer.WithLogger(logger),
    )
    d.Screen = capture.NewScreen()
    d.Recognizer = recognizer.New(d.Screen, d.Detector, cfg.PreviewDir, logger)
    d.Pointer = pointer.New(cfg.PointerTool, pointer.WithLogger(logger))

    // Store (Redis optional)
    if strings.TrimSpace(cfg.RedisURL) != "" {
        rs, err := store.NewRedisStore(ctx, cfg.RedisURL, cfg.Profile)
        if err != nil {
            _ = d.Close()
            return nil, fmt.Errorf("init redis store: %w", err)
        }
        d.Store = rs
    } else {
        d.Store = store.NewMemoryStore()
    }

    // Journal (Postgres optional)
    if strings.TrimSpace(cfg.DatabaseURL) != "" {
        repo, err := journal.NewRepository(ctx, cfg.DatabaseURL)
        if err != nil {
            _ = d.Close()
            return nil, fmt.Errorf("init journal: %w", err)
        }
        d.Journal = repo
    }

    catalog, err := msgcat.New(cfg.MessagesDir)
    if err != nil {
        _ = d.Close()
        return nil, fmt.Errorf("load messages: %w", err)
    }
    d.Catalog = catalog

    if cfg.StatusAddr != "" {
        d.Feed = statusfeed.New(cfg.StatusAddr, logger)
    }

    deps := autoplay.Deps{
        Recognizer: d.Recognizer,
        Capturer:   d.Screen,
        Engine:     d.Engine,
        Pointer:    d.Pointer,
        Store:      d.Store,
        Catalog:    d.Catalog,
        Logger:     logger,
    }
    // nil pointers must not leak into the interfaces
    if d.Journal != nil {
        deps.Journal = d.Journal
    }
    if d.Feed != nil {
        deps.Publisher = d.Feed
    }

    ctrl, err := autoplay.New(autoplay.Config{
        LocalColor:    cfg.Color(),
        Depth:         cfg.EngineDepth,
        PollInterval:  cfg.PollInterval,
        HumanDelay:    cfg.HumanDelay,
        HumanJitter:   cfg.HumanJitter,
        Settle:        cfg.SettlePeriod,
        Backoff:       cfg.RecognitionBackoff,
        AutoRecognize: cfg.AutoRecognize,
        AutoPlay:      cfg.AutoPlay,
        Flipped:       cfg.BoardFlipped,
        Locked:        cfg.BoardLocked,
        Adjustment:    cfg.Adjustment(),
        InitialBoard:  cfg.InitialBoard(),
        Thresholds:    cfg.Thresholds(),
        PreviewDir:    cfg.PreviewDir,
    }, deps)
    if err != nil {
        _ = d.Close()
        return nil, err
    }
    d.Controller = ctrl
    return d, nil
}

// Commands is the feed's command stream, or nil when the feed is disabled.
func (d *Deps) Commands() <-chan feedproto.Command {
    if d.Feed == nil {
        return nil
    }
    return d.Feed.Commands()
}

// Close releases the engine process and connections.
func (d *Deps) Close() error {
    var errs []error
    if d.Engine != nil {
        errs = append(errs, d.Engine.Close())
    }
    if d.Store != nil {
        errs = append(errs, d.Store.Close())
    }
    if d.Journal != nil {
        errs = append(errs, d.Journal.Close())
    }
    return errors.Join(errs...)
}
