package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/chess"
)

type AppConfig struct {
	StockfishPath          string        `yaml:"stockfishPath"`
	EngineDepth            int           `yaml:"engineDepth"`
	EngineHandshakeTimeout time.Duration `yaml:"engineHandshakeTimeout"`
	EngineSearchTimeout    time.Duration `yaml:"engineSearchTimeout"`
	EngineThreads          int           `yaml:"engineThreads"`
	EngineHashMB           int           `yaml:"engineHashMB"`

	FENAPIURL     string        `yaml:"fenApiUrl"`
	FENAPITimeout time.Duration `yaml:"fenApiTimeout"`

	LocalColor    string `yaml:"localColor"`
	BoardFlipped  bool   `yaml:"boardFlipped"`
	AutoPlay      bool   `yaml:"autoPlay"`
	AutoRecognize bool   `yaml:"autoRecognize"`

	PollInterval       time.Duration `yaml:"pollInterval"`
	HumanDelay         time.Duration `yaml:"humanDelay"`
	HumanJitter        float64       `yaml:"humanJitter"`
	SettlePeriod       time.Duration `yaml:"settlePeriod"`
	RecognitionBackoff time.Duration `yaml:"recognitionBackoff"`

	BoardArea    string  `yaml:"boardArea"`
	BoardLocked  bool    `yaml:"boardLocked"`
	CalibOffsetX float64 `yaml:"calibOffsetX"`
	CalibOffsetY float64 `yaml:"calibOffsetY"`
	CalibScale   float64 `yaml:"calibScale"`

	StabilizerCenterRatio  float64 `yaml:"stabilizerCenterRatio"`
	StabilizerAreaMin      float64 `yaml:"stabilizerAreaMin"`
	StabilizerAreaMax      float64 `yaml:"stabilizerAreaMax"`
	StabilizerPromoteAfter int     `yaml:"stabilizerPromoteAfter"`

	RedisURL    string `yaml:"redisUrl"`
	DatabaseURL string `yaml:"databaseUrl"`
	Profile     string `yaml:"profile"`

	StatusAddr  string `yaml:"statusAddr"`
	PreviewDir  string `yaml:"previewDir"`
	MessagesDir string `yaml:"messagesDir"`
	PointerTool string `yaml:"pointerTool"`

	color chess.Color
	board *board.Rect
}

func defaults() *AppConfig {
	th := board.DefaultThresholds()
	return &AppConfig{
		EngineDepth:            15,
		EngineHandshakeTimeout: 5 * time.Second,
		EngineSearchTimeout:    30 * time.Second,
		EngineThreads:          1,
		EngineHashMB:           16,
		FENAPIURL:              "http://127.0.0.1:5179/fen",
		FENAPITimeout:          7 * time.Second,
		LocalColor:             "white",
		AutoRecognize:          true,
		PollInterval:           2500 * time.Millisecond,
		HumanDelay:             time.Second,
		HumanJitter:            0.25,
		SettlePeriod:           time.Second,
		RecognitionBackoff:     1500 * time.Millisecond,
		CalibScale:             1,
		StabilizerCenterRatio:  th.CenterRatio,
		StabilizerAreaMin:      th.AreaMin,
		StabilizerAreaMax:      th.AreaMax,
		StabilizerPromoteAfter: th.PromoteAfter,
		Profile:                "default",
		StatusAddr:             "127.0.0.1:5180",
		PointerTool:            "xdotool",
	}
}

// Load reads the optional YAML file named by AUTOPILOT_CONFIG, then applies
// environment overrides and validates the result.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("AUTOPILOT_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read AUTOPILOT_CONFIG: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse AUTOPILOT_CONFIG: %w", err)
		}
	}

	// Engine
	envString("STOCKFISH_PATH", &cfg.StockfishPath)
	envInt("ENGINE_DEPTH", &cfg.EngineDepth)
	envDuration("ENGINE_HANDSHAKE_TIMEOUT", &cfg.EngineHandshakeTimeout)
	envDuration("ENGINE_SEARCH_TIMEOUT", &cfg.EngineSearchTimeout)
	envInt("ENGINE_THREADS", &cfg.EngineThreads)
	envInt("ENGINE_HASH_MB", &cfg.EngineHashMB)

	// Recognition
	envString("FEN_API_URL", &cfg.FENAPIURL)
	envDuration("FEN_API_TIMEOUT", &cfg.FENAPITimeout)

	// Play
	envString("LOCAL_COLOR", &cfg.LocalColor)
	envBool("BOARD_FLIPPED", &cfg.BoardFlipped)
	envBool("AUTO_PLAY", &cfg.AutoPlay)
	envBool("AUTO_RECOGNIZE", &cfg.AutoRecognize)
	envDuration("POLL_INTERVAL", &cfg.PollInterval)
	envDuration("HUMAN_DELAY", &cfg.HumanDelay)
	envFloat("HUMAN_JITTER", &cfg.HumanJitter)
	envDuration("SETTLE_PERIOD", &cfg.SettlePeriod)
	envDuration("RECOGNITION_BACKOFF", &cfg.RecognitionBackoff)

	// Calibration
	envString("BOARD_AREA", &cfg.BoardArea)
	envBool("BOARD_LOCKED", &cfg.BoardLocked)
	envFloat("CALIB_OFFSET_X", &cfg.CalibOffsetX)
	envFloat("CALIB_OFFSET_Y", &cfg.CalibOffsetY)
	envFloat("CALIB_SCALE", &cfg.CalibScale)
	envFloat("STABILIZER_CENTER_RATIO", &cfg.StabilizerCenterRatio)
	envFloat("STABILIZER_AREA_MIN", &cfg.StabilizerAreaMin)
	envFloat("STABILIZER_AREA_MAX", &cfg.StabilizerAreaMax)
	envInt("STABILIZER_PROMOTE_AFTER", &cfg.StabilizerPromoteAfter)

	// Infra
	envString("REDIS_URL", &cfg.RedisURL)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("AUTOPILOT_PROFILE", &cfg.Profile)
	if v, ok := os.LookupEnv("STATUS_ADDR"); ok { // 빈 값이면 피드 비활성화
		cfg.StatusAddr = strings.TrimSpace(v)
	}
	envString("PREVIEW_DIR", &cfg.PreviewDir)
	envString("MESSAGES_DIR", &cfg.MessagesDir)
	envString("POINTER_TOOL", &cfg.PointerTool)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.StockfishPath == "" {
		return errors.New("STOCKFISH_PATH is required")
	}
	color, err := chess.ParseColor(c.LocalColor)
	if err != nil {
		return fmt.Errorf("LOCAL_COLOR: %w", err)
	}
	c.color = color
	if c.BoardArea != "" {
		r, err := board.ParseRect(c.BoardArea)
		if err != nil {
			return fmt.Errorf("BOARD_AREA: %w", err)
		}
		c.board = &r
	}
	if c.EngineDepth <= 0 {
		return errors.New("ENGINE_DEPTH must be positive")
	}
	if c.StabilizerAreaMin >= c.StabilizerAreaMax {
		return errors.New("STABILIZER_AREA_MIN must be below STABILIZER_AREA_MAX")
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
	return nil
}

func (c *AppConfig) Color() chess.Color { return c.color }

// InitialBoard is the parsed BOARD_AREA, or nil when unset.
func (c *AppConfig) InitialBoard() *board.Rect { return c.board }

func (c *AppConfig) Adjustment() board.Adjustment {
	return board.Adjustment{OffsetX: c.CalibOffsetX, OffsetY: c.CalibOffsetY, Scale: c.CalibScale}
}

func (c *AppConfig) Thresholds() board.Thresholds {
	return board.Thresholds{
		CenterRatio:  c.StabilizerCenterRatio,
		AreaMin:      c.StabilizerAreaMin,
		AreaMax:      c.StabilizerAreaMax,
		PromoteAfter: c.StabilizerPromoteAfter,
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// envDuration accepts Go durations ("2.5s") or plain milliseconds ("2500").
func envDuration(key string, dst *time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Millisecond
	}
}
