package store

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

const (
    // placement goes stale quickly; a day-old position is never the live game
    ttlPlacement = 6 * time.Hour
    pingTimeout  = 3 * time.Second
)

type RedisStore struct {
    rdb     *redis.Client
    profile string
}

// NewRedisStore dials REDIS_URL and verifies the connection.
func NewRedisStore(ctx context.Context, rawURL, profile string) (*RedisStore, error) {
    opts, err := parseRedisURL(rawURL)
    if err != nil { return nil, fmt.Errorf("parse redis url: %w", err) }
    rdb := redis.NewClient(opts)
    pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
    defer cancel()
    if err := rdb.Ping(pingCtx).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return NewRedisStoreWithClient(rdb, profile), nil
}

func NewRedisStoreWithClient(rdb *redis.Client, profile string) *RedisStore {
    profile = strings.TrimSpace(profile)
    if profile == "" { profile = "default" }
    return &RedisStore{rdb: rdb, profile: profile}
}

func (s *RedisStore) keyCalibration() string { return "autopilot:" + s.profile + ":calibration" }
func (s *RedisStore) keyPlacement() string   { return "autopilot:" + s.profile + ":placement" }

func (s *RedisStore) LoadCalibration(ctx context.Context) (*Calibration, error) {
    raw, err := s.rdb.Get(ctx, s.keyCalibration()).Bytes()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    var c Calibration
    if err := json.Unmarshal(raw, &c); err != nil { return nil, err }
    return &c, nil
}

func (s *RedisStore) SaveCalibration(ctx context.Context, c *Calibration) error {
    if c == nil { return s.rdb.Del(ctx, s.keyCalibration()).Err() }
    raw, err := json.Marshal(c)
    if err != nil { return err }
    return s.rdb.Set(ctx, s.keyCalibration(), raw, 0).Err()
}

func (s *RedisStore) LoadPlacement(ctx context.Context) (string, error) {
    v, err := s.rdb.Get(ctx, s.keyPlacement()).Result()
    if err == redis.Nil { return "", nil }
    return v, err
}

func (s *RedisStore) SavePlacement(ctx context.Context, placement string) error {
    if strings.TrimSpace(placement) == "" { return s.rdb.Del(ctx, s.keyPlacement()).Err() }
    return s.rdb.Set(ctx, s.keyPlacement(), placement, ttlPlacement).Err()
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func parseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(strings.TrimSpace(raw))
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" {
        n, err := strconv.Atoi(p)
        if err != nil { return nil, fmt.Errorf("invalid db %q", p) }
        db = n
    }
    pass, _ := u.User.Password()
    opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
    if u.Scheme == "rediss" { opts.TLSConfig = &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12} }
    return opts, nil
}
