package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Viewer-state backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server      ServerSettings      `json:"server"`
	Storage     StorageSettings     `json:"storage"`
	Database    DatabaseSettings    `json:"database"`
	ViewerState ViewerStateSettings `json:"viewerState"`
	Catalog     CatalogSettings     `json:"catalog"`
	Playback    PlaybackSettings    `json:"playback"`
	Auth        AuthSettings        `json:"auth"`
	Log         LogConfig           `json:"log"`
}

type ServerSettings struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// StorageSettings locates the per-device local caches.
type StorageSettings struct {
	Directory      string `json:"directory"`
	BlobQuotaBytes int    `json:"blobQuotaBytes"` // 0 = unlimited
}

// DatabaseSettings defines the SQLite database holding the catalog and viewer state.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// ViewerStateSettings selects where per-viewer records live.
type ViewerStateSettings struct {
	Backend        string        `json:"backend"` // sqlite | redis
	Redis          RedisSettings `json:"redis"`
	WriteTimeoutMs int           `json:"writeTimeoutMs"`
}

type RedisSettings struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// CatalogSettings describes area definitions and catalog fetch behaviour.
type CatalogSettings struct {
	AreasFile    string `json:"areasFile"`
	FetchRetries int    `json:"fetchRetries"`
	WarmOnStart  bool   `json:"warmOnStart"`
	// RefreshMinutes reloads every area on an interval; 0 disables.
	RefreshMinutes int `json:"refreshMinutes"`
}

// PlaybackSettings tunes the console engine timers and history windows.
type PlaybackSettings struct {
	ProgressDebounceMs int `json:"progressDebounceMs"`
	OverlayHideMs      int `json:"overlayHideMs"`
	HistoryCap         int `json:"historyCap"`
	HistoryDisplay     int `json:"historyDisplay"`
	// SessionIdleMinutes unloads sessions no device has touched for this long; negative disables.
	SessionIdleMinutes int `json:"sessionIdleMinutes"`
}

// AuthSettings configures viewer identity.
type AuthSettings struct {
	JWTSecret           string `json:"jwtSecret"`
	AllowHeaderIdentity bool   `json:"allowHeaderIdentity"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

func (p PlaybackSettings) ProgressDebounce() time.Duration {
	return time.Duration(p.ProgressDebounceMs) * time.Millisecond
}

func (p PlaybackSettings) OverlayHide() time.Duration {
	return time.Duration(p.OverlayHideMs) * time.Millisecond
}

func (p PlaybackSettings) SessionIdle() time.Duration {
	if p.SessionIdleMinutes <= 0 {
		return 0
	}
	return time.Duration(p.SessionIdleMinutes) * time.Minute
}

func (c CatalogSettings) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshMinutes) * time.Minute
}

func (v ViewerStateSettings) WriteTimeout() time.Duration {
	return time.Duration(v.WriteTimeoutMs) * time.Millisecond
}

func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 7788, AllowedOrigins: []string{"http://localhost:5173"}},
		Storage:  StorageSettings{Directory: "cache/devices", BlobQuotaBytes: 5 * 1024 * 1024},
		Database: DatabaseSettings{Path: "cache/console.db"},
		ViewerState: ViewerStateSettings{
			Backend:        BackendSQLite,
			Redis:          RedisSettings{Addr: "localhost:6379", Prefix: "mediaconsole:viewer"},
			WriteTimeoutMs: 5000,
		},
		Catalog: CatalogSettings{AreasFile: "cache/areas.json", FetchRetries: 3, WarmOnStart: true, RefreshMinutes: 15},
		Playback: PlaybackSettings{
			ProgressDebounceMs: 1200,
			OverlayHideMs:      1600,
			HistoryCap:         20,
			HistoryDisplay:     5,
			SessionIdleMinutes: 30,
		},
		Auth: AuthSettings{},
		Log: LogConfig{
			File:       "cache/logs/backend.log",
			MaxSize:    50,   // 50 MB per file
			MaxBackups: 3,    // keep 3 old files
			MaxAge:     7,    // 7 days
			Compress:   true, // compress old files
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// Path returns the settings file location.
func (m *Manager) Path() string { return m.path }

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		// create with defaults
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var raw map[string]interface{}
	dec := json.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return Settings{}, err
	}

	// Older files kept the device cache under "cache"
	if cacheRaw, ok := raw["cache"].(map[string]interface{}); ok {
		if _, hasStorage := raw["storage"]; !hasStorage {
			if dir, _ := cacheRaw["directory"].(string); strings.TrimSpace(dir) != "" {
				raw["storage"] = map[string]interface{}{"directory": dir}
			}
		}
		delete(raw, "cache")
	}

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := json.Unmarshal(rawJSON, &s); err != nil {
		return Settings{}, err
	}

	backfill(&s)
	return s, nil
}

// backfill fills defaults for settings introduced after the file was written.
func backfill(s *Settings) {
	d := DefaultSettings()

	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = d.Server.Host
	}
	if s.Server.Port == 0 {
		s.Server.Port = d.Server.Port
	}
	if s.Server.AllowedOrigins == nil {
		s.Server.AllowedOrigins = d.Server.AllowedOrigins
	}
	if strings.TrimSpace(s.Storage.Directory) == "" {
		s.Storage.Directory = d.Storage.Directory
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = d.Database.Path
	}
	switch strings.ToLower(strings.TrimSpace(s.ViewerState.Backend)) {
	case BackendRedis:
		s.ViewerState.Backend = BackendRedis
	default:
		s.ViewerState.Backend = BackendSQLite
	}
	if strings.TrimSpace(s.ViewerState.Redis.Addr) == "" {
		s.ViewerState.Redis.Addr = d.ViewerState.Redis.Addr
	}
	if strings.TrimSpace(s.ViewerState.Redis.Prefix) == "" {
		s.ViewerState.Redis.Prefix = d.ViewerState.Redis.Prefix
	}
	if s.ViewerState.WriteTimeoutMs <= 0 {
		s.ViewerState.WriteTimeoutMs = d.ViewerState.WriteTimeoutMs
	}
	if strings.TrimSpace(s.Catalog.AreasFile) == "" {
		s.Catalog.AreasFile = d.Catalog.AreasFile
	}
	if s.Catalog.FetchRetries <= 0 {
		s.Catalog.FetchRetries = d.Catalog.FetchRetries
	}
	if s.Catalog.RefreshMinutes < 0 {
		s.Catalog.RefreshMinutes = 0
	}
	if s.Playback.ProgressDebounceMs <= 0 {
		s.Playback.ProgressDebounceMs = d.Playback.ProgressDebounceMs
	}
	if s.Playback.OverlayHideMs <= 0 {
		s.Playback.OverlayHideMs = d.Playback.OverlayHideMs
	}
	if s.Playback.HistoryCap <= 0 {
		s.Playback.HistoryCap = d.Playback.HistoryCap
	}
	if s.Playback.HistoryDisplay <= 0 {
		s.Playback.HistoryDisplay = d.Playback.HistoryDisplay
	}
	if s.Playback.SessionIdleMinutes == 0 {
		s.Playback.SessionIdleMinutes = d.Playback.SessionIdleMinutes
	}
	if strings.TrimSpace(s.Log.File) == "" {
		s.Log = d.Log
	}
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// LoadDotEnv reads .env files into the process environment outside production. Missing
// files are ignored.
func LoadDotEnv(files ...string) {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Load(file)
	}
}

// ApplyEnv overrides settings from MEDIACONSOLE_* environment variables. Overrides are not
// written back to disk.
func ApplyEnv(s *Settings) {
	if v := strings.TrimSpace(os.Getenv("MEDIACONSOLE_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			s.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("MEDIACONSOLE_ALLOWED_ORIGINS")); v != "" {
		origins := make([]string, 0)
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		s.Server.AllowedOrigins = origins
	}
	if v := os.Getenv("MEDIACONSOLE_JWT_SECRET"); v != "" {
		s.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("MEDIACONSOLE_DB_PATH")); v != "" {
		s.Database.Path = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("MEDIACONSOLE_VIEWER_STATE_BACKEND"))); v == BackendSQLite || v == BackendRedis {
		s.ViewerState.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("MEDIACONSOLE_REDIS_ADDR")); v != "" {
		s.ViewerState.Redis.Addr = v
	}
	if v := os.Getenv("MEDIACONSOLE_REDIS_PASSWORD"); v != "" {
		s.ViewerState.Redis.Password = v
	}
}
