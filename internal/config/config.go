package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Universe  UniverseConfig  `yaml:"universe"`
	Selection SelectionConfig `yaml:"selection"`
	Quoting   QuotingConfig   `yaml:"quoting"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Handoff   HandoffConfig   `yaml:"handoff"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// UniverseConfig lists every instrument the feed tracks; selection picks from it.
type UniverseConfig struct {
	Instruments []string `yaml:"instruments"`
}

type SelectionConfig struct {
	MaxInstruments int `yaml:"max_instruments"`
	// MinSpreadPct is in percent units, e.g. 0.7 means 0.7%.
	MinSpreadPct float64 `yaml:"min_spread_pct"`
}

type QuotingConfig struct {
	// MinSpread is a fraction of mid, e.g. 0.006 means 0.6%.
	MinSpread            float64 `yaml:"min_spread"`
	MinDistanceFromIndex float64 `yaml:"min_distance_from_index"`
	OrderNotionalUSD     float64 `yaml:"order_notional_usd"`
	TickFraction         float64 `yaml:"tick_fraction"`
	QuantityDecimals     int     `yaml:"quantity_decimals"`
}

type ScheduleConfig struct {
	UniverseInterval  time.Duration `yaml:"universe_interval"`
	PositionInterval  time.Duration `yaml:"position_interval"`
	OrderInterval     time.Duration `yaml:"order_interval"`
	StatusInterval    time.Duration `yaml:"status_interval"`
	InstrumentPause   time.Duration `yaml:"instrument_pause"`
	CancelSettleDelay time.Duration `yaml:"cancel_settle_delay"`
}

type TradingConfig struct {
	DryRun      bool          `yaml:"dry_run"`
	Workers     int           `yaml:"workers"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	TimeInForce string        `yaml:"time_in_force"`
	RecvWindow  int           `yaml:"recv_window"`
}

type RiskConfig struct {
	MaxSnapshotAge time.Duration `yaml:"max_snapshot_age"`
}

type HandoffConfig struct {
	Path           string        `yaml:"path"`
	Format         string        `yaml:"format"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

func (h HandoffConfig) Enabled() bool {
	return strings.TrimSpace(h.Path) != ""
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Token            string `yaml:"token"`
	ChatID           string `yaml:"chat_id"`
	FailureThreshold int    `yaml:"failure_threshold"`
}

type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
	Application   string `yaml:"application"`
}

// DefaultInstruments is the candidate universe used when none is configured.
var DefaultInstruments = []string{
	"TITCOIN-USD-SWAP-LIN", "MOVE-USD-SWAP-LIN", "ZRO-USD-SWAP-LIN", "DOGEAI-USD-SWAP-LIN",
	"IO-USD-SWAP-LIN", "gork-USD-SWAP-LIN", "MEW-USD-SWAP-LIN", "NPC-USD-SWAP-LIN",
	"TROLL-USD-SWAP-LIN", "USDUC-USD-SWAP-LIN", "BANANABSC-USD-SWAP-LIN", "ENA-USD-SWAP-LIN",
	"CHILLGUY-USD-SWAP-LIN",
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns a config with every default applied, for tools that run
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("OX_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("OX_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("OX_TIMESCALE_DSN")); dsn != "" {
		cfg.Timescale.DSN = dsn
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.ox.fun"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = deriveWSURL(cfg.REST.BaseURL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 25 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/ox-market-maker.db"
	}
	if len(cfg.Universe.Instruments) == 0 {
		cfg.Universe.Instruments = append([]string(nil), DefaultInstruments...)
	}
	if cfg.Selection.MaxInstruments == 0 {
		cfg.Selection.MaxInstruments = 7
	}
	if cfg.Selection.MinSpreadPct == 0 {
		cfg.Selection.MinSpreadPct = 0.7
	}
	if cfg.Quoting.MinSpread == 0 {
		cfg.Quoting.MinSpread = 0.006
	}
	if cfg.Quoting.MinDistanceFromIndex == 0 {
		cfg.Quoting.MinDistanceFromIndex = 0.004
	}
	if cfg.Quoting.OrderNotionalUSD == 0 {
		cfg.Quoting.OrderNotionalUSD = 5.5
	}
	if cfg.Quoting.TickFraction == 0 {
		cfg.Quoting.TickFraction = 0.001
	}
	if cfg.Quoting.QuantityDecimals == 0 {
		cfg.Quoting.QuantityDecimals = 3
	}
	if cfg.Schedule.UniverseInterval == 0 {
		cfg.Schedule.UniverseInterval = 5 * time.Minute
	}
	if cfg.Schedule.PositionInterval == 0 {
		cfg.Schedule.PositionInterval = 10 * time.Second
	}
	if cfg.Schedule.OrderInterval == 0 {
		cfg.Schedule.OrderInterval = 5 * time.Second
	}
	if cfg.Schedule.StatusInterval == 0 {
		cfg.Schedule.StatusInterval = 30 * time.Second
	}
	if cfg.Schedule.InstrumentPause == 0 {
		cfg.Schedule.InstrumentPause = 500 * time.Millisecond
	}
	if cfg.Schedule.CancelSettleDelay == 0 {
		cfg.Schedule.CancelSettleDelay = time.Second
	}
	if cfg.Trading.Workers == 0 {
		cfg.Trading.Workers = 1
	}
	if cfg.Trading.CallTimeout == 0 {
		cfg.Trading.CallTimeout = 5 * time.Second
	}
	if cfg.Trading.TimeInForce == "" {
		cfg.Trading.TimeInForce = "GTC"
	}
	if cfg.Trading.RecvWindow == 0 {
		cfg.Trading.RecvWindow = 20000
	}
	if cfg.Handoff.Format == "" {
		cfg.Handoff.Format = FormatFromPath(cfg.Handoff.Path)
	}
	if cfg.Handoff.ExportInterval == 0 {
		cfg.Handoff.ExportInterval = 2 * time.Second
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Telegram.FailureThreshold == 0 {
		cfg.Telegram.FailureThreshold = 5
	}
	if cfg.Profiling.Application == "" {
		cfg.Profiling.Application = "ox-market-maker"
	}
}

func deriveWSURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/v2/websocket"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/v2/websocket"
	}
	return "wss://api.ox.fun/v2/websocket"
}

// FormatFromPath picks the hand-off codec from the file extension.
func FormatFromPath(path string) string {
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(path)), ".msgpack") {
		return "msgpack"
	}
	return "json"
}

func validate(cfg *Config) error {
	if len(cfg.Universe.Instruments) == 0 {
		return errors.New("universe.instruments must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Universe.Instruments))
	for _, inst := range cfg.Universe.Instruments {
		if strings.TrimSpace(inst) == "" {
			return errors.New("universe.instruments contains an empty id")
		}
		if _, dup := seen[inst]; dup {
			return fmt.Errorf("universe.instruments lists %s twice", inst)
		}
		seen[inst] = struct{}{}
	}
	if cfg.REST.Timeout <= 0 {
		return errors.New("rest.timeout must be > 0")
	}
	if cfg.WS.PingInterval <= 0 || cfg.WS.ReconnectDelay <= 0 {
		return errors.New("ws.ping_interval and ws.reconnect_delay must be > 0")
	}
	if cfg.Selection.MaxInstruments < 0 {
		return errors.New("selection.max_instruments must be >= 0")
	}
	if cfg.Selection.MinSpreadPct < 0 {
		return errors.New("selection.min_spread_pct must be >= 0")
	}
	if cfg.Quoting.MinSpread < 0 || cfg.Quoting.MinSpread >= 1 {
		return errors.New("quoting.min_spread must be in [0, 1)")
	}
	if cfg.Quoting.MinDistanceFromIndex < 0 || cfg.Quoting.MinDistanceFromIndex >= 1 {
		return errors.New("quoting.min_distance_from_index must be in [0, 1)")
	}
	if cfg.Quoting.OrderNotionalUSD <= 0 {
		return errors.New("quoting.order_notional_usd must be > 0")
	}
	if cfg.Quoting.TickFraction <= 0 || cfg.Quoting.TickFraction >= 1 {
		return errors.New("quoting.tick_fraction must be in (0, 1)")
	}
	// A tick as wide as the quoting spread would cross the book.
	if cfg.Quoting.MinSpread > 0 && 2*cfg.Quoting.TickFraction >= cfg.Quoting.MinSpread {
		return errors.New("quoting.tick_fraction must be less than half of quoting.min_spread")
	}
	if cfg.Quoting.QuantityDecimals < 0 || cfg.Quoting.QuantityDecimals > 12 {
		return errors.New("quoting.quantity_decimals must be in [0, 12]")
	}
	if cfg.Schedule.UniverseInterval <= 0 || cfg.Schedule.PositionInterval <= 0 ||
		cfg.Schedule.OrderInterval <= 0 || cfg.Schedule.StatusInterval <= 0 {
		return errors.New("schedule intervals must be > 0")
	}
	if cfg.Schedule.InstrumentPause < 0 || cfg.Schedule.CancelSettleDelay < 0 {
		return errors.New("schedule pauses must be >= 0")
	}
	if cfg.Trading.Workers < 1 {
		return errors.New("trading.workers must be >= 1")
	}
	if cfg.Trading.CallTimeout <= 0 {
		return errors.New("trading.call_timeout must be > 0")
	}
	switch cfg.Trading.TimeInForce {
	case "GTC", "IOC", "FOK", "MAKER_ONLY":
	default:
		return fmt.Errorf("trading.time_in_force %q is not supported", cfg.Trading.TimeInForce)
	}
	if cfg.Risk.MaxSnapshotAge < 0 {
		return errors.New("risk.max_snapshot_age must be >= 0")
	}
	if cfg.Handoff.ExportInterval <= 0 {
		return errors.New("handoff.export_interval must be > 0")
	}
	switch cfg.Handoff.Format {
	case "json", "msgpack":
	default:
		return fmt.Errorf("handoff.format %q is not supported", cfg.Handoff.Format)
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Telegram.FailureThreshold < 0 {
		return errors.New("telegram.failure_threshold must be >= 0")
	}
	if cfg.Profiling.Enabled && strings.TrimSpace(cfg.Profiling.ServerAddress) == "" {
		return errors.New("profiling.server_address is required when profiling is enabled")
	}
	return nil
}
