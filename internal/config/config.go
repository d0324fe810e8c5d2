package config

import (
	"sort"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config carries every facility tunable. Nothing in the core hardcodes
// business constants; they all arrive through here.
type Config struct {
	GateID         string
	RatePerHour    int64 // currency units per hour
	InitialBalance int64 // credit granted on first provisioning
	DebounceWindow time.Duration
	MinUserID      int
	MaxUserID      int
	ScanDelay      time.Duration // settle delay after a successful entry/exit
	PollDelay      time.Duration // guard between consecutive scans
	OperatorKey    string        // storage key of the fee-collecting account

	HTTPAddr     string
	JWTSecret    string
	JWTExpiry    time.Duration
	OperatorHash string // argon2id salt$hash of the operator password

	StoreBackend string // "postgres" or "memory"

	SensorControllerURL string
	SensorMetricsAddr   string
	SensorTimeout       time.Duration
	DistanceThreshold   float64 // cm; at or below means a car is present
	SensorSlotDelay     time.Duration
	SensorInterval      time.Duration
	Slots               []SlotMapping
}

// SlotMapping binds a slot id to its sensor hardware channel.
type SlotMapping struct {
	ID      string
	Channel int
}

// Load reads configuration with viper, letting .env / environment variables
// override the facility defaults.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.SetDefault("gate.id", "GATE_001")
	viper.SetDefault("billing.rate_per_hour", 50)
	viper.SetDefault("wallet.initial_balance", 1000)
	viper.SetDefault("gate.debounce_window", 30*time.Second)
	viper.SetDefault("users.min_id", 100)
	viper.SetDefault("users.max_id", 999)
	viper.SetDefault("gate.scan_delay", time.Second)
	viper.SetDefault("gate.poll_delay", 200*time.Millisecond)
	viper.SetDefault("ledger.operator_key", "operator")

	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("jwt.secret_key", "dev-secret-change-in-production")
	viper.SetDefault("jwt.expiry", 12*time.Hour)
	viper.SetDefault("auth.operator_hash", "")

	viper.SetDefault("store.backend", "postgres")

	viper.SetDefault("sensor.controller_url", "http://localhost:9000")
	viper.SetDefault("sensor.metrics_addr", ":8081")
	viper.SetDefault("sensor.timeout", 2*time.Second)
	viper.SetDefault("sensor.distance_threshold", 30.0)
	viper.SetDefault("sensor.slot_delay", 100*time.Millisecond)
	viper.SetDefault("sensor.interval", time.Second)
	viper.SetDefault("sensor.slots", map[string]string{
		"slot_1": "1",
		"slot_2": "2",
		"slot_3": "3",
		"slot_4": "4",
		"slot_5": "5",
	})

	return &Config{
		GateID:         viper.GetString("gate.id"),
		RatePerHour:    viper.GetInt64("billing.rate_per_hour"),
		InitialBalance: viper.GetInt64("wallet.initial_balance"),
		DebounceWindow: viper.GetDuration("gate.debounce_window"),
		MinUserID:      viper.GetInt("users.min_id"),
		MaxUserID:      viper.GetInt("users.max_id"),
		ScanDelay:      viper.GetDuration("gate.scan_delay"),
		PollDelay:      viper.GetDuration("gate.poll_delay"),
		OperatorKey:    viper.GetString("ledger.operator_key"),

		HTTPAddr:     viper.GetString("http.addr"),
		JWTSecret:    viper.GetString("jwt.secret_key"),
		JWTExpiry:    viper.GetDuration("jwt.expiry"),
		OperatorHash: viper.GetString("auth.operator_hash"),

		StoreBackend: viper.GetString("store.backend"),

		SensorControllerURL: viper.GetString("sensor.controller_url"),
		SensorMetricsAddr:   viper.GetString("sensor.metrics_addr"),
		SensorTimeout:       viper.GetDuration("sensor.timeout"),
		DistanceThreshold:   viper.GetFloat64("sensor.distance_threshold"),
		SensorSlotDelay:     viper.GetDuration("sensor.slot_delay"),
		SensorInterval:      viper.GetDuration("sensor.interval"),
		Slots:               slotMappings(viper.GetStringMapString("sensor.slots")),
	}
}

// SlotIDs lists the configured slot ids in stable order.
func (c *Config) SlotIDs() []string {
	ids := make([]string, 0, len(c.Slots))
	for _, s := range c.Slots {
		ids = append(ids, s.ID)
	}
	return ids
}

func slotMappings(raw map[string]string) []SlotMapping {
	mappings := make([]SlotMapping, 0, len(raw))
	for id, channel := range raw {
		n, err := strconv.Atoi(channel)
		if err != nil {
			continue
		}
		mappings = append(mappings, SlotMapping{ID: id, Channel: n})
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].ID < mappings[j].ID })
	return mappings
}
