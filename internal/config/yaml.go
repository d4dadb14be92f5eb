package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szibis/filequeue"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Queue  filequeue.Config `yaml:"queue"`
	Load   LoadYAMLConfig   `yaml:"load"`
	Verify VerifyYAMLConfig `yaml:"verify"`
	Stats  StatsYAMLConfig  `yaml:"stats"`
	Log    LogYAMLConfig    `yaml:"log"`
	Memory MemoryYAMLConfig `yaml:"memory"`
}

// LoadYAMLConfig holds the load generator settings.
type LoadYAMLConfig struct {
	Producers           int      `yaml:"producers"`
	Consumers           int      `yaml:"consumers"`
	MessagesPerProducer *int     `yaml:"messages_per_producer"` // 0 = timed run
	Duration            Duration `yaml:"duration"`
	PayloadSize         ByteSize `yaml:"payload_size"`
	BatchSize           int      `yaml:"batch_size"`
	DequeueTimeout      Duration `yaml:"dequeue_timeout"`
	ReopenInterval      Duration `yaml:"reopen_interval"`
}

// VerifyYAMLConfig holds duplicate detection sizing.
type VerifyYAMLConfig struct {
	ExpectedDistinct uint    `yaml:"expected_distinct"`
	FalsePositive    float64 `yaml:"false_positive_rate"`
}

// StatsYAMLConfig holds the metrics endpoint settings.
type StatsYAMLConfig struct {
	Address *string `yaml:"address"` // empty string disables the endpoint
}

// LogYAMLConfig holds logging settings.
type LogYAMLConfig struct {
	Level string `yaml:"level"`
}

// MemoryYAMLConfig holds memory limit configuration.
type MemoryYAMLConfig struct {
	// LimitRatio is the ratio of container memory to use for GOMEMLIMIT (0.0-1.0)
	LimitRatio *float64 `yaml:"limit_ratio"`
}

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize is a wrapper for int64 that supports human-readable YAML values.
// Accepted formats: raw integer (bytes), or suffixed: Ki, Mi, Gi.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for ByteSize.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return FormatByteSize(int64(b)), nil
}

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
)

// ParseByteSize parses a human-readable byte size string. Plain integers
// are bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	suffixes := []struct {
		name string
		mult int64
	}{
		{"Gi", gib},
		{"Mi", mib},
		{"Ki", kib},
	}
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.name) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.name))
			var f float64
			if _, err := fmt.Sscanf(numStr, "%f", &f); err != nil {
				return 0, fmt.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	var n int64
	var trail string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &trail); err == nil && trail != "" {
		return 0, fmt.Errorf("invalid byte size: %q (use Ki, Mi, or Gi suffixes)", s)
	}
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return n, nil
}

// FormatByteSize formats bytes with the largest exact binary suffix.
func FormatByteSize(b int64) string {
	switch {
	case b >= gib && b%gib == 0:
		return fmt.Sprintf("%dGi", b/gib)
	case b >= mib && b%mib == 0:
		return fmt.Sprintf("%dMi", b/mib)
	case b >= kib && b%kib == 0:
		return fmt.Sprintf("%dKi", b/kib)
	}
	return fmt.Sprintf("%d", b)
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults sets default values for unspecified fields.
func (y *YAMLConfig) ApplyDefaults() {
	def := DefaultConfig()

	if y.Queue.Capacity == 0 {
		y.Queue.Capacity = def.Queue.Capacity
	}
	if y.Queue.Codec == "" {
		y.Queue.Codec = def.Queue.Codec
	}
	if y.Queue.Compression == "" {
		y.Queue.Compression = def.Queue.Compression
	}
	if y.Queue.Name == "" {
		y.Queue.Name = def.Queue.Name
	}

	if y.Load.Producers == 0 {
		y.Load.Producers = def.Producers
	}
	if y.Load.Consumers == 0 {
		y.Load.Consumers = def.Consumers
	}
	if y.Load.MessagesPerProducer == nil {
		n := def.MessagesPerProducer
		y.Load.MessagesPerProducer = &n
	}
	if y.Load.Duration == 0 {
		y.Load.Duration = Duration(def.Duration)
	}
	if y.Load.PayloadSize == 0 {
		y.Load.PayloadSize = ByteSize(def.PayloadSize)
	}
	if y.Load.BatchSize == 0 {
		y.Load.BatchSize = def.BatchSize
	}
	if y.Load.DequeueTimeout == 0 {
		y.Load.DequeueTimeout = Duration(def.DequeueTimeout)
	}

	if y.Verify.ExpectedDistinct == 0 {
		y.Verify.ExpectedDistinct = def.ExpectedDistinct
	}
	if y.Verify.FalsePositive == 0 {
		y.Verify.FalsePositive = def.FalsePositive
	}

	if y.Stats.Address == nil {
		addr := def.StatsAddr
		y.Stats.Address = &addr
	}
	if y.Log.Level == "" {
		y.Log.Level = def.LogLevel
	}
	if y.Memory.LimitRatio == nil {
		r := def.MemoryLimitRatio
		y.Memory.LimitRatio = &r
	}
}

// ToConfig converts YAMLConfig to the flat Config used by the runner.
func (y *YAMLConfig) ToConfig() *Config {
	cfg := &Config{
		Queue:            y.Queue,
		Producers:        y.Load.Producers,
		Consumers:        y.Load.Consumers,
		Duration:         time.Duration(y.Load.Duration),
		PayloadSize:      int64(y.Load.PayloadSize),
		BatchSize:        y.Load.BatchSize,
		DequeueTimeout:   time.Duration(y.Load.DequeueTimeout),
		ReopenInterval:   time.Duration(y.Load.ReopenInterval),
		ExpectedDistinct: y.Verify.ExpectedDistinct,
		FalsePositive:    y.Verify.FalsePositive,
		LogLevel:         y.Log.Level,
	}
	if y.Load.MessagesPerProducer != nil {
		cfg.MessagesPerProducer = *y.Load.MessagesPerProducer
	}
	if y.Stats.Address != nil {
		cfg.StatsAddr = *y.Stats.Address
	}
	if y.Memory.LimitRatio != nil {
		cfg.MemoryLimitRatio = *y.Memory.LimitRatio
	}
	return cfg
}
