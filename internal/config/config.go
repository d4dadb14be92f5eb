package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/szibis/filequeue"
)

var version = "dev"

// Config holds the soak runner configuration.
type Config struct {
	// Queue under test.
	Queue filequeue.Config

	// Load generation
	Producers           int
	Consumers           int
	MessagesPerProducer int
	Duration            time.Duration
	PayloadSize         int64
	BatchSize           int
	DequeueTimeout      time.Duration

	// Verification
	ExpectedDistinct uint
	FalsePositive    float64

	// Reopen cycles the queue through Close and Open every interval while
	// load is running, exercising persistence. Zero disables it.
	ReopenInterval time.Duration

	// Stats
	StatsAddr string

	// Logging
	LogLevel string

	// Memory
	MemoryLimitRatio float64

	ConfigFile  string
	ShowHelp    bool
	ShowVersion bool
}

// ParseFlags parses command line flags, then a YAML file if -config is
// set. Flags given explicitly on the command line win over the file.
func ParseFlags() *Config {
	cfg := DefaultConfig()

	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to YAML configuration file")

	// Queue flags
	flag.StringVar(&cfg.Queue.Dir, "queue-dir", cfg.Queue.Dir, "Buffer directory for chunk files (default: <tmp>/goFileQueue)")
	flag.IntVar(&cfg.Queue.Capacity, "queue-capacity", cfg.Queue.Capacity, "Items held in the incoming buffer before a swap or spill")
	flag.BoolVar(&cfg.Queue.PersistOnClose, "queue-persist", cfg.Queue.PersistOnClose, "Keep queued items on disk at close")
	flag.StringVar(&cfg.Queue.Codec, "queue-codec", cfg.Queue.Codec, "Item codec: json or gob")
	flag.StringVar(&cfg.Queue.Compression, "queue-compression", cfg.Queue.Compression, "Chunk compression: none, snappy, s2, zstd, lz4, gzip")
	flag.BoolVar(&cfg.Queue.SyncWrites, "queue-sync-writes", cfg.Queue.SyncWrites, "fsync chunk and index files")
	flag.StringVar(&cfg.Queue.Name, "queue-name", cfg.Queue.Name, "Queue name used in metrics and logs")

	// Load flags
	flag.IntVar(&cfg.Producers, "producers", cfg.Producers, "Number of producer goroutines")
	flag.IntVar(&cfg.Consumers, "consumers", cfg.Consumers, "Number of consumer goroutines")
	flag.IntVar(&cfg.MessagesPerProducer, "messages", cfg.MessagesPerProducer, "Messages per producer (0 = run for -duration)")
	flag.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Run time when -messages is 0")
	payload := flag.String("payload-size", FormatByteSize(cfg.PayloadSize), "Payload bytes per message (supports Ki, Mi suffixes)")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Messages per EnqueueBatch call (1 = Enqueue)")
	flag.DurationVar(&cfg.DequeueTimeout, "dequeue-timeout", cfg.DequeueTimeout, "Consumer dequeue timeout")
	flag.DurationVar(&cfg.ReopenInterval, "reopen-interval", cfg.ReopenInterval, "Close and reopen the queue every interval (0 = disabled)")

	// Verification flags
	flag.UintVar(&cfg.ExpectedDistinct, "expected-distinct", cfg.ExpectedDistinct, "Bloom filter sizing for duplicate detection")
	flag.Float64Var(&cfg.FalsePositive, "bloom-fp-rate", cfg.FalsePositive, "Bloom filter false positive rate")

	// Stats flags
	flag.StringVar(&cfg.StatsAddr, "stats-addr", cfg.StatsAddr, "Prometheus metrics listen address (empty = disabled)")

	// Logging and memory
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Ratio of container memory for GOMEMLIMIT (0 = disabled)")

	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")

	flag.Usage = PrintUsage

	flag.Parse()

	if n, err := ParseByteSize(*payload); err == nil {
		cfg.PayloadSize = n
	}

	if configFile != "" {
		yamlCfg, err := LoadYAML(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file %s: %v\n", configFile, err)
			os.Exit(1)
		}
		cfg = yamlCfg.ToConfig()
		cfg.ConfigFile = configFile
		applyFlagOverrides(cfg)
	}

	return cfg
}

// applyFlagOverrides applies CLI flag values that were explicitly set.
func applyFlagOverrides(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "queue-dir":
			cfg.Queue.Dir = v
		case "queue-capacity":
			if i, err := strconv.Atoi(v); err == nil {
				cfg.Queue.Capacity = i
			}
		case "queue-persist":
			cfg.Queue.PersistOnClose = v == "true"
		case "queue-codec":
			cfg.Queue.Codec = v
		case "queue-compression":
			cfg.Queue.Compression = v
		case "queue-sync-writes":
			cfg.Queue.SyncWrites = v == "true"
		case "queue-name":
			cfg.Queue.Name = v
		case "producers":
			if i, err := strconv.Atoi(v); err == nil {
				cfg.Producers = i
			}
		case "consumers":
			if i, err := strconv.Atoi(v); err == nil {
				cfg.Consumers = i
			}
		case "messages":
			if i, err := strconv.Atoi(v); err == nil {
				cfg.MessagesPerProducer = i
			}
		case "duration":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.Duration = d
			}
		case "payload-size":
			if n, err := ParseByteSize(v); err == nil {
				cfg.PayloadSize = n
			}
		case "batch-size":
			if i, err := strconv.Atoi(v); err == nil {
				cfg.BatchSize = i
			}
		case "dequeue-timeout":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.DequeueTimeout = d
			}
		case "reopen-interval":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.ReopenInterval = d
			}
		case "expected-distinct":
			if u, err := strconv.ParseUint(v, 10, 0); err == nil {
				cfg.ExpectedDistinct = uint(u)
			}
		case "bloom-fp-rate":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.FalsePositive = f
			}
		case "stats-addr":
			cfg.StatsAddr = v
		case "log-level":
			cfg.LogLevel = v
		case "memory-limit-ratio":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.MemoryLimitRatio = f
			}
		case "help", "h":
			cfg.ShowHelp = v == "true"
		case "version", "v":
			cfg.ShowVersion = v == "true"
		}
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Producers < 1 {
		errs = append(errs, fmt.Sprintf("producers must be at least 1, got %d", c.Producers))
	}
	if c.Consumers < 1 {
		errs = append(errs, fmt.Sprintf("consumers must be at least 1, got %d", c.Consumers))
	}
	if c.MessagesPerProducer < 0 {
		errs = append(errs, fmt.Sprintf("messages must be non-negative, got %d", c.MessagesPerProducer))
	}
	if c.MessagesPerProducer == 0 && c.Duration <= 0 {
		errs = append(errs, "duration must be set when messages is 0")
	}
	if c.PayloadSize < 0 {
		errs = append(errs, fmt.Sprintf("payload-size must be non-negative, got %d", c.PayloadSize))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("batch-size must be at least 1, got %d", c.BatchSize))
	}
	if c.DequeueTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("dequeue-timeout must be positive, got %v", c.DequeueTimeout))
	}
	if c.ReopenInterval < 0 {
		errs = append(errs, fmt.Sprintf("reopen-interval must be non-negative, got %v", c.ReopenInterval))
	}
	if c.ReopenInterval > 0 && !c.Queue.PersistOnClose {
		errs = append(errs, "reopen-interval requires queue persist_on_close")
	}
	if c.FalsePositive <= 0 || c.FalsePositive >= 1 {
		errs = append(errs, fmt.Sprintf("bloom-fp-rate must be between 0 and 1, got %v", c.FalsePositive))
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		errs = append(errs, fmt.Sprintf("memory-limit-ratio must be between 0.0 and 1.0, got %v", c.MemoryLimitRatio))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log-level must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return errors.New("configuration validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// TotalMessages is the number of messages a bounded run produces, or 0
// for a timed run.
func (c *Config) TotalMessages() int {
	return c.Producers * c.MessagesPerProducer
}

// PrintUsage prints the usage information.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `filequeue-soak - load and verification runner for filequeue

Usage:
  filequeue-soak [options]

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  # 4 producers, 2 consumers, 100k messages each, spilling every 10k items
  filequeue-soak -producers 4 -consumers 2 -messages 100000 -queue-capacity 10000

  # Timed run with zstd chunks and Prometheus metrics on :9090
  filequeue-soak -duration 5m -queue-compression zstd -stats-addr :9090

  # Persistence soak: reopen the queue every 10s
  filequeue-soak -config soak.yaml -queue-persist -reopen-interval 10s
`)
}

// PrintVersion prints the version.
func PrintVersion() {
	fmt.Printf("filequeue-soak version %s\n", version)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Queue: filequeue.Config{
			Capacity:    10000,
			Codec:       "json",
			Compression: "snappy",
			Name:        "soak",
		},
		Producers:           4,
		Consumers:           4,
		MessagesPerProducer: 100000,
		Duration:            time.Minute,
		PayloadSize:         256,
		BatchSize:           1,
		DequeueTimeout:      time.Second,
		ExpectedDistinct:    1000000,
		FalsePositive:       0.001,
		StatsAddr:           ":9090",
		LogLevel:            "info",
		MemoryLimitRatio:    0.9,
	}
}
