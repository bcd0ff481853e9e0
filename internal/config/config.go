package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// ExtractionPrompts overrides the built-in extraction prompt. The template
// receives the known-persons block and the unit text, in that order.
type ExtractionPrompts struct {
	Unit         string `toml:"unit"`
	KnownContext int    `toml:"known_context_limit" validate:"gte=0"`
}

type LLMConfig struct {
	Provider       string  `toml:"provider" validate:"omitempty,oneof=openai gemini claude ollama"`
	Model          string  `toml:"model"`
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Temperature    float64 `toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int     `toml:"max_tokens" validate:"gte=0"`
	TimeoutSeconds int     `toml:"timeout_seconds" validate:"gte=0"`
}

type GraphConfig struct {
	URI      string `toml:"uri" validate:"required"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Flavor   string `toml:"flavor" validate:"oneof=memgraph neo4j"`
}

type IdentityConfig struct {
	AliasCeiling    int      `toml:"alias_ceiling" validate:"gte=1"`
	MinNameRunes    int      `toml:"min_name_runes" validate:"gte=1"`
	AmbiguousTitles []string `toml:"ambiguous_titles"`
}

type IngestConfig struct {
	UnitsFile        string `toml:"units_file"`
	CheckpointDir    string `toml:"checkpoint_dir" validate:"required"`
	FlushEvery       int    `toml:"flush_every" validate:"gte=1"`
	CallIntervalMS   int    `toml:"call_interval_ms" validate:"gte=0"`
	MaxAttempts      int    `toml:"max_attempts" validate:"gte=1"`
	InitialBackoffMS int    `toml:"initial_backoff_ms" validate:"gte=0"`
	KeepResults      bool   `toml:"keep_results"`
}

type RepairConfig struct {
	MinAliases       int      `toml:"min_aliases" validate:"gte=1"`
	ProgressFile     string   `toml:"progress_file" validate:"required"`
	CuratedFile      string   `toml:"curated_file"`
	ExcludedIDs      []string `toml:"excluded_ids"`
	MemorialKeywords []string `toml:"memorial_keywords"`
	CallIntervalMS   int      `toml:"call_interval_ms" validate:"gte=0"`
	Prompt           string   `toml:"prompt"`
}

type LogConfig struct {
	Level     string `toml:"level" validate:"oneof=debug info warn error"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb" validate:"gte=0"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type Config struct {
	LLM        LLMConfig         `toml:"llm"`
	Graph      GraphConfig       `toml:"graph"`
	Extraction ExtractionPrompts `toml:"extraction"`
	Identity   IdentityConfig    `toml:"identity"`
	Ingest     IngestConfig      `toml:"ingest"`
	Repair     RepairConfig      `toml:"repair"`
	Log        LogConfig         `toml:"log"`
	Server     ServerConfig      `toml:"server"`
}

// DefaultAmbiguousTitles are honorifics and kinship terms the extractor
// tends to emit as if they were personal names. They match many people and
// must never drive an identity merge.
var DefaultAmbiguousTitles = []string{
	"太祖", "太宗", "世宗", "世祖", "高祖", "高宗", "中宗", "睿宗", "玄宗", "肃宗",
	"代宗", "德宗", "顺宗", "宪宗", "穆宗", "敬宗", "文宗", "武宗", "宣宗", "懿宗",
	"僖宗", "昭宗", "哀帝", "庄宗", "明宗", "闵帝", "末帝", "少帝", "废帝",
	"皇帝", "天子", "陛下", "圣上", "上", "帝", "主上", "太后", "皇后", "太子",
	"晋王", "梁王", "吴王", "蜀王", "燕王", "赵王", "楚王", "齐王", "秦王", "魏王",
	"先帝", "今上", "大王", "王", "公", "相公", "将军", "节度使", "刺史",
	"父", "母", "兄", "弟", "子", "其父", "其子", "其兄", "其弟",
	"the emperor", "emperor", "the king", "king", "his father", "his son",
}

// DefaultMemorialKeywords mark events that legitimately involve a person
// after death (posthumous titles, burial, sacrifices).
var DefaultMemorialKeywords = []string{
	"追封", "追赠", "追谥", "祭", "葬", "陵", "安葬", "遗命", "遗诏", "庙号", "谥号",
	"posthumous", "burial", "buried", "funeral", "tomb", "mausoleum", "memorial", "commemorat",
}

// Default returns a configuration with every tunable set to the value the
// pipeline was calibrated with.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "qwen2.5:14b",
			BaseURL:        "http://localhost:11434",
			Temperature:    0.1,
			MaxTokens:      4096,
			TimeoutSeconds: 120,
		},
		Graph: GraphConfig{
			URI:    "bolt://localhost:7687",
			Flavor: "memgraph",
		},
		Extraction: ExtractionPrompts{KnownContext: 200},
		Identity: IdentityConfig{
			AliasCeiling:    25,
			MinNameRunes:    2,
			AmbiguousTitles: append([]string(nil), DefaultAmbiguousTitles...),
		},
		Ingest: IngestConfig{
			UnitsFile:        "data/units.json",
			CheckpointDir:    "data/checkpoint",
			FlushEvery:       10,
			CallIntervalMS:   300,
			MaxAttempts:      3,
			InitialBackoffMS: 1000,
			KeepResults:      true,
		},
		Repair: RepairConfig{
			MinAliases:       2,
			ProgressFile:     "data/repair_progress.json",
			MemorialKeywords: append([]string(nil), DefaultMemorialKeywords...),
			CallIntervalMS:   500,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 50,
		},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load reads a TOML file on top of Default, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"GRAPH_URI", &c.Graph.URI},
		{"GRAPH_USER", &c.Graph.User},
		{"GRAPH_PASSWORD", &c.Graph.Password},
		{"GRAPH_FLAVOR", &c.Graph.Flavor},
		{"LLM_PROVIDER", &c.LLM.Provider},
		{"LLM_MODEL", &c.LLM.Model},
		{"LLM_API_KEY", &c.LLM.APIKey},
		{"LLM_BASE_URL", &c.LLM.BaseURL},
		{"PORT", &c.Server.Port},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	c.Graph.Flavor = strings.ToLower(c.Graph.Flavor)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c IngestConfig) CallInterval() time.Duration {
	return time.Duration(c.CallIntervalMS) * time.Millisecond
}

func (c IngestConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

func (c RepairConfig) CallInterval() time.Duration {
	return time.Duration(c.CallIntervalMS) * time.Millisecond
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
