package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/textpilotd.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// DaemonConfig describes runtime options for textpilotd.
type DaemonConfig struct {
	Environment   string
	ListenAddress string
	LogFile       string
	LogLevel      string
	// Shared API token for /api endpoints; ignored when AuthDisabled.
	AuthToken    string
	AuthDisabled bool
	// Engine selection: "deepseek" or "loopback".
	Engine          string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string
	// Prompt catalog location.
	PromptsPath string
	// Trigger validation bound, bytes of input text.
	MaxTextLen int
	// Optional wall-clock deadline per job; zero disables it.
	JobTimeout time.Duration
	// Job history: "off", "sqlite" or "postgres".
	HistoryBackend string
	HistoryPath    string // sqlite file
	HistoryDSN     string // postgres DSN
	HistoryAsync   bool
}

// LoadDaemonConfig reads the current environment and loads the matching
// daemon config file, applying TEXTPILOT_* env overrides on top.
func LoadDaemonConfig(root string) (DaemonConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return DaemonConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return DaemonConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := DaemonConfig{
		Environment:     s.Environment,
		ListenAddress:   firstNonEmpty(os.Getenv("TEXTPILOT_LISTEN_ADDRESS"), merged["listen_address"], "127.0.0.1:18080"),
		LogFile:         firstNonEmpty(os.Getenv("TEXTPILOT_LOG_FILE"), merged["log_file"]),
		LogLevel:        firstNonEmpty(os.Getenv("TEXTPILOT_LOG_LEVEL"), merged["log_level"], "info"),
		AuthToken:       firstNonEmpty(os.Getenv("TEXTPILOT_AUTH_TOKEN"), merged["auth_token"]),
		AuthDisabled:    parseOptionalBool(firstNonEmpty(os.Getenv("TEXTPILOT_AUTH_DISABLED"), merged["auth_disabled"]), true),
		Engine:          strings.ToLower(firstNonEmpty(os.Getenv("TEXTPILOT_ENGINE"), merged["engine"], "deepseek")),
		DeepSeekAPIKey:  firstNonEmpty(os.Getenv("DEEPSEEK_API_KEY"), os.Getenv("TEXTPILOT_DEEPSEEK_API_KEY"), merged["deepseek_api_key"]),
		DeepSeekBaseURL: firstNonEmpty(os.Getenv("TEXTPILOT_DEEPSEEK_BASE_URL"), merged["deepseek_base_url"]),
		DeepSeekModel:   firstNonEmpty(os.Getenv("TEXTPILOT_DEEPSEEK_MODEL"), merged["deepseek_model"]),
		PromptsPath:     firstNonEmpty(os.Getenv("TEXTPILOT_PROMPTS_PATH"), merged["prompts_path"], filepath.Join(root, "config", "prompts.yaml")),
		MaxTextLen:      parseOptionalInt(firstNonEmpty(os.Getenv("TEXTPILOT_MAX_TEXT_LEN"), merged["max_text_len"]), 100_000),
		HistoryBackend:  strings.ToLower(firstNonEmpty(os.Getenv("TEXTPILOT_HISTORY_BACKEND"), merged["history_backend"], "off")),
		HistoryPath:     firstNonEmpty(os.Getenv("TEXTPILOT_HISTORY_PATH"), merged["history_path"], DefaultHistoryPath()),
		HistoryDSN:      firstNonEmpty(os.Getenv("TEXTPILOT_HISTORY_DSN"), merged["history_dsn"]),
		HistoryAsync:    parseOptionalBool(firstNonEmpty(os.Getenv("TEXTPILOT_HISTORY_ASYNC"), merged["history_async"]), true),
	}

	if v := firstNonEmpty(os.Getenv("TEXTPILOT_JOB_TIMEOUT"), merged["job_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("invalid job_timeout %q: %w", v, err)
		}
		cfg.JobTimeout = dur
	}

	switch cfg.Engine {
	case "deepseek", "loopback":
	default:
		return DaemonConfig{}, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
	switch cfg.HistoryBackend {
	case "off", "sqlite", "postgres":
	default:
		return DaemonConfig{}, fmt.Errorf("unknown history_backend %q", cfg.HistoryBackend)
	}
	if !cfg.AuthDisabled && strings.TrimSpace(cfg.AuthToken) == "" {
		return DaemonConfig{}, errors.New("auth enabled but auth_token empty")
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultHistoryPath returns the fallback history database location under
// the user's home directory.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".textpilot", "history.db")
}
