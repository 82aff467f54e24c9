package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const keyEnv = "ENV"
const envLocal = "local"

const (
	defaultPort        = "3000"
	defaultStoragePath = "data"
	defaultIndexPath   = "search_index"
	defaultKVDBPath    = "jobs.db"
	defaultBaseURL     = "https://weworkremotely.com"
	defaultUserAgent   = "jobdexbot/1.0 (+https://github.com/terkoizmy/jobdex)"
)

// defaultCategories are the category pages scraped when none are configured.
var defaultCategories = []string{
	"/remote-software-developer-jobs",
	"/categories/remote-full-stack-programming-jobs",
	"/categories/remote-back-end-programming-jobs",
	"/categories/remote-front-end-programming-jobs",
}

type Config struct {
	config *viper.Viper
}

func Load() (*Config, error) {

	env := os.Getenv(keyEnv)
	if len(env) == 0 {
		env = envLocal
	}

	configPath, err := getConfigPath(env)

	viperConfig := viper.New()
	if err == nil {
		viperConfig.SetConfigFile(configPath)
		if err := viperConfig.ReadInConfig(); err != nil {
			slog.Warn(fmt.Sprintf("error reading config file, %s", err))
		}
	}
	viperConfig.AutomaticEnv()

	cfg := &Config{
		config: viperConfig,
	}

	return cfg, nil
}

func (c *Config) GetPort() string {
	port := c.config.GetString("PORT")
	if len(port) == 0 {
		port = c.config.GetString("server.port")
	}
	if len(port) == 0 {
		port = defaultPort
	}

	return port
}

// GetStoragePath returns the base directory holding the job store and the
// search index.
func (c *Config) GetStoragePath() string {
	storagePath := c.config.GetString("STORAGE_PATH")
	if len(storagePath) == 0 {
		storagePath = c.config.GetString("database.storage_path")
	}
	if len(storagePath) == 0 {
		storagePath = defaultStoragePath
	}

	return storagePath
}

// GetIndexPath returns the search index directory name, relative to the
// storage path.
func (c *Config) GetIndexPath() string {
	indexPath := c.config.GetString("INDEX_PATH")
	if len(indexPath) == 0 {
		indexPath = c.config.GetString("database.index_path")
	}
	if len(indexPath) == 0 {
		indexPath = defaultIndexPath
	}

	return indexPath
}

// GetKVDBPath returns the job store file name, relative to the storage path.
func (c *Config) GetKVDBPath() string {
	kvdbPath := c.config.GetString("KVDB_PATH")
	if len(kvdbPath) == 0 {
		kvdbPath = c.config.GetString("database.kvdb_path")
	}
	if len(kvdbPath) == 0 {
		kvdbPath = defaultKVDBPath
	}

	return kvdbPath
}

func (c *Config) GetScrapeBaseURL() string {
	baseURL := c.config.GetString("SCRAPE_BASE_URL")
	if len(baseURL) == 0 {
		baseURL = c.config.GetString("scraper.base_url")
	}
	if len(baseURL) == 0 {
		baseURL = defaultBaseURL
	}

	return strings.TrimRight(baseURL, "/")
}

// GetScrapeCategories returns the category page paths to scrape, relative to
// the base URL.
func (c *Config) GetScrapeCategories() []string {
	if raw := c.config.GetString("SCRAPE_CATEGORIES"); len(raw) > 0 {
		return strings.Split(raw, ",")
	}
	if categories := c.config.GetStringSlice("scraper.categories"); len(categories) > 0 {
		return categories
	}

	return defaultCategories
}

func (c *Config) GetScrapeUserAgent() string {
	userAgent := c.config.GetString("SCRAPE_USER_AGENT")
	if len(userAgent) == 0 {
		userAgent = c.config.GetString("scraper.user_agent")
	}
	if len(userAgent) == 0 {
		userAgent = defaultUserAgent
	}

	return userAgent
}

// GetScrapeRateLimit returns the maximum request rate against the scraped
// site, in requests per second.
func (c *Config) GetScrapeRateLimit() float64 {
	rateLimit := c.config.GetFloat64("SCRAPE_RATE_LIMIT")
	if rateLimit == 0 {
		rateLimit = c.config.GetFloat64("scraper.rate_limit")
	}
	if rateLimit == 0 {
		rateLimit = 1
	}

	return rateLimit
}

func getProjectRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	for {
		configDir := filepath.Join(currentDir, "config")
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			return currentDir, nil
		}

		parent := filepath.Dir(currentDir)

		if parent == currentDir {
			break
		}

		currentDir = parent
	}

	return "", fmt.Errorf("could not find project root (directory containing 'config' folder)")
}

func getConfigPath(env string) (string, error) {
	configFile := fmt.Sprintf("config.%s.yaml", env)

	projectRoot, err := getProjectRoot()
	if err != nil {
		slog.Warn("failed to find project root with config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	configPath := filepath.Join(projectRoot, "config", configFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		slog.Warn("failed to find config file within config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("config file does not exist: %s", configPath)
	}

	return configPath, nil
}
