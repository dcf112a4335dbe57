package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"deployhook/internal/security"
	"deployhook/pkg/cmdutil"
	"deployhook/pkg/fileutil"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional YAML file searched for in the default locations.
const ConfigFileName = "deployhook.yaml"

// Defaults
const (
	DefaultWorkDir             = "/tmp/deploy/workspace"
	DefaultCacheDir            = "/tmp/deploy/cache"
	DefaultLogDir              = "/tmp/deploy/logs"
	DefaultBaseDomain          = "localhost"
	DefaultBranch              = "master"
	DefaultAllowedBranchRegex  = `^(feature|fix|hotfix|master|main).*$`
	DefaultBuildFilter         = "@devom/archive"
	DefaultHost                = "0.0.0.0"
	DefaultPort                = 3000
	DefaultBuildTimeoutMS      = 600000
	DefaultCloneTimeoutMS      = 120000
	DefaultMaxConcurrentBuilds = 3
	DefaultDockerNetwork       = "deploy-network"
	DefaultTraefikEntrypoint   = "web"
	DefaultContainerMemoryMB   = 512
	DefaultContainerCPUs       = 0.5
	DefaultWebhookRateLimit    = 60
	DefaultLogLevel            = "info"
)

// Config is the immutable server configuration, loaded once at startup.
type Config struct {
	WebhookSecret string
	GitHubToken   string
	RepoURL       string

	WorkDir  string
	CacheDir string
	LogDir   string

	BaseDomain    string
	DefaultBranch string
	BranchRegex   *regexp.Regexp
	BuildFilter   string

	InstallCommand []string
	BuildCommand   []string

	Host string
	Port int

	BuildTimeout        time.Duration
	CloneTimeout        time.Duration
	MaxConcurrentBuilds int

	Registry          string
	DockerNetwork     string
	DockerHost        string
	TraefikEntrypoint string
	ContainerMemoryMB int64
	ContainerCPUs     float64

	HistoryDB        string
	WorkspaceTTL     time.Duration
	WebhookRateLimit int

	SlackWebhookURL   string
	DiscordWebhookURL string

	LogLevel slog.Level

	// File is the YAML file the values were merged from, if any.
	File string
	// Warnings are non-fatal findings to log once a logger exists.
	Warnings []string
}

// Load reads .env, an optional YAML file and the process environment, in
// increasing order of precedence. path may be empty, in which case
// DEPLOYHOOK_CONFIG_FILE and then the default locations are searched.
func Load(path string) (*Config, error) {
	// .env never overrides variables already present in the environment.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("DEPLOYHOOK_CONFIG_FILE")
	}
	if path == "" {
		path = fileutil.FindConfigOptional(ConfigFileName)
	}

	var file map[string]string
	var warnings []string
	if path != "" {
		var err error
		file, err = readFile(path)
		if err != nil {
			return nil, err
		}
		if err := security.ValidateSecurePermissions(path); err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok && v != ""
	}

	cfg, err := FromLookup(lookup)
	if err != nil {
		return nil, err
	}
	cfg.File = path
	cfg.Warnings = append(warnings, cfg.Warnings...)
	return cfg, nil
}

// readFile parses a flat YAML mapping of the same keys as the environment.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// FromLookup builds a Config from a key lookup function and validates it.
// All problems are reported together in a single error.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	p := &parser{lookup: lookup}

	cfg := &Config{
		WebhookSecret:     p.str("GITHUB_WEBHOOK_SECRET", ""),
		GitHubToken:       p.str("GITHUB_TOKEN", ""),
		RepoURL:           p.str("REPO_SSH_URL", p.str("REPO_URL", "")),
		WorkDir:           p.path("WORK_DIR", DefaultWorkDir),
		CacheDir:          p.path("CACHE_DIR", DefaultCacheDir),
		LogDir:            p.path("LOG_DIR", DefaultLogDir),
		BaseDomain:        p.str("BASE_DOMAIN", DefaultBaseDomain),
		DefaultBranch:     p.str("DEFAULT_BRANCH", DefaultBranch),
		BuildFilter:       p.str("BUILD_FILTER", DefaultBuildFilter),
		Host:              p.str("HOST", DefaultHost),
		Port:              p.integer("PORT", DefaultPort),
		BuildTimeout:      p.millis("BUILD_TIMEOUT", DefaultBuildTimeoutMS),
		CloneTimeout:      p.millis("CLONE_TIMEOUT", DefaultCloneTimeoutMS),
		Registry:          strings.TrimSuffix(p.str("REGISTRY", ""), "/"),
		DockerNetwork:     p.str("DOCKER_NETWORK_NAME", DefaultDockerNetwork),
		DockerHost:        p.str("DOCKER_HOST", ""),
		TraefikEntrypoint: p.str("TRAEFIK_ENTRYPOINT", DefaultTraefikEntrypoint),
		ContainerMemoryMB: int64(p.integer("CONTAINER_MEMORY_MB", DefaultContainerMemoryMB)),
		ContainerCPUs:     p.float("CONTAINER_CPUS", DefaultContainerCPUs),
		HistoryDB:         p.str("HISTORY_DB", ""),
		WorkspaceTTL:      p.duration("WORKSPACE_TTL", 0),
		WebhookRateLimit:  p.integer("WEBHOOK_RATE_LIMIT", DefaultWebhookRateLimit),
		SlackWebhookURL:   p.str("SLACK_WEBHOOK_URL", ""),
		DiscordWebhookURL: p.str("DISCORD_WEBHOOK_URL", ""),
	}
	cfg.MaxConcurrentBuilds = p.integer("MAX_CONCURRENT_BUILDS", DefaultMaxConcurrentBuilds)
	cfg.LogLevel = p.level("LOG_LEVEL", DefaultLogLevel)

	regex := p.str("ALLOWED_BRANCH_REGEX", DefaultAllowedBranchRegex)
	re, err := regexp.Compile(regex)
	if err != nil {
		p.errorf("ALLOWED_BRANCH_REGEX is not a valid regular expression: %v", err)
	}
	cfg.BranchRegex = re

	policy := security.NewCommandPolicy()
	cfg.InstallCommand = p.command(policy, "INSTALL_COMMAND", DefaultInstallCommand(), "default install command")
	cfg.BuildCommand = p.command(policy, "BUILD_COMMAND", DefaultBuildCommand(cfg.BuildFilter), "build command derived from BUILD_FILTER")

	p.errs = append(p.errs, cfg.validate()...)
	if len(p.errs) > 0 {
		return nil, fmt.Errorf("configuration errors:\n%s", strings.Join(p.errs, "\n"))
	}

	if cfg.WebhookSecret != "" {
		if err := security.ValidateSecret(cfg.WebhookSecret); err != nil {
			cfg.Warnings = append(cfg.Warnings, "weak GITHUB_WEBHOOK_SECRET: "+strings.ReplaceAll(err.Error(), "\n", "; "))
		}
	}

	return cfg, nil
}

// validate checks cross-field and range constraints.
func (c *Config) validate() []string {
	var errs []string

	if c.WebhookSecret == "" {
		errs = append(errs, "  - GITHUB_WEBHOOK_SECRET is required")
	}
	if c.RepoURL == "" {
		errs = append(errs, "  - REPO_SSH_URL is required")
	} else if err := security.ValidateRepoURL(c.RepoURL); err != nil {
		errs = append(errs, fmt.Sprintf("  - REPO_SSH_URL: %v", err))
	}
	if err := security.ValidateBranchName(c.DefaultBranch); err != nil {
		errs = append(errs, fmt.Sprintf("  - DEFAULT_BRANCH: %v", err))
	}
	if c.BaseDomain == "" || strings.ContainsAny(c.BaseDomain, " /`") {
		errs = append(errs, fmt.Sprintf("  - BASE_DOMAIN is not a valid host name: %q", c.BaseDomain))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("  - PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.BuildTimeout <= 0 {
		errs = append(errs, "  - BUILD_TIMEOUT must be positive")
	}
	if c.CloneTimeout <= 0 {
		errs = append(errs, "  - CLONE_TIMEOUT must be positive")
	}
	if c.MaxConcurrentBuilds < 1 {
		errs = append(errs, fmt.Sprintf("  - MAX_CONCURRENT_BUILDS must be at least 1, got %d", c.MaxConcurrentBuilds))
	}
	if c.DockerNetwork == "" {
		errs = append(errs, "  - DOCKER_NETWORK_NAME cannot be empty")
	}
	if c.ContainerMemoryMB <= 0 {
		errs = append(errs, "  - CONTAINER_MEMORY_MB must be positive")
	}
	if c.ContainerCPUs <= 0 {
		errs = append(errs, "  - CONTAINER_CPUS must be positive")
	}
	if c.WorkspaceTTL < 0 {
		errs = append(errs, "  - WORKSPACE_TTL cannot be negative")
	}
	if c.WebhookRateLimit < 0 {
		errs = append(errs, "  - WEBHOOK_RATE_LIMIT cannot be negative")
	}

	return errs
}

// DefaultInstallCommand installs workspace dependencies from the lockfile.
func DefaultInstallCommand() []string {
	return []string{"pnpm", "install", "--frozen-lockfile"}
}

// DefaultBuildCommand builds the filtered package, or the whole workspace
// when no filter is set.
func DefaultBuildCommand(filter string) []string {
	if filter == "" {
		return []string{"pnpm", "build"}
	}
	return []string{"pnpm", "--filter", filter, "build"}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ContainerMemoryBytes converts the memory cap for the container runtime.
func (c *Config) ContainerMemoryBytes() int64 {
	return c.ContainerMemoryMB * 1024 * 1024
}

// ContainerNanoCPUs converts the fractional CPU cap for the container runtime.
func (c *Config) ContainerNanoCPUs() int64 {
	return int64(c.ContainerCPUs * 1e9)
}

// LogValue keeps secrets out of the startup log.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("repo", c.RepoURL),
		slog.String("work_dir", c.WorkDir),
		slog.String("base_domain", c.BaseDomain),
		slog.String("default_branch", c.DefaultBranch),
		slog.String("branch_regex", c.BranchRegex.String()),
		slog.String("build_filter", c.BuildFilter),
		slog.String("install", cmdutil.FormatCommand(c.InstallCommand)),
		slog.String("build", cmdutil.FormatCommand(c.BuildCommand)),
		slog.Int("max_concurrent_builds", c.MaxConcurrentBuilds),
		slog.String("network", c.DockerNetwork),
		slog.String("registry", c.Registry),
		slog.Bool("history", c.HistoryDB != ""),
		slog.Bool("github_token", c.GitHubToken != ""),
		slog.Duration("workspace_ttl", c.WorkspaceTTL),
	)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []string
}

func (p *parser) errorf(format string, args ...any) {
	p.errs = append(p.errs, "  - "+fmt.Sprintf(format, args...))
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errorf("%s must be an integer, got %q", key, v)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.errorf("%s must be a number, got %q", key, v)
		return def
	}
	return f
}

func (p *parser) millis(key string, def int) time.Duration {
	return time.Duration(p.integer(key, def)) * time.Millisecond
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		p.errorf("%s must be a duration such as 72h, got %q", key, v)
		return def
	}
	return d
}

func (p *parser) path(key, def string) string {
	raw := p.str(key, def)
	clean, err := security.SanitizePath(raw)
	if err != nil {
		p.errorf("%s: %v", key, err)
		return raw
	}
	return clean
}

func (p *parser) level(key, def string) slog.Level {
	var level slog.Level
	raw := p.str(key, def)
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		p.errorf("%s must be one of debug, info, warn, error, got %q", key, raw)
		return slog.LevelInfo
	}
	return level
}

// command resolves key to argv, falling back to def, and checks the result
// against policy either way. defSource names def in error messages.
func (p *parser) command(policy *security.CommandPolicy, key string, def []string, defSource string) []string {
	parts, source := def, defSource
	if raw, ok := p.lookup(key); ok {
		var err error
		if parts, err = cmdutil.ParseCommandString(raw); err != nil {
			p.errorf("%s: %v", key, err)
			return def
		}
		source = key
	}
	if err := policy.Validate(parts); err != nil {
		p.errorf("%s: %v", source, err)
		return def
	}
	return parts
}
