package jit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tangzhangming/timeshift/internal/hint"
	"github.com/tangzhangming/timeshift/internal/timeshift"
)

// 常量定义
const (
	ConfigFileName = "timeshift.toml" // 配置文件名
)

// Config 特化器配置
type Config struct {
	// LogLevel 日志级别：debug、info、warn、error
	LogLevel string `toml:"log_level"`

	// MaxFixpointIterations 标注不动点的块访问上限
	MaxFixpointIterations int `toml:"max_fixpoint_iterations"`

	// MaxResidualBlocks 单次特化生成的残余块上限
	MaxResidualBlocks int `toml:"max_residual_blocks"`

	// CacheAnnotations 按调用签名缓存标注结果
	CacheAnnotations bool `toml:"cache_annotations"`

	// DumpResidual 以 info 级别记录生成的残余程序
	DumpResidual bool `toml:"dump_residual"`

	// HotspotThreshold 调用多少次后才特化；0 表示第一次调用就特化
	HotspotThreshold int `toml:"hotspot_threshold"`
}

// configFile 配置文件结构
type configFile struct {
	Specializer *Config `toml:"specializer"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel:              "info",
		MaxFixpointIterations: hint.DefaultMaxIterations,
		MaxResidualBlocks:     timeshift.DefaultMaxBlocks,
		CacheAnnotations:      true,
	}
}

// LoadConfig 从文件加载配置，文件中缺省的项保留默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	file := configFile{Specializer: config}
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.MaxFixpointIterations <= 0 {
		return fmt.Errorf("max_fixpoint_iterations must be positive, got %d", c.MaxFixpointIterations)
	}
	if c.MaxResidualBlocks <= 0 {
		return fmt.Errorf("max_residual_blocks must be positive, got %d", c.MaxResidualBlocks)
	}
	if c.HotspotThreshold < 0 {
		return fmt.Errorf("hotspot_threshold must not be negative, got %d", c.HotspotThreshold)
	}
	return nil
}

// Level 解析日志级别
func (c *Config) Level() (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger 按配置的级别创建开发格式的日志
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	return zc.Build()
}

// FindConfigFile 从指定路径向上查找配置文件
// 返回配置文件的完整路径，如果找不到则返回空字符串
func FindConfigFile(startPath string) string {
	info, err := os.Stat(startPath)
	if err != nil {
		return ""
	}

	dir := startPath
	if !info.IsDir() {
		dir = filepath.Dir(startPath)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
