package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// 服务运行模式
const (
	ServerModeWeb = "web"
	ServerModeMCP = "mcp"
)

const defaultModelName = "gemini-2.5-flash-image"

// Config 应用配置结构
type Config struct {
	// GenAI 配置
	GenAIBaseURL   string
	GenAIAPIKey    string
	GenAIModelName string
	// GenAI 请求超时时间（秒），0 表示不设置超时
	GenAITimeoutSeconds int

	// 运行模式: web 或 mcp
	ServerMode    string
	ServerAddress string
	ServerPort    string

	// 单个上传文件的大小上限（MB）
	MaxUploadMB int
	// 下载文件名前缀: <prefix>-<epoch-millis>.png
	DownloadPrefix string
	// 浏览器会话空闲多久后被回收（分钟）
	SessionIdleMinutes int

	// 日志配置
	LogLevel  string // 日志级别: debug, info, warn, error
	LogFormat string // 日志格式: json, text
	LogOutput string // 输出位置: stdout, stderr, file
	LogFile   string // 日志文件路径（当 LogOutput 为 file 时）
}

// LoadConfig 从 .env 文件和环境变量加载配置
func LoadConfig() (*Config, error) {
	// 加载 .env 文件（如果存在）
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: .env file not found, using environment variables")
	}

	config := &Config{
		GenAIBaseURL:        getEnv("GENAI_BASE_URL", ""),
		GenAIAPIKey:         getEnv("GENAI_API_KEY", getEnv("API_KEY", "")),
		GenAIModelName:      getEnv("GENAI_MODEL_NAME", defaultModelName),
		GenAITimeoutSeconds: getEnvInt("GENAI_TIMEOUT_SECONDS", 0),
		ServerMode:          strings.ToLower(getEnv("SERVER_MODE", ServerModeWeb)),
		ServerAddress:       getEnv("SERVER_ADDRESS", "0.0.0.0"),
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		MaxUploadMB:         getEnvInt("MAX_UPLOAD_MB", 20),
		DownloadPrefix:      getEnv("DOWNLOAD_PREFIX", "gemini-edit"),
		SessionIdleMinutes:  getEnvInt("SESSION_IDLE_MINUTES", 60),
		// 日志配置
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogOutput: getEnv("LOG_OUTPUT", "stdout"),
		LogFile:   getEnv("LOG_FILE", ""),
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	// 初始化日志系统
	logConfig := &LogConfig{
		Level:    config.LogLevel,
		Format:   config.LogFormat,
		Output:   config.LogOutput,
		FilePath: config.LogFile,
	}
	if err := InitLogger(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return config, nil
}

// normalize 校验运行模式并修正非法的数值配置
// API Key 缺失不在这里报错：每次生成请求构建客户端时才会失败
func (c *Config) normalize() error {
	switch c.ServerMode {
	case ServerModeWeb, ServerModeMCP:
	default:
		return fmt.Errorf("unsupported SERVER_MODE: %s", c.ServerMode)
	}

	// stdio 传输占用 stdout
	if c.ServerMode == ServerModeMCP && strings.EqualFold(c.LogOutput, "stdout") {
		c.LogOutput = "stderr"
	}

	if c.GenAIModelName == "" {
		c.GenAIModelName = defaultModelName
	}
	if c.GenAITimeoutSeconds < 0 {
		c.GenAITimeoutSeconds = 0
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 20
	}
	if c.SessionIdleMinutes <= 0 {
		c.SessionIdleMinutes = 60
	}
	if c.DownloadPrefix == "" {
		c.DownloadPrefix = "gemini-edit"
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取整型环境变量
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	return defaultValue
}

// GetServerAddr 返回完整的服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.ServerAddress, c.ServerPort)
}

// MaxUploadBytes 返回单个上传文件的字节上限
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// MaskAPIKey 隐藏 API Key 的敏感部分
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
