package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
)

// Config 全局配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Log       LogConfig       `mapstructure:"log"`
	QBO       QBOConfig       `mapstructure:"qbo"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name string `mapstructure:"name"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	LogLevel        string `mapstructure:"log_level"`         // SQL日志级别: silent/error/warn/info
}

// AuthConfig 网关认证配置
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// CryptoConfig 加密配置
type CryptoConfig struct {
	AESKey string `mapstructure:"aes_key"` // 32字节，用于refresh token落库加密
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"` // json, console
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

// QBOConfig QuickBooks对接配置
type QBOConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	StateSecret  string `mapstructure:"state_secret"` // OAuth state签名密钥

	// 端点默认取Intuit官方地址，测试时可覆盖
	AuthURL        string `mapstructure:"auth_url"`
	TokenURL       string `mapstructure:"token_url"`
	SandboxAPIBase string `mapstructure:"sandbox_api_base"`
	ProdAPIBase    string `mapstructure:"prod_api_base"`
	MinorVersion   string `mapstructure:"minor_version"`

	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`       // 单次请求超时
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"` // 429/5xx重试次数上限
	RetryMaxWait     time.Duration `mapstructure:"retry_max_wait"`     // 退避上限
	RefreshLookahead time.Duration `mapstructure:"refresh_lookahead"`  // 到期前提前刷新窗口
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	RefreshCron string `mapstructure:"refresh_cron"` // 凭据预刷新扫描
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// 读取环境变量
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.QBO.AuthURL == "" {
		c.QBO.AuthURL = constants.QBOAuthURL
	}
	if c.QBO.TokenURL == "" {
		c.QBO.TokenURL = constants.QBOTokenURL
	}
	if c.QBO.SandboxAPIBase == "" {
		c.QBO.SandboxAPIBase = constants.QBOSandboxAPIBase
	}
	if c.QBO.ProdAPIBase == "" {
		c.QBO.ProdAPIBase = constants.QBOProdAPIBase
	}
	if c.QBO.MinorVersion == "" {
		c.QBO.MinorVersion = constants.QBOMinorVersion
	}
	if c.QBO.HTTPTimeout <= 0 {
		c.QBO.HTTPTimeout = 30 * time.Second
	}
	if c.QBO.RetryMaxAttempts <= 0 {
		c.QBO.RetryMaxAttempts = 3
	}
	if c.QBO.RetryMaxWait <= 0 {
		c.QBO.RetryMaxWait = 15 * time.Second
	}
	if c.QBO.RefreshLookahead <= 0 {
		c.QBO.RefreshLookahead = 5 * time.Minute
	}
	if c.Scheduler.RefreshCron == "" {
		c.Scheduler.RefreshCron = "0 */15 * * * *" // 每15分钟
	}
}

func (c *Config) validate() error {
	if len(c.Crypto.AESKey) != 32 {
		return fmt.Errorf("crypto.aes_key 长度必须为32字节")
	}
	if c.QBO.ClientID == "" || c.QBO.ClientSecret == "" {
		return fmt.Errorf("qbo.client_id / qbo.client_secret 不能为空")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key 不能为空")
	}
	return nil
}

// GetDSN 获取数据库DSN
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// APIBase 按环境返回QBO数据面基础地址
func (c *QBOConfig) APIBase(environment string) string {
	if environment == constants.EnvironmentProd {
		return c.ProdAPIBase
	}
	return c.SandboxAPIBase
}
