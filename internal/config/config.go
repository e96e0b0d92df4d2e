// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
)

// ObsConfig 是可选的 OBS 归档配置，四项齐全时才启用
type ObsConfig struct {
	Endpoint string
	AK       string
	SK       string
	Bucket   string
	Prefix   string
}

// Enabled 判断 OBS 配置是否完整
func (o ObsConfig) Enabled() bool {
	return o.Endpoint != "" && o.AK != "" && o.SK != "" && o.Bucket != ""
}

// Config 是进程级配置，全部来自环境变量
type Config struct {
	Host           string
	Port           int
	ConfigDir      string
	DownloadsDir   string
	StaticDir      string
	Debug          bool
	AudiobookDLBin string
	FFprobeBin     string
	RedisAddr      string
	RedisPassword  string
	Obs            ObsConfig
}

// FromEnv 读取环境变量，缺失时使用默认值
func FromEnv() Config {
	return Config{
		Host:           getenv("HOST", "0.0.0.0"),
		Port:           getenvInt("PORT", 8000),
		ConfigDir:      getenv("CONFIG_DIR", "./config"),
		DownloadsDir:   getenv("DOWNLOADS_DIR", "./downloads"),
		StaticDir:      getenv("STATIC_DIR", "./frontend"),
		Debug:          getenvBool("DEBUG", false),
		AudiobookDLBin: getenv("AUDIOBOOK_DL_BIN", "audiobook-dl"),
		FFprobeBin:     getenv("FFPROBE_BIN", "ffprobe"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		Obs: ObsConfig{
			Endpoint: os.Getenv("OBS_ENDPOINT"),
			AK:       os.Getenv("OBS_AK"),
			SK:       os.Getenv("OBS_SK"),
			Bucket:   os.Getenv("OBS_BUCKET"),
			Prefix:   os.Getenv("OBS_PREFIX"),
		},
	}
}

// Addr 返回 HTTP 监听地址
func (c Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}
