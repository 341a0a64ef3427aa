package viper

import (
	"path/filepath"
	"strings"

	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的 YAML/JSON 配置加载接口。
//
// 说明：
//   - 环境变量会覆盖文件中的同名配置，变量名为 <PREFIX>_<KEY>，key 中的 "." 与 "-" 替换为 "_"；
//   - 未设置前缀时不读取环境变量。
type Config struct {
	v *spfviper.Viper
}

// New 创建一个空的 Config。
// envPrefix 非空时开启环境变量覆盖，例如前缀 CIRCUIT 对应 CIRCUIT_DRIVER_INTERVAL。
func New(envPrefix ...string) *Config {
	v := spfviper.New()
	if len(envPrefix) > 0 && envPrefix[0] != "" {
		v.SetEnvPrefix(envPrefix[0])
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	}
	return &Config{v: v}
}

// SetDefault 设置 key 的默认值，文件与环境变量均未提供时生效。
// 环境变量覆盖只对设置过默认值或出现在文件中的 key 生效，且仅 Unmarshal 会应用到嵌套字段。
func (c *Config) SetDefault(key string, value any) {
	c.v.SetDefault(key, value)
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	if c.v == nil {
		c.v = spfviper.New()
	}

	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return c.v.ReadInConfig()
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst interface{}) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(dst)
}

// UnmarshalKey 将指定 key 对应的子配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) UnmarshalKey(key string, dst interface{}) error {
	if c.v == nil {
		return nil
	}
	return c.v.UnmarshalKey(key, dst)
}

// IsSet 判断 key 是否在文件、环境变量或默认值中出现。
func (c *Config) IsSet(key string) bool {
	return c.v != nil && c.v.IsSet(key)
}
