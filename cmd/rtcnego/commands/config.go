package commands

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

// CLIConfig holds every setting of the rtcnego commands. Values come from
// flags, RTCNEGO_* environment variables and an optional config file.
type CLIConfig struct {
	Signaler   string        `mapstructure:"signaler"`
	Transport  string        `mapstructure:"transport"`
	ID         string        `mapstructure:"id"`
	Realm      string        `mapstructure:"realm"`
	ICEServers []string      `mapstructure:"ice-servers"`
	Port       uint16        `mapstructure:"port"`
	Timeout    time.Duration `mapstructure:"timeout"`
	LogLevel   string        `mapstructure:"loglevel"`
	LogFile    string        `mapstructure:"logfile"`
	Listen     string        `mapstructure:"listen"`
	Wamp       bool          `mapstructure:"wamp"`
	Lens2      bool          `mapstructure:"lens2"`
	CertFile   string        `mapstructure:"cert"`
	KeyFile    string        `mapstructure:"key"`
	CAFile     string        `mapstructure:"ca"`
	Insecure   bool          `mapstructure:"insecure"`
}

func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Signaler:   "ws://127.0.0.1:9001/",
		Transport:  "ws",
		Realm:      "rtcnego",
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		Timeout:    30 * time.Second,
		LogLevel:   "info",
		Listen:     "127.0.0.1:9001",
	}
}

func (c *CLIConfig) iceServers() []webrtc.ICEServer {
	if len(c.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.ICEServers}}
}

// loadConfig reads flags, environment and config.yaml, in increasing order
// of precedence for flags that were set explicitly.
func loadConfig(v *viper.Viper) (*CLIConfig, error) {
	v.SetEnvPrefix("RTCNEGO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	conf := NewDefaultCLIConfig()
	if err := v.Unmarshal(conf); err != nil {
		return nil, err
	}
	return conf, nil
}
