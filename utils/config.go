package utils

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Endpoint struct {
	Name  string   `mapstructure:"Name"`
	Paths []string `mapstructure:"Paths"`
}

type Config struct {
	Host                 string     `mapstructure:"HOST"`
	Port                 int        `mapstructure:"PORT"`
	Endpoints            []Endpoint `mapstructure:"ENDPOINTS"`
	SendBufferSize       uint32     `mapstructure:"SEND_BUFFER_SIZE"`
	ReceiveBufferSize    uint32     `mapstructure:"RECEIVE_BUFFER_SIZE"`
	MaxMessageSize       uint32     `mapstructure:"MAX_MESSAGE_SIZE"`
	MaxChunkCount        uint32     `mapstructure:"MAX_CHUNK_COUNT"`
	MaxWorkerThreads     int        `mapstructure:"MAX_WORKER_THREADS"`
	StrictEndpointURLs   bool       `mapstructure:"STRICT_ENDPOINT_URLS"`
	CertFile             string     `mapstructure:"CERT_FILE"`
	KeyFile              string     `mapstructure:"KEY_FILE"`
	Trace                bool       `mapstructure:"TRACE"`
}

func GetConfig() Config {
	v := viper.New()
	var config Config

	v.SetConfigName("config")    // name of config file (without extension)
	v.SetConfigType("json")      // REQUIRED if the config file does not have the extension in the name
	v.AddConfigPath("./configs") // look for config in ./configs under the working directory

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println(Colorize("Config file not found! using default configs..", Yellow))
			setDefault(v)
		} else {
			log.Println(Colorize("Config file was found but another error was produced : ", Red))
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	} else {
		log.Println(Colorize("Config file found and successfully parsed", Green))
	}

	err := v.Unmarshal(&config)
	if err != nil {
		panic(fmt.Errorf("unable to decode into struct %w", err))
	}

	return config
}

func setDefault(v *viper.Viper) {
	v.SetDefault("HOST", "localhost")
	v.SetDefault("PORT", 4840)
	v.SetDefault("ENDPOINTS", []Endpoint{
		{
			Name:  "UaStackServer",
			Paths: []string{"/"},
		},
	})
	v.SetDefault("SEND_BUFFER_SIZE", 65535)
	v.SetDefault("RECEIVE_BUFFER_SIZE", 65535)
	v.SetDefault("MAX_MESSAGE_SIZE", 16*1024*1024)
	v.SetDefault("MAX_CHUNK_COUNT", 4096)
	v.SetDefault("MAX_WORKER_THREADS", 4)
	v.SetDefault("STRICT_ENDPOINT_URLS", true)
	v.SetDefault("CERT_FILE", "./pki/server.crt")
	v.SetDefault("KEY_FILE", "./pki/server.key")
	v.SetDefault("TRACE", false)
}

// Foreground colors.
const (
	Black uint8 = iota + 30
	Red
	Green
	Yellow
	Blue
	Magenta
	Cyan
	White
)

// Colorize colorizes a string by a given color.
func Colorize(s string, c uint8) string {
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", c, s)
}
