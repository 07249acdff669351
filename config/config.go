// Ininicializing common application configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/spf13/viper"
)

const EnvPrefix = "ESPDISPLAY"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Device    DeviceConfig    `mapstructure:"device"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	AppVersion  string        `mapstructure:"app_version"`
	Port        string        `mapstructure:"port"`
	Timeout     time.Duration `mapstructure:"timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	Env         string        `mapstructure:"environment"`
	Mode        string        `mapstructure:"mode"`
	// largest accepted image upload
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// DeviceConfig describes the display and how to reach it. Host and Port are
// only the initial address; the user may change it at runtime.
type DeviceConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Screens        int           `mapstructure:"screens"`
	SlotsPerScreen int           `mapstructure:"slots_per_screen"`
}

func (c DeviceConfig) Address() entity.DeviceAddress {
	return entity.DeviceAddress{Host: c.Host, Port: c.Port}
}

// ProfilesConfig holds the pixel format every destination expects.
type ProfilesConfig struct {
	Gallery entity.TargetSpec `mapstructure:"gallery"`
	Group   entity.TargetSpec `mapstructure:"group"`
	Slot    entity.TargetSpec `mapstructure:"slot"`
}

// For returns the TargetSpec configured for kind.
func (p ProfilesConfig) For(kind entity.TargetKind) (entity.TargetSpec, error) {
	switch kind {
	case entity.TargetGallery:
		return p.Gallery, nil
	case entity.TargetGroup:
		return p.Group, nil
	case entity.TargetSlot:
		return p.Slot, nil
	}
	return entity.TargetSpec{}, fmt.Errorf("%w: no profile for %q", entity.ErrInvalidTarget, kind)
}

func (p ProfilesConfig) Validate() error {
	for name, spec := range map[string]entity.TargetSpec{"gallery": p.Gallery, "group": p.Group, "slot": p.Slot} {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
	}
	return nil
}

type TranscodeConfig struct {
	// largest source accepted, in pixels (width x height)
	MaxSourcePixels int64 `mapstructure:"max_source_pixels"`
}

type WorkerConfig struct {
	// 0 runs every task at once
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	DispatcherBuffer int           `mapstructure:"dispatcher_buffer"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type KafkaConfig struct {
	Brokers []string      `mapstructure:"brokers"`
	Topic   string        `mapstructure:"topic"`
	GroupID string        `mapstructure:"group_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads config.yaml from ./config (or the given directories) with
// ESPDISPLAY_* environment overrides. A missing file leaves the defaults.
func LoadConfig(paths ...string) (*viper.Viper, error) {

	viperInstance := viper.New()

	if len(paths) == 0 {
		paths = []string{"./config"}
	}
	for _, p := range paths {
		viperInstance.AddConfigPath(p)
	}
	viperInstance.SetConfigName("config")
	viperInstance.SetConfigType("yaml")

	viperInstance.SetEnvPrefix(EnvPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	setDefaults(viperInstance)

	err := viperInstance.ReadInConfig()

	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return viperInstance, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {

	var c Config

	err := v.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Profiles.Validate(); err != nil {
		return nil, err
	}
	if c.Transcode.MaxSourcePixels <= 0 {
		return nil, fmt.Errorf("transcode.max_source_pixels must be positive, got %d", c.Transcode.MaxSourcePixels)
	}
	if c.Device.Screens < 1 || c.Device.SlotsPerScreen < 1 {
		return nil, fmt.Errorf("device needs at least one screen and slot, got %d and %d", c.Device.Screens, c.Device.SlotsPerScreen)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.app_version", "1.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.timeout", 90*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_upload_bytes", 32<<20)

	v.SetDefault("device.host", "192.168.4.1")
	v.SetDefault("device.port", 80)
	v.SetDefault("device.dial_timeout", 30*time.Second)
	v.SetDefault("device.request_timeout", 60*time.Second)
	v.SetDefault("device.screens", 4)
	v.SetDefault("device.slots_per_screen", 3)

	v.SetDefault("profiles.gallery.width", 128)
	v.SetDefault("profiles.gallery.height", 128)
	v.SetDefault("profiles.gallery.encoding", string(entity.EncodingRGB565))
	v.SetDefault("profiles.gallery.byte_order", string(entity.LittleEndian))

	v.SetDefault("profiles.group.width", 128)
	v.SetDefault("profiles.group.height", 128)
	v.SetDefault("profiles.group.encoding", string(entity.EncodingCompressed))
	v.SetDefault("profiles.group.quality", 70)
	v.SetDefault("profiles.group.max_bytes", 50*1024)

	v.SetDefault("profiles.slot.width", 130)
	v.SetDefault("profiles.slot.height", 130)
	v.SetDefault("profiles.slot.encoding", string(entity.EncodingRGB565))
	v.SetDefault("profiles.slot.byte_order", string(entity.BigEndian))

	v.SetDefault("transcode.max_source_pixels", 40_000_000)

	v.SetDefault("worker.max_concurrent", 4)
	v.SetDefault("worker.dispatcher_buffer", 64)
	v.SetDefault("worker.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.base_path", "./storage")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "espdisplay-flow-events")
	v.SetDefault("kafka.group_id", "espdisplay-events")
	v.SetDefault("kafka.timeout", 10*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "espdisplay:device:address")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
