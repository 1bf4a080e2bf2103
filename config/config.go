package config

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	Server      Server        `yaml:"server"`
	Backend     Backend       `yaml:"backend"`
	Capture     Capture       `yaml:"capture"`
	Recording   Recording     `yaml:"recording"`
	Upload      Upload        `yaml:"upload"`
	Journal     Journal       `yaml:"journal"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
}

type App struct {
	Environment string `yaml:"environment"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type Backend struct {
	BaseUrl string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout time.Duration
}

type Capture struct {
	VideoDevice0  string `yaml:"video_device_0"`
	VideoDevice1  string `yaml:"video_device_1"`
	AudioDevice   string `yaml:"audio_device"`
	FrameRate     int    `yaml:"frame_rate"`
	VideoSize     string `yaml:"video_size"`
	FFmpegBin     string `yaml:"ffmpeg_bin"`
	ChunkInterval time.Duration
}

type Recording struct {
	DefaultTitle string `yaml:"default_title"`
	MaxDuration  time.Duration
}

type Upload struct {
	Transport               string `yaml:"transport"`
	ObjectPrefix            string `yaml:"object_prefix"`
	MaxRetries              int    `yaml:"max_retries"`
	Multiplier              float64
	BaseDelay               time.Duration
	MaxDelay                time.Duration
	AttemptTimeout          time.Duration
	RetryClientErrors       bool `yaml:"retry_client_errors"`
	ResetCountOnManualRetry bool `yaml:"reset_count_on_manual_retry"`
}

type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path"`
}

type RabbitMQ struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8088")
	viper.SetDefault("backend.timeout_seconds", 30)
	viper.SetDefault("capture.video_device_0", "/dev/video0")
	viper.SetDefault("capture.video_device_1", "/dev/video1")
	viper.SetDefault("capture.audio_device", "default")
	viper.SetDefault("capture.frame_rate", 30)
	viper.SetDefault("capture.video_size", "1280x720")
	viper.SetDefault("capture.ffmpeg_bin", "ffmpeg")
	viper.SetDefault("capture.chunk_interval_ms", 1000)
	viper.SetDefault("upload.transport", "http")
	viper.SetDefault("upload.object_prefix", "recordings")
	viper.SetDefault("upload.max_retries", 3)
	viper.SetDefault("upload.base_delay_ms", 1000)
	viper.SetDefault("upload.max_delay_ms", 30000)
	viper.SetDefault("upload.multiplier", 2.0)
	viper.SetDefault("upload.attempt_timeout_seconds", 300)
	viper.SetDefault("recording.default_title", "Interview session")
	viper.SetDefault("recording.max_duration_seconds", 0)
	viper.SetDefault("journal.driver", "sqlite")
	viper.SetDefault("journal.path", "recorder-journal.db")
	viper.SetDefault("rabbitmq_kind", "topic")
	viper.SetDefault("rabbitmq_exchange", "recorder.events")

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Enabled:      viper.GetBool("rabbitmq_enabled"),
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
		Kind:         viper.GetString("rabbitmq_kind"),
	}

	cfg := &Config{
		App: App{
			Environment: viper.GetString("app.environment"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Backend: Backend{
			BaseUrl: viper.GetString("backend.base_url"),
			Token:   viper.GetString("backend.token"),
			Timeout: time.Duration(viper.GetInt("backend.timeout_seconds")) * time.Second,
		},
		Capture: Capture{
			VideoDevice0:  viper.GetString("capture.video_device_0"),
			VideoDevice1:  viper.GetString("capture.video_device_1"),
			AudioDevice:   viper.GetString("capture.audio_device"),
			FrameRate:     viper.GetInt("capture.frame_rate"),
			VideoSize:     viper.GetString("capture.video_size"),
			FFmpegBin:     viper.GetString("capture.ffmpeg_bin"),
			ChunkInterval: time.Duration(viper.GetInt("capture.chunk_interval_ms")) * time.Millisecond,
		},
		Recording: Recording{
			DefaultTitle: viper.GetString("recording.default_title"),
			MaxDuration:  time.Duration(viper.GetInt("recording.max_duration_seconds")) * time.Second,
		},
		Upload: Upload{
			Transport:               viper.GetString("upload.transport"),
			ObjectPrefix:            viper.GetString("upload.object_prefix"),
			MaxRetries:              viper.GetInt("upload.max_retries"),
			Multiplier:              viper.GetFloat64("upload.multiplier"),
			BaseDelay:               time.Duration(viper.GetInt("upload.base_delay_ms")) * time.Millisecond,
			MaxDelay:                time.Duration(viper.GetInt("upload.max_delay_ms")) * time.Millisecond,
			AttemptTimeout:          time.Duration(viper.GetInt("upload.attempt_timeout_seconds")) * time.Second,
			RetryClientErrors:       viper.GetBool("upload.retry_client_errors"),
			ResetCountOnManualRetry: viper.GetBool("upload.reset_count_on_manual_retry"),
		},
		Journal: Journal{
			Enabled: viper.GetBool("journal.enabled"),
			Driver:  viper.GetString("journal.driver"),
			Path:    viper.GetString("journal.path"),
		},
		MinIOBucket: viper.GetString("minio.bucket"),
		Queue:       rabbitmq,
	}

	if cfg.Journal.Enabled && cfg.Journal.Driver == "postgres" {
		db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
		if err != nil {
			return nil, err
		}
		cfg.DB = db
	}

	if cfg.Upload.Transport == "s3" {
		minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: false,
		})
		if err != nil {
			return nil, err
		}
		cfg.Storage = minioClient
	}

	return cfg, nil
}
