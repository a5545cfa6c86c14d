package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "notegen_db", cfg.Database.Database)
				assert.Equal(t, "notegen_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "notegen_jobs", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "notegen_jobs_retry", cfg.RabbitMQ.Queue.RetryName)
				assert.Equal(t, 24*time.Hour, cfg.RabbitMQ.Queue.RetentionWindow)
				assert.Equal(t, "lecture-notes", cfg.Storage.Bucket)
				assert.Equal(t, 30*time.Minute, cfg.Worker.JobTimeout)
				assert.Equal(t, 3, cfg.Worker.MaxAttempts)
				assert.Equal(t, 2, cfg.STT.MaxRetries)
				assert.Equal(t, 2*time.Second, cfg.STT.RetryBackoff)
				assert.Equal(t, 2, cfg.LLM.MaxRetries)
				assert.Equal(t, 2*time.Second, cfg.LLM.RetryBackoff)
				assert.Equal(t, "notegen-api-service", cfg.App.Name)
			}
		})
	}
}

func TestLoad_EnvSecretOverrides(t *testing.T) {
	t.Setenv("DB_PASSWORD", "env-db-secret")
	t.Setenv("STT_API_KEY", "env-stt-key")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "env-db-secret", cfg.Database.Password)
	assert.Equal(t, "env-stt-key", cfg.STT.APIKey)
	// Unset env keys must not clobber file values
	assert.Equal(t, "guest", cfg.RabbitMQ.Password)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "notegen_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "notegen_exchange",
			},
			Queue: QueueConfig{
				Name:            "notegen_jobs",
				RetentionWindow: time.Hour,
			},
		},
		Storage: StorageConfig{
			Endpoint: "storage.example.net",
			Bucket:   "lecture-notes",
		},
		STT: STTConfig{Endpoint: "https://stt.example.net"},
		LLM: LLMConfig{Endpoint: "https://llm.example.net"},
		Worker: WorkerConfig{
			JobTimeout:  30 * time.Minute,
			MaxAttempts: 3,
		},
	}
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "missing rabbitmq queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			wantErr:   true,
			errString: "job_timeout must be greater than 0",
		},
		{
			name:      "zero max attempts",
			mutate:    func(c *Config) { c.Worker.MaxAttempts = 0 },
			wantErr:   true,
			errString: "max_attempts must be greater than 0",
		},
		{
			name: "job timeout exceeds retention window",
			mutate: func(c *Config) {
				c.Worker.JobTimeout = 2 * time.Hour
				c.RabbitMQ.Queue.RetentionWindow = time.Hour
			},
			wantErr:   true,
			errString: "must not exceed queue retention_window",
		},
		{
			name:      "missing storage bucket",
			mutate:    func(c *Config) { c.Storage.Bucket = "" },
			wantErr:   true,
			errString: "storage bucket is required",
		},
		{
			name:      "missing stt endpoint",
			mutate:    func(c *Config) { c.STT.Endpoint = "" },
			wantErr:   true,
			errString: "stt endpoint is required",
		},
		{
			name:      "missing llm endpoint",
			mutate:    func(c *Config) { c.LLM.Endpoint = "" },
			wantErr:   true,
			errString: "llm endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
