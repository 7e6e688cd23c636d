package config

import (
	"encoding/json"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ICEServer is one STUN/TURN entry of the peer connection configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Application config structure
type AppConfig struct {
	Name        string `mapstructure:"service_name" validate:"required"`
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"required"`
	FrontendURL string `mapstructure:"frontend_url"`

	StorageDir  string `mapstructure:"storage_dir" validate:"required"`
	AnalysisDir string `mapstructure:"analysis_dir" validate:"required"`
	LogsDir     string `mapstructure:"logs_dir" validate:"required"`

	RTCSampleRate  int    `mapstructure:"rtc_sample_rate" validate:"required"`
	STTSampleRate  int    `mapstructure:"stt_sample_rate" validate:"required"`
	RTCLanguage    string `mapstructure:"rtc_language" validate:"required"`
	STTModel       string `mapstructure:"stt_model"`
	STTUseEnhanced bool   `mapstructure:"stt_use_enhanced"`
	ICEServersJSON string `mapstructure:"ice_servers_json"`

	QATimeWindowSec  int `mapstructure:"qa_time_window_sec" validate:"required"`
	QASentenceWindow int `mapstructure:"qa_sentence_window" validate:"required"`

	GoogleApplicationCredentials string `mapstructure:"google_application_credentials"`
	DenoiseEnabled               bool   `mapstructure:"denoise_enabled"`

	DBDriver string `mapstructure:"db_driver" validate:"required,oneof=sqlite postgres"`
	DBDSN    string `mapstructure:"db_dsn" validate:"required"`

	AWSRegion         string `mapstructure:"aws_region"`
	AWSS3Bucket       string `mapstructure:"aws_s3_bucket"`
	AWSPresignExpires int    `mapstructure:"aws_presign_expires"`
	UploadRecordings  bool   `mapstructure:"upload_recordings"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "stt-gateway")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")

	v.SetDefault("STORAGE_DIR", "./data/recordings")
	v.SetDefault("ANALYSIS_DIR", "./data/analysis")
	v.SetDefault("LOGS_DIR", "./data/logs")

	v.SetDefault("RTC_SAMPLE_RATE", 48000)
	v.SetDefault("STT_SAMPLE_RATE", 16000)
	v.SetDefault("RTC_LANGUAGE", "ko-KR")
	v.SetDefault("STT_MODEL", "default")
	v.SetDefault("STT_USE_ENHANCED", true)
	v.SetDefault("ICE_SERVERS_JSON", "")

	v.SetDefault("QA_TIME_WINDOW_SEC", 15)
	v.SetDefault("QA_SENTENCE_WINDOW", 3)

	v.SetDefault("GOOGLE_APPLICATION_CREDENTIALS", "")
	v.SetDefault("DENOISE_ENABLED", false)

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "./data/stt-gateway.db")

	v.SetDefault("AWS_REGION", "ap-northeast-2")
	v.SetDefault("AWS_S3_BUCKET", "")
	v.SetDefault("AWS_PRESIGN_EXPIRES", 3600)
	v.SetDefault("UPLOAD_RECORDINGS", false)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	if err := config.EnsureDirectories(); err != nil {
		return nil, err
	}
	return &config, nil
}

// EnsureDirectories creates the storage, analysis and logs directories.
func (c *AppConfig) EnsureDirectories() error {
	for _, dir := range []string{c.StorageDir, c.AnalysisDir, c.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ICEServers resolves the ICE server set for new peer connections. Entries in
// ICE_SERVERS_JSON may be either a plain URL string or an object with urls,
// username and credential; invalid entries are skipped. An empty or
// unparseable override falls back to the Google public STUN server.
func (c *AppConfig) ICEServers() []ICEServer {
	fallback := []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	if c.ICEServersJSON == "" {
		return fallback
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(c.ICEServersJSON), &raw); err != nil {
		log.Printf("Failed to parse ICE_SERVERS_JSON. Falling back to defaults.")
		return fallback
	}

	servers := make([]ICEServer, 0, len(raw))
	for _, entry := range raw {
		var url string
		if err := json.Unmarshal(entry, &url); err == nil {
			servers = append(servers, ICEServer{URLs: []string{url}})
			continue
		}
		var srv struct {
			URLs       json.RawMessage `json:"urls"`
			Username   string          `json:"username"`
			Credential string          `json:"credential"`
		}
		if err := json.Unmarshal(entry, &srv); err != nil || len(srv.URLs) == 0 {
			log.Printf("Ignoring invalid ICE server entry: %s", string(entry))
			continue
		}
		var urls []string
		if err := json.Unmarshal(srv.URLs, &urls); err != nil {
			var single string
			if err := json.Unmarshal(srv.URLs, &single); err != nil {
				log.Printf("Ignoring invalid ICE server entry: %s", string(entry))
				continue
			}
			urls = []string{single}
		}
		servers = append(servers, ICEServer{URLs: urls, Username: srv.Username, Credential: srv.Credential})
	}
	if len(servers) == 0 {
		return fallback
	}
	return servers
}
