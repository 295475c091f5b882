package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Model load policies for the video pipeline.
const (
	ModelPolicyReload = "reload" // load the checkpoint for every video
	ModelPolicyCache  = "cache"  // load once and reuse
)

type Config struct {
	Port             int
	CredentialsPath  string
	Preauthorization bool
	ModelPath        string
	ModelPolicy      string
	InferenceSize    int
	Confidence       float64
	NMSThreshold     float64
	NMSAgnostic      bool
	WindowSize       int
	OutputDirectory  string
	OutputVideo      string
	OutputFPS        float64
	OutputCodec      string
	GrayImagePath    string
	TempDirectory    string
	DatabasePath     string
	LogDirectory     string
	LogLevel         string
	MaxUploadMB      int64
	StaticDirectory  string
}

// Load reads configuration from the environment, after merging an optional .env file.
func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	return &Config{
		Port:             getEnvAsInt("PORT", 8501),
		CredentialsPath:  getEnv("CREDENTIALS_PATH", "config.yaml"),
		Preauthorization: getEnvAsBool("PREAUTHORIZATION", false),
		ModelPath:        getEnv("MODEL_PATH", filepath.Join("model", "best.onnx")),
		ModelPolicy:      getEnv("MODEL_POLICY", ModelPolicyReload),
		InferenceSize:    getEnvAsInt("INFERENCE_SIZE", 640),
		Confidence:       getEnvAsFloat("CONFIDENCE", 0.25),
		NMSThreshold:     getEnvAsFloat("NMS_THRESHOLD", 0.45),
		NMSAgnostic:      getEnvAsBool("NMS_AGNOSTIC", false),
		WindowSize:       getEnvAsInt("WINDOW_SIZE", 20),
		OutputDirectory:  getEnv("OUTPUT_DIR", "."),
		OutputVideo:      getEnv("OUTPUT_VIDEO", "road_damage_assessment.avi"),
		OutputFPS:        getEnvAsFloat("OUTPUT_FPS", 20),
		OutputCodec:      getEnv("OUTPUT_CODEC", "XVID"),
		GrayImagePath:    getEnv("GRAY_IMAGE_PATH", "grayImg.jpg"),
		TempDirectory:    getEnv("TEMP_DIR", os.TempDir()),
		DatabasePath:     getEnv("DB_PATH", filepath.Join("data", "assessments.db")),
		LogDirectory:     getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MaxUploadMB:      getEnvAsInt64("MAX_UPLOAD_MB", 512),
		StaticDirectory:  getEnv("STATIC_DIR", "static"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
