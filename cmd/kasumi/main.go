package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kasumi-bot/kasumi/common/version"
	"github.com/kasumi-bot/kasumi/internal/kasumi/app"
	"github.com/kasumi-bot/kasumi/internal/kasumi/auth"
	"github.com/kasumi-bot/kasumi/internal/kasumi/matrix"
	"github.com/kasumi-bot/kasumi/internal/kasumi/qna"
	"github.com/kasumi-bot/kasumi/internal/kasumi/recognizer"
)

func main() {
	fmt.Printf("Kasumi SmartThings Assistant\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if config.Matrix.Homeserver == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_HOMESERVER is required\n")
		os.Exit(1)
	}
	if config.Matrix.UserID == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_USER_ID is required\n")
		os.Exit(1)
	}
	if config.Matrix.AccessToken == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_ACCESS_TOKEN is required\n")
		os.Exit(1)
	}

	kasumi, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Kasumi: %v\n", err)
		os.Exit(1)
	}
	defer kasumi.Stop()

	if err := kasumi.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Kasumi: %v\n", err)
		os.Exit(1)
	}
}

// fileConfig is the optional YAML configuration file pointed at by
// KASUMI_CONFIG. Environment variables override anything set here.
type fileConfig struct {
	DatabasePath string `yaml:"database_path"`
	HTTPAddr     string `yaml:"http_addr"`
	PublicURL    string `yaml:"public_url"`
	Connection   string `yaml:"connection"`

	Matrix struct {
		Homeserver  string   `yaml:"homeserver"`
		UserID      string   `yaml:"user_id"`
		AccessToken string   `yaml:"access_token"`
		Rooms       []string `yaml:"rooms"`
	} `yaml:"matrix"`

	Recognizer struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"recognizer"`

	QnA struct {
		Host            string `yaml:"host"`
		KnowledgeBaseID string `yaml:"knowledge_base_id"`
		EndpointKey     string `yaml:"endpoint_key"`
	} `yaml:"qna"`

	SmartThings struct {
		BaseURL      string   `yaml:"base_url"`
		AuthorizeURL string   `yaml:"authorize_url"`
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"smartthings"`
}

// loadConfig builds the application configuration from an optional YAML file
// plus environment variables, env taking precedence.
func loadConfig() (*app.Config, error) {
	var fc fileConfig
	if path := os.Getenv("KASUMI_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	connection := getEnv("KASUMI_CONNECTION", orDefault(fc.Connection, "smartthings"))

	scopes := fc.SmartThings.Scopes
	if raw := os.Getenv("SMARTTHINGS_SCOPES"); raw != "" {
		scopes = splitList(raw)
	}
	if len(scopes) == 0 {
		scopes = []string{"r:devices:*", "r:locations:*"}
	}

	rooms := fc.Matrix.Rooms
	if raw := os.Getenv("MATRIX_ROOMS"); raw != "" {
		rooms = splitList(raw)
	}

	return &app.Config{
		DatabasePath: getEnv("DATABASE_PATH", orDefault(fc.DatabasePath, "./kasumi.db")),
		HTTPAddr:     getEnv("HTTP_ADDR", orDefault(fc.HTTPAddr, ":8080")),
		Connection:   connection,
		Matrix: matrix.Config{
			Homeserver:  getEnv("MATRIX_HOMESERVER", fc.Matrix.Homeserver),
			UserID:      getEnv("MATRIX_USER_ID", fc.Matrix.UserID),
			AccessToken: getEnv("MATRIX_ACCESS_TOKEN", fc.Matrix.AccessToken),
			Rooms:       rooms,
		},
		Recognizer: recognizer.Config{
			APIKey:  getEnv("KASUMI_NLP_API_KEY", fc.Recognizer.APIKey),
			BaseURL: getEnv("KASUMI_NLP_ENDPOINT", fc.Recognizer.BaseURL),
			Model:   getEnv("KASUMI_NLP_MODEL", fc.Recognizer.Model),
		},
		QnA: qna.Config{
			Host:            getEnv("QNA_HOST", fc.QnA.Host),
			KnowledgeBaseID: getEnv("QNA_KB_ID", fc.QnA.KnowledgeBaseID),
			EndpointKey:     getEnv("QNA_ENDPOINT_KEY", fc.QnA.EndpointKey),
		},
		Auth: auth.Config{
			BaseURL: getEnv("KASUMI_PUBLIC_URL", fc.PublicURL),
			Connections: map[string]auth.Connection{
				connection: {
					AuthorizeURL: getEnv("SMARTTHINGS_AUTHORIZE_URL",
						orDefault(fc.SmartThings.AuthorizeURL, "https://api.smartthings.com/oauth/authorize")),
					TokenURL: getEnv("SMARTTHINGS_TOKEN_URL",
						orDefault(fc.SmartThings.TokenURL, "https://auth-global.api.smartthings.com/oauth/token")),
					ClientID:     getEnv("SMARTTHINGS_CLIENT_ID", fc.SmartThings.ClientID),
					ClientSecret: getEnv("SMARTTHINGS_CLIENT_SECRET", fc.SmartThings.ClientSecret),
					Scopes:       scopes,
				},
			},
		},
		SmartThingsBaseURL: getEnv("SMARTTHINGS_BASE_URL", fc.SmartThings.BaseURL),
	}, nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// splitList splits a comma-separated environment value.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
