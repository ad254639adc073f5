/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config reads process configuration from environment
// variables. Every knob has a working default except the database URL.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Provider backend names accepted in PROVIDER.
const (
	ProviderKubernetes = "kubernetes"
	ProviderDocker     = "docker"
)

type HTTP struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Deploy struct {
	Provider           string
	Namespace          string
	BaseDomain         string
	TLSSecret          string
	MaxSubdomainLength int
}

type Config struct {
	HTTP        HTTP
	DatabaseURL string
	Redis       Redis
	Deploy      Deploy
	JWTSecret   string
}

func FromEnv() (Config, error) {
	http := HTTP{
		Host:            getEnv("HTTP_HOST", "0.0.0.0"),
		Port:            getInt("HTTP_PORT", 8080),
		ReadTimeout:     getDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	redis := Redis{
		Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getInt("REDIS_DB", 0),
	}

	deploy := Deploy{
		Provider:           getEnv("PROVIDER", ProviderKubernetes),
		Namespace:          getEnv("NAMESPACE", "challenges"),
		BaseDomain:         getEnv("BASE_DOMAIN", "tasks.cfrt.dev"),
		TLSSecret:          getEnv("TLS_SECRET", "wildcard-cert"),
		MaxSubdomainLength: getInt("MAX_SUBDOMAIN_LENGTH", 63),
	}

	if http.Port <= 0 || http.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port: %d", http.Port)
	}

	if deploy.Provider != ProviderKubernetes && deploy.Provider != ProviderDocker {
		return Config{}, fmt.Errorf("unknown provider: %q", deploy.Provider)
	}

	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return Config{
		HTTP:        http,
		DatabaseURL: databaseURL,
		Redis:       redis,
		Deploy:      deploy,
		JWTSecret:   getEnv("JWT_SECRET", ""),
	}, nil
}

// Addr is the listen address of the HTTP server.
func (h HTTP) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
