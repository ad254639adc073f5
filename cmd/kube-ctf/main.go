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

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/cfrt-dev/kube-ctf/internal/auth"
	"github.com/cfrt-dev/kube-ctf/internal/config"
	"github.com/cfrt-dev/kube-ctf/internal/lifecycle"
	"github.com/cfrt-dev/kube-ctf/internal/store"
	"github.com/cfrt-dev/kube-ctf/pkg/api"
	"github.com/cfrt-dev/kube-ctf/pkg/provider"
	"github.com/cfrt-dev/kube-ctf/pkg/provider/docker"
	"github.com/cfrt-dev/kube-ctf/pkg/provider/kubernetes"

	_ "github.com/cfrt-dev/kube-ctf/docs" // Import generated docs
)

// @title KubeCTF API
// @version 1.0
// @description Challenge instance orchestrator for CTF events

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @BasePath /api
// @schemes http https

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	idx := store.NewIndex(rdb)

	prov, err := newProvider(cfg.Deploy)
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}

	lc := lifecycle.New(pg, idx, prov, cfg.Deploy.BaseDomain)
	authSvc := auth.New(cfg.JWTSecret)
	handler := api.NewHandler(lc, pg, authSvc, api.Config{
		BaseDomain:         cfg.Deploy.BaseDomain,
		MaxSubdomainLength: cfg.Deploy.MaxSubdomainLength,
	})

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", handler.Health)
	r.Get("/healthz", handler.Health)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api", func(r chi.Router) {
		r.Get("/challenges", handler.ListChallenges)
		r.Get("/challenges/{id}", handler.GetChallenge)
		r.Post("/challenges/submit", handler.SubmitFlag)
		r.Post("/challenges/{id}", handler.DeployChallenge)
		r.Delete("/challenges/{id}", handler.DeleteChallenge)

		r.Post("/accounts/register", handler.Register)
		r.Post("/accounts/login", handler.Login)

		r.Post("/admin/challenges/new", handler.CreateChallenge)
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	log.Printf("Server starting on %s with %s provider", cfg.HTTP.Addr(), cfg.Deploy.Provider)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
}

// newProvider selects the provisioning backend once at startup.
func newProvider(cfg config.Deploy) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderDocker:
		return docker.New()
	default:
		k8sClient, err := client.New(ctrl.GetConfigOrDie(), client.Options{Scheme: scheme})
		if err != nil {
			return nil, err
		}
		return kubernetes.New(k8sClient, kubernetes.Options{
			Namespace:  cfg.Namespace,
			BaseDomain: cfg.BaseDomain,
			TLSSecret:  cfg.TLSSecret,
		}), nil
	}
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
