package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/linesmerrill/alarm-trigger-api/api"
	"github.com/linesmerrill/alarm-trigger-api/api/channeltoken"
	"github.com/linesmerrill/alarm-trigger-api/api/push"
	"github.com/linesmerrill/alarm-trigger-api/api/scheduler"
	"github.com/linesmerrill/alarm-trigger-api/config"
	"github.com/linesmerrill/alarm-trigger-api/databases"
	"github.com/linesmerrill/alarm-trigger-api/models"
)

// App stores the router, the trigger stores and the long-lived components, so they can
// be reused and shut down together
type App struct {
	Router    *mux.Router
	Config    config.Config
	Hub       *push.Hub
	Scheduler *scheduler.Scheduler
	Metrics   *api.MetricsCollector

	alarms     databases.ScheduleDatabase
	reminders  databases.ScheduleDatabase
	users      databases.UserDatabase
	auth       *api.Auth
	issuer     *channeltoken.Issuer
	closeStore func(ctx context.Context) error
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	r := mux.NewRouter()
	r.Use(api.MetricsMiddleware(a.Metrics))
	r.Use(api.TimeoutMiddleware(a.Config.RequestTimeout))

	c := Channel{
		Issuer:        a.issuer,
		Hub:           a.Hub,
		DebounceQuiet: a.Config.DebounceQuiet,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(a.Config.BaseURL),
		},
	}
	alarm := Schedule{DB: a.alarms}
	reminder := Schedule{DB: a.reminders}
	m := MetricsHandler{Metrics: a.Metrics}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/auth/token", a.auth.Middleware(http.HandlerFunc(a.auth.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", a.auth.Middleware(http.HandlerFunc(a.auth.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/channel/token", a.auth.Middleware(http.HandlerFunc(c.TokenHandler))).Methods("POST")
	apiCreate.Handle("/channel", http.HandlerFunc(c.ConnectHandler)).Methods("GET")

	apiCreate.Handle("/alarms/{id}", a.auth.Middleware(http.HandlerFunc(alarm.TriggerStateHandler))).Methods("GET")
	apiCreate.Handle("/reminders/{id}", a.auth.Middleware(http.HandlerFunc(reminder.TriggerStateHandler))).Methods("GET")

	apiCreate.Handle("/metrics", http.HandlerFunc(m.GetMetricsDashboard)).Methods("GET")

	return r
}

// Initialize is invoked by main to connect with the trigger store and build the hub,
// scheduler and router
func (a *App) Initialize(ctx context.Context) error {
	if a.Config.ChannelTokenSecret == "" {
		return fmt.Errorf("channel token secret is not set")
	}

	switch a.Config.DBDriver {
	case "sqlite":
		store, err := databases.OpenSQLite(ctx, a.Config.SQLitePath)
		if err != nil {
			zap.S().With("error", err).Error("failed to open sqlite database")
			return err
		}
		a.closeStore = func(context.Context) error { return store.Close() }
		a.wire(store.Alarms(), store.Reminders(), store.Users())
		zap.S().Infow("alarm-trigger-api has opened the database", "driver", "sqlite", "path", a.Config.SQLitePath)
	default:
		client, err := databases.NewClient(&a.Config)
		if err != nil {
			// if we fail to create a new database client, then kill the pod
			zap.S().With("error", err).Error("failed to create new client")
			return err
		}
		if err := client.Connect(ctx); err != nil {
			// if we fail to connect to the database, then kill the pod
			zap.S().With("error", err).Error("failed to connect to database")
			return err
		}
		a.closeStore = client.Disconnect
		db := databases.NewDatabase(&a.Config, client)
		a.wire(databases.NewAlarmDatabase(db), databases.NewReminderDatabase(db), databases.NewUserDatabase(db))
		zap.S().Info("alarm-trigger-api has connected to the database")
	}
	return nil
}

// wire builds every component on top of the given stores
func (a *App) wire(alarms, reminders databases.ScheduleDatabase, users databases.UserDatabase) {
	a.alarms, a.reminders, a.users = alarms, reminders, users

	if a.Metrics == nil {
		a.Metrics = api.GetMetrics()
	}
	secret := []byte(a.Config.ChannelTokenSecret)
	a.issuer = channeltoken.NewIssuer(secret, a.Config.ChannelTokenTTL,
		channeltoken.WithRateLimit(a.Config.ChannelTokenRate, a.Config.ChannelTokenBurst),
	)
	a.Hub = push.NewHub(channeltoken.NewValidator(secret))
	a.Scheduler = scheduler.New([]databases.ScheduleDatabase{alarms, reminders}, a.Hub,
		scheduler.WithInterval(a.Config.ScanInterval),
		scheduler.WithBatchSize(a.Config.ScanBatchSize),
		scheduler.WithConcurrency(a.Config.ScanConcurrency),
		scheduler.WithLocation(a.Config.Location),
		scheduler.WithMetrics(a.Metrics),
	)
	a.auth = api.NewAuth(context.Background(), users, api.DefaultSessionTTL)
	a.Router = a.New()
}

// Shutdown stops the scheduler, closes every push channel and releases the store
func (a *App) Shutdown(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Hub != nil {
		a.Hub.Shutdown()
	}
	if a.closeStore != nil {
		if err := a.closeStore(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}

func checkOrigin(baseURL string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return baseURL == "" || origin == "" || origin == baseURL
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
