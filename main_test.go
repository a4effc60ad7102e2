package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"

	"todo-api/api"
	"todo-api/storage"
)

func parseArgs(t *testing.T, args ...string) (config, error) {
	t.Helper()
	var got config
	cmd := newCommand(func(_ context.Context, cfg config) error {
		got = cfg
		return nil
	})
	err := cmd.Run(context.Background(), append([]string{"todo-api"}, args...))
	return got, err
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := parseArgs(t)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ListenAddr != ":8000" || cfg.Backend != backendFile || cfg.TasksFile != "tasks.json" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CacheTTL != 5*time.Minute || cfg.ShutdownTimeout != 10*time.Second || cfg.LogFormat != "text" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, api.DefaultCORSOrigins) {
		t.Fatalf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/data/todo.db")
	t.Setenv("DEBUG", "true")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")

	cfg, err := parseArgs(t)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backend != backendSQLite || cfg.SQLitePath != "/data/todo.db" || !cfg.Debug || cfg.LogFormat != "json" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ListenAddr != ":7071" {
		t.Fatalf("expected functions port to be used, got %s", cfg.ListenAddr)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
}

func TestConfigFlagOverridesFunctionsPort(t *testing.T) {
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")
	cfg, err := parseArgs(t, "--listen", "127.0.0.1:9000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
}

func TestConfigRejectsInvalidCombinations(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown backend", args: []string{"--backend", "postgres"}, want: "unknown storage backend"},
		{name: "table without connection", args: []string{"--backend", "table"}, want: "STORAGE_CONNECTION_STRING"},
		{name: "events without connection", args: []string{"--events-queue", "task-events"}, want: "events queue"},
		{name: "bad log format", args: []string{"--log-format", "xml"}, want: "unknown log format"},
		{name: "zero shutdown", args: []string{"--shutdown-timeout", "0s"}, want: "SHUTDOWN_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseRedisOptions(t *testing.T) {
	opts, err := parseRedisOptions("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts, err = parseRedisOptions("todo.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse azure style: %v", err)
	}
	if opts.Addr != "todo.redis.cache.windows.net:6380" || opts.Password != "abc=" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}

	if _, err := parseRedisOptions("password=abc"); err == nil {
		t.Fatalf("expected error for connection string without address")
	}
}

func TestOpenStoreLayersCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	logger, _ := test.NewNullLogger()
	cfg := config{Backend: backendMemory, RedisConn: mr.Addr(), CacheTTL: time.Minute}
	store, closeStore, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()

	if _, ok := store.(*storage.Cache); !ok {
		t.Fatalf("expected cache wrapper, got %T", store)
	}
	if _, err := store.ListTasks(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("expected list to be cached in redis")
	}
}

func TestOpenStoreBackends(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()

	tests := []struct {
		cfg  config
		want string
	}{
		{cfg: config{Backend: backendFile, TasksFile: filepath.Join(dir, "tasks.json")}, want: "*storage.FileStore"},
		{cfg: config{Backend: backendSQLite, SQLitePath: filepath.Join(dir, "tasks.db")}, want: "*storage.SQLiteStore"},
		{cfg: config{Backend: backendMemory}, want: "*storage.MemoryStore"},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Backend, func(t *testing.T) {
			store, closeStore, err := openStore(context.Background(), tt.cfg, logger)
			if err != nil {
				t.Fatalf("open store: %v", err)
			}
			defer closeStore()
			if got := reflect.TypeOf(store).String(); got != tt.want {
				t.Fatalf("store type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestServerEndToEnd(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := config{CORSOrigins: api.DefaultCORSOrigins}
	e := newServer(storage.NewFileStore(filepath.Join(t.TempDir(), "tasks.json"), logger), cfg, logger)

	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tasks", "application/json", strings.NewReader(`{"title":"Buy milk"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/tasks", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://127.0.0.1:5173" {
		t.Fatalf("expected CORS header, got %v", resp.Header)
	}
}
