package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"todo-api/api"
)

const (
	backendFile   = "file"
	backendSQLite = "sqlite"
	backendTable  = "table"
	backendMemory = "memory"
)

type config struct {
	ListenAddr      string
	Backend         string
	TasksFile       string
	SQLitePath      string
	StorageConnStr  string
	TasksTable      string
	EventsQueue     string
	RedisConn       string
	CacheTTL        time.Duration
	CORSOrigins     []string
	Debug           bool
	LogFormat       string
	ShutdownTimeout time.Duration
}

func newCommand(run func(ctx context.Context, cfg config) error) *cli.Command {
	return &cli.Command{
		Name:  "todo-api",
		Usage: "Serve the personal to-do list over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address to listen on",
				Value:   ":8000",
				Sources: cli.EnvVars("LISTEN_ADDR"),
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Task store: file, sqlite, table or memory",
				Value:   backendFile,
				Sources: cli.EnvVars("STORAGE_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "tasks-file",
				Usage:   "JSON file holding the task list",
				Value:   "tasks.json",
				Sources: cli.EnvVars("TASKS_FILE"),
			},
			&cli.StringFlag{
				Name:    "sqlite-path",
				Usage:   "SQLite database file",
				Value:   "tasks.db",
				Sources: cli.EnvVars("SQLITE_PATH"),
			},
			&cli.StringFlag{
				Name:    "storage-connection-string",
				Usage:   "Azure Storage connection string for the table store and events queue",
				Sources: cli.EnvVars("STORAGE_CONNECTION_STRING"),
			},
			&cli.StringFlag{
				Name:    "tasks-table",
				Usage:   "Azure table holding tasks",
				Value:   "tasks",
				Sources: cli.EnvVars("TASKS_TABLE"),
			},
			&cli.StringFlag{
				Name:    "events-queue",
				Usage:   "Azure queue receiving task change events; empty disables events",
				Sources: cli.EnvVars("TASK_EVENTS_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "redis",
				Usage:   "Redis connection string for the list cache; empty disables caching",
				Sources: cli.EnvVars("REDIS_CONNECTION_STRING"),
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "Lifetime of the cached task list",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("CACHE_TTL"),
			},
			&cli.StringSliceFlag{
				Name:    "cors-origin",
				Usage:   "Origin allowed to call the API with credentials",
				Value:   api.DefaultCORSOrigins,
				Sources: cli.EnvVars("CORS_ORIGINS"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("DEBUG"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format: text or json",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Usage:   "How long to wait for in-flight requests on shutdown",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("SHUTDOWN_TIMEOUT"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
}

func configFromCommand(cmd *cli.Command) (config, error) {
	cfg := config{
		ListenAddr:      cmd.String("listen"),
		Backend:         strings.ToLower(strings.TrimSpace(cmd.String("backend"))),
		TasksFile:       cmd.String("tasks-file"),
		SQLitePath:      cmd.String("sqlite-path"),
		StorageConnStr:  cmd.String("storage-connection-string"),
		TasksTable:      cmd.String("tasks-table"),
		EventsQueue:     cmd.String("events-queue"),
		RedisConn:       cmd.String("redis"),
		CacheTTL:        cmd.Duration("cache-ttl"),
		CORSOrigins:     cmd.StringSlice("cors-origin"),
		Debug:           cmd.Bool("debug"),
		LogFormat:       strings.ToLower(cmd.String("log-format")),
		ShutdownTimeout: cmd.Duration("shutdown-timeout"),
	}
	// Azure Functions custom handlers are told which port to bind through
	// FUNCTIONS_CUSTOMHANDLER_PORT.
	if !cmd.IsSet("listen") {
		if port, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
			cfg.ListenAddr = ":" + port
		}
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	switch c.Backend {
	case backendFile:
		if c.TasksFile == "" {
			errs = append(errs, errors.New("tasks file path must not be empty"))
		}
	case backendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite path must not be empty"))
		}
	case backendTable:
		if c.StorageConnStr == "" || c.TasksTable == "" {
			errs = append(errs, errors.New("table backend needs STORAGE_CONNECTION_STRING and TASKS_TABLE"))
		}
	case backendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Backend))
	}
	if c.EventsQueue != "" && c.StorageConnStr == "" {
		errs = append(errs, errors.New("events queue needs STORAGE_CONNECTION_STRING"))
	}
	if c.RedisConn != "" && c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid CACHE_TTL %s: must be greater than zero", c.CacheTTL))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %s: must be greater than zero", c.ShutdownTimeout))
	}
	return errors.Join(errs...)
}

func newLogger(cfg config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

// parseRedisOptions accepts either a redis:// URL or the Azure Cache style
// "host:port,password=...,ssl=True" connection string.
func parseRedisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
