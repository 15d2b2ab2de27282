package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nulpointcorp/powerproxy/internal/config"
	"github.com/nulpointcorp/powerproxy/internal/kvstore"
	"github.com/nulpointcorp/powerproxy/internal/pluginbus"
	"github.com/nulpointcorp/powerproxy/internal/plugins/allowdeployments"
	"github.com/nulpointcorp/powerproxy/internal/plugins/limitusage"
	"github.com/nulpointcorp/powerproxy/internal/plugins/logusage"
)

// buildPlugins instantiates the configured plugin chain in declared order.
// Returned closers must be closed on shutdown, in addition to each plugin's
// own lifecycle (plugins do not currently need explicit closing, only their
// sinks do).
func buildPlugins(ctx context.Context, view *config.View, log *slog.Logger) ([]pluginbus.Plugin, []io.Closer, error) {
	var plugins []pluginbus.Plugin
	var closers []io.Closer

	for _, pc := range view.Plugins() {
		switch pc.Name {
		case "AllowDeployments":
			plugins = append(plugins, allowdeployments.New(view))

		case "LimitUsage":
			store, closer, err := buildLimitUsageStore(ctx, pc.Settings)
			if err != nil {
				return nil, nil, fmt.Errorf("LimitUsage: %w", err)
			}
			if closer != nil {
				closers = append(closers, closer)
			}
			plugins = append(plugins, limitusage.New(view, store))

		case "LogUsage":
			sinks, sinkClosers, err := buildLogUsageSinks(ctx, pc.Settings, log)
			if err != nil {
				return nil, nil, fmt.Errorf("LogUsage: %w", err)
			}
			closers = append(closers, sinkClosers...)
			plugins = append(plugins, logusage.New(sinks...))

		default:
			return nil, nil, fmt.Errorf("unknown plugin %q", pc.Name)
		}
	}

	return plugins, closers, nil
}

// buildLimitUsageStore builds the optional external KVStore for LimitUsage.
// Absent a redis_url setting, buckets are kept in-process (nil store).
func buildLimitUsageStore(ctx context.Context, settings map[string]any) (kvstore.KVStore, io.Closer, error) {
	redisURL, _ := settings["redis_url"].(string)
	if redisURL == "" {
		return nil, nil, nil
	}
	store, err := kvstore.NewRedisFromURL(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return store, store, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func buildLogUsageSinks(ctx context.Context, settings map[string]any, log *slog.Logger) ([]logusage.Sink, []io.Closer, error) {
	names, _ := settings["sinks"].([]any)
	if len(names) == 0 {
		names = []any{"console"}
	}

	var sinks []logusage.Sink
	var closers []io.Closer

	for _, n := range names {
		name, _ := n.(string)
		switch name {
		case "console":
			s := logusage.NewConsoleSink(log)
			sinks = append(sinks, s)
			closers = append(closers, s)

		case "csv":
			path, _ := settings["csv_path"].(string)
			if path == "" {
				path = "usage.csv"
			}
			s, err := logusage.NewCSVSink(path)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, s)
			closers = append(closers, s)

		case "clickhouse":
			addr, _ := settings["clickhouse_addr"].(string)
			if addr == "" {
				return nil, nil, fmt.Errorf("clickhouse sink requires clickhouse_addr")
			}
			database, _ := settings["clickhouse_database"].(string)
			username, _ := settings["clickhouse_username"].(string)
			password, _ := settings["clickhouse_password"].(string)
			table, _ := settings["clickhouse_table"].(string)

			s, err := logusage.NewClickHouseSink(ctx, addr, database, username, password, table)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, s)
			closers = append(closers, s)

		default:
			return nil, nil, fmt.Errorf("unknown LogUsage sink %q", name)
		}
	}

	return sinks, closers, nil
}
