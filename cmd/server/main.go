package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/roomcluster/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	nodeID = configVar[string]{
		envKey:       "SERVER_NODE_ID",
		flagKey:      "node-id",
		defaultValue: "",
	}
	clusterPeers = configVar[string]{
		envKey:       "SERVER_CLUSTER_PEERS",
		flagKey:      "cluster-peers",
		defaultValue: "",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
)

func loadAppConfig() *app.AppConfig {
	// todo: move to pkg
	pflag.String(nodeID.flagKey, nodeID.defaultValue, "This node's unique id")
	pflag.String(clusterPeers.flagKey, clusterPeers.defaultValue, "Comma-separated nodeId:host:clientPort:rpcPort peer list")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(nodeID.flagKey, nodeID.envKey)
	viper.BindEnv(clusterPeers.flagKey, clusterPeers.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)

	viper.SetDefault(nodeID.flagKey, nodeID.defaultValue)
	viper.SetDefault(clusterPeers.flagKey, clusterPeers.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)

	config := &app.AppConfig{
		NodeID:       viper.GetString(nodeID.flagKey),
		ClusterPeers: viper.GetString(clusterPeers.flagKey),
		LogLevel:     viper.GetString(logLevel.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
