package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/blockmap/internal/config"
	"github.com/zzenonn/blockmap/internal/logging"
	"github.com/zzenonn/blockmap/internal/placement"
	"github.com/zzenonn/blockmap/internal/repository/db"
	"github.com/zzenonn/blockmap/internal/repository/kv"
	"github.com/zzenonn/blockmap/internal/repository/objectstore"
	"github.com/zzenonn/blockmap/internal/service"
)

const (
	storeBadger   = "badger"
	storeDynamoDB = "dynamodb"

	placementRoundRobin = "round_robin"
	placementHashRing   = "hash_ring"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:          "blockmap",
	Short:        "Object mapping and block allocation engine",
	Long:         "Maps object byte ranges to erasure coded chunks and places their blocks on storage nodes",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.PersistentFlags().String("log_level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store", storeBadger, "Mapping store (badger, dynamodb)")
	rootCmd.PersistentFlags().String("badger_path", "./blockmap-data", "Badger data directory, empty for in-memory")
	rootCmd.PersistentFlags().String("placement", placementRoundRobin, "Placement policy (round_robin, hash_ring)")
	rootCmd.PersistentFlags().String("metrics_textfile", "", "Write engine metrics to this file after each command")
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)
}

// engine is the wired mapping stack of one command invocation.
type engine struct {
	store    service.MappingStore
	registry *placement.NodeRegistry
	mapper   *service.ObjectMapper
	metrics  *prometheus.Registry
	closers  []func() error
}

func openEngine() (*engine, error) {
	e := &engine{metrics: prometheus.NewRegistry()}

	switch cfg.Store {
	case storeDynamoDB:
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig, cfg.DynamoDBTablePrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to the database: %w", err)
		}
		e.store = dynamoDb.MappingRepository()
	case storeBadger:
		badgerDb, err := kv.Open(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		e.store = kv.NewMappingStore(badgerDb)
		e.closers = append(e.closers, badgerDb.Close)
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}

	e.registry = placement.NewNodeRegistry()
	for _, node := range cfg.DomainNodes() {
		if err := e.registry.RegisterNode(node); err != nil {
			e.Close()
			return nil, err
		}
	}

	var allocator placement.BlockAllocator
	switch cfg.Placement {
	case placementRoundRobin:
		allocator = placement.NewRoundRobinAllocator(e.registry)
	case placementHashRing:
		allocator = placement.NewHashRingAllocator(e.registry, cfg.HashRingReplicas)
	default:
		e.Close()
		return nil, fmt.Errorf("unsupported placement policy: %s", cfg.Placement)
	}

	e.mapper = service.NewObjectMapper(e.store, allocator, service.WithMetrics(service.NewMetrics(e.metrics)))
	log.Debugf("Engine ready: store=%s placement=%s nodes=%d", cfg.Store, cfg.Placement, len(cfg.Nodes))
	return e, nil
}

// fileService wires the block data plane of every configured node.
func (e *engine) fileService(quiet bool) (*service.FileService, error) {
	storage := make(map[string]string, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		storage[node.ID] = node.Storage
	}

	stores, err := objectstore.NewObjectRepositoryFactory(cfg.AwsConfig, cfg.GcsClient).NodeStores(storage)
	if err != nil {
		return nil, err
	}
	return service.NewFileService(e.mapper, e.store, service.NewBlockIO(stores, quiet), cfg.ChunkSize), nil
}

// Close releases the store and flushes metrics.
func (e *engine) Close() {
	if cfg.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsTextfile, e.metrics); err != nil {
			log.Errorf("Failed to write metrics: %v", err)
		}
	}
	for _, closeFn := range e.closers {
		if err := closeFn(); err != nil {
			log.Errorf("Failed to close store: %v", err)
		}
	}
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the DynamoDB mapping tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig, cfg.DynamoDBTablePrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to the database: %w", err)
		}

		if err := dynamoDb.MigrateDb(context.Background()); err != nil {
			return fmt.Errorf("failed to migrate the database: %w", err)
		}

		fmt.Println("Database initialized and migrated successfully")
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Drop the DynamoDB mapping tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig, cfg.DynamoDBTablePrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to the database: %w", err)
		}

		if err := dynamoDb.MigrateDown(context.Background()); err != nil {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}

		fmt.Println("Database migrations rolled back successfully")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the mapping tables tagged in this account",
	RunE: func(cmd *cobra.Command, args []string) error {
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig, cfg.DynamoDBTablePrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to the database: %w", err)
		}

		tables, err := dynamoDb.Status(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list tables: %w", err)
		}

		if len(tables) == 0 {
			fmt.Println("No mapping tables found")
			return nil
		}
		for _, arn := range tables {
			fmt.Println(arn)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
