package config

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zzenonn/blockmap/internal/domain"
	"github.com/zzenonn/blockmap/internal/repository/objectstore"
)

const defaultTier = "default"

// NodeConfig describes a storage node. Storage is where the node keeps its
// block bytes, e.g. "s3://bucket/node-1" or "gs://bucket".
type NodeConfig struct {
	ID      string `mapstructure:"id" json:"id"`
	IP      string `mapstructure:"ip" json:"ip"`
	Port    int    `mapstructure:"port" json:"port"`
	Storage string `mapstructure:"storage" json:"storage"`
}

// Config holds the application configuration
type Config struct {
	LogLevel string `yaml:"log_level"`
	// AwsConfig: AWS SDK uses a shared configuration object that contains
	// credentials, region, retry policies, etc. Multiple AWS services
	// (S3, DynamoDB, SSM) are created from this single config.
	AwsConfig aws.Config
	// GcsClient is only created when a node keeps its blocks on GCS.
	GcsClient *storage.Client

	Store               string `yaml:"store"`
	BadgerPath          string `yaml:"badger_path"`
	DynamoDBTablePrefix string `yaml:"dynamodb_table_prefix"`

	System           string `yaml:"system"`
	ChunkSize        int64  `yaml:"chunk_size"`
	KFragBits        uint   `yaml:"kfrag_bits"`
	Placement        string `yaml:"placement"`
	HashRingReplicas int    `yaml:"hash_ring_replicas"`

	// Nodes by id, merged from config.yaml, SSM and etcd in that order.
	Nodes map[string]NodeConfig `yaml:"nodes"`
	// Tiers lists the tiering targets of each bucket.
	Tiers map[string][]string `yaml:"tiers"`

	SSMNodesParameter string   `yaml:"ssm_nodes_parameter"`
	EtcdEndpoints     []string `yaml:"etcd_endpoints"`
	EtcdNodesPrefix   string   `yaml:"etcd_nodes_prefix"`

	// MetricsTextfile, when set, receives the engine counters in the
	// Prometheus text format after every command.
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	awsConfig, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}

	nodes, err := parseNodes()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:            viper.GetString("log_level"),
		AwsConfig:           awsConfig,
		Store:               viper.GetString("store"),
		BadgerPath:          viper.GetString("badger_path"),
		DynamoDBTablePrefix: viper.GetString("dynamodb_table_prefix"),
		System:              viper.GetString("system"),
		ChunkSize:           viper.GetInt64("chunk_size"),
		KFragBits:           viper.GetUint("kfrag_bits"),
		Placement:           viper.GetString("placement"),
		HashRingReplicas:    viper.GetInt("hash_ring_replicas"),
		Nodes:               nodes,
		Tiers:               viper.GetStringMapStringSlice("tiers"),
		SSMNodesParameter:   viper.GetString("ssm_nodes_parameter"),
		EtcdEndpoints:       viper.GetStringSlice("etcd_endpoints"),
		EtcdNodesPrefix:     viper.GetString("etcd_nodes_prefix"),
		MetricsTextfile:     viper.GetString("metrics_textfile"),
	}

	ctx := context.Background()
	if cfg.SSMNodesParameter != "" {
		ssmNodes, err := loadSSMNodes(ctx, ssm.NewFromConfig(awsConfig), cfg.SSMNodesParameter)
		if err != nil {
			return nil, err
		}
		mergeNodes(cfg.Nodes, ssmNodes)
	}
	if len(cfg.EtcdEndpoints) > 0 {
		etcdNodes, err := loadEtcdNodes(ctx, cfg.EtcdEndpoints, cfg.EtcdNodesPrefix)
		if err != nil {
			return nil, err
		}
		mergeNodes(cfg.Nodes, etcdNodes)
	}

	if cfg.usesGCS() {
		gcsClient, err := loadGCSClient()
		if err != nil {
			return nil, err
		}
		cfg.GcsClient = gcsClient
	}

	return cfg, nil
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults()
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("store", "badger")
	viper.SetDefault("badger_path", "./blockmap-data")
	viper.SetDefault("dynamodb_table_prefix", "blockmap_")
	viper.SetDefault("system", "default")
	viper.SetDefault("chunk_size", 4<<20)
	viper.SetDefault("kfrag_bits", 0)
	viper.SetDefault("placement", "round_robin")
	viper.SetDefault("hash_ring_replicas", 100)
	viper.SetDefault("etcd_nodes_prefix", "/blockmap/nodes/")
}

// loadAWSConfig loads AWS SDK configuration
func loadAWSConfig() (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %v", err)
	}
	return cfg, nil
}

// loadGCSClient loads Google Cloud Storage client
func loadGCSClient() (*storage.Client, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("unable to create GCS client: %v", err)
	}
	return client, nil
}

// parseNodes parses the node map from Viper. The map key is the node id.
func parseNodes() (map[string]NodeConfig, error) {
	nodes := make(map[string]NodeConfig)
	if err := viper.UnmarshalKey("nodes", &nodes); err != nil {
		return nil, fmt.Errorf("invalid nodes configuration: %w", err)
	}

	for id, n := range nodes {
		if n.ID == "" {
			n.ID = id
		}
		nodes[id] = n
	}
	return nodes, nil
}

// mergeNodes adds nodes to dst, replacing nodes with the same id.
func mergeNodes(dst map[string]NodeConfig, nodes []NodeConfig) {
	for _, n := range nodes {
		if _, exists := dst[n.ID]; exists {
			log.Debugf("Node %s redefined by external registry", n.ID)
		}
		dst[n.ID] = n
	}
}

func (c *Config) usesGCS() bool {
	for _, n := range c.Nodes {
		if bucket, err := objectstore.ParseBucketConfig(n.Storage); err == nil && bucket.Type == objectstore.GCSType {
			return true
		}
	}
	return false
}

// DomainNodes returns the configured nodes ordered by id.
func (c *Config) DomainNodes() []domain.Node {
	nodes := make([]domain.Node, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		nodes = append(nodes, domain.Node{ID: n.ID, IP: n.IP, Port: n.Port})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Bucket resolves the tiering policy of a bucket. Buckets without tier
// configuration use a single default tier.
func (c *Config) Bucket(name string) domain.Bucket {
	tiers := c.Tiers[strings.ToLower(name)]
	if len(tiers) == 0 {
		tiers = []string{defaultTier}
	}

	bucket := domain.Bucket{Name: name, System: c.System}
	for _, t := range tiers {
		bucket.Tiering = append(bucket.Tiering, domain.Tier{Name: t, KFragBits: c.KFragBits})
	}
	return bucket
}

// SetConfigValue sets a configuration value (used for CLI flags)
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}
