package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// SSMGetParameterAPI is the subset of the SSM client used to load nodes.
type SSMGetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// loadSSMNodes reads a JSON list of nodes from a Parameter Store parameter.
func loadSSMNodes(ctx context.Context, client SSMGetParameterAPI, name string) ([]NodeConfig, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes parameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return nil, fmt.Errorf("nodes parameter %s has no value", name)
	}

	var nodes []NodeConfig
	if err := json.Unmarshal([]byte(aws.ToString(out.Parameter.Value)), &nodes); err != nil {
		return nil, fmt.Errorf("invalid nodes parameter %s: %w", name, err)
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("nodes parameter %s: node without id", name)
		}
	}

	log.Infof("Loaded %d nodes from SSM parameter %s", len(nodes), name)
	return nodes, nil
}

// etcdGetter is the read side of clientv3.KV.
type etcdGetter interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// loadEtcdNodes reads one JSON node per key under prefix.
func loadEtcdNodes(ctx context.Context, endpoints []string, prefix string) ([]NodeConfig, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return readEtcdNodes(ctx, cli, prefix)
}

func readEtcdNodes(ctx context.Context, kv etcdGetter, prefix string) ([]NodeConfig, error) {
	resp, err := kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes under %s: %w", prefix, err)
	}

	nodes := make([]NodeConfig, 0, len(resp.Kvs))
	for _, entry := range resp.Kvs {
		var n NodeConfig
		if err := json.Unmarshal(entry.Value, &n); err != nil {
			return nil, fmt.Errorf("invalid node at %s: %w", entry.Key, err)
		}
		if n.ID == "" {
			n.ID = strings.TrimPrefix(string(entry.Key), prefix)
		}
		nodes = append(nodes, n)
	}

	log.Infof("Loaded %d nodes from etcd prefix %s", len(nodes), prefix)
	return nodes, nil
}
