package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/virtual-kubelet/virtual-kubelet/node"
	"github.com/virtual-kubelet/virtual-kubelet/node/nodeutil"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/raycarroll/edgefleet/pkg/logger"
	"github.com/raycarroll/edgefleet/pkg/provider"
)

// kubeConfig uses $KUBECONFIG when set and the in-cluster config otherwise.
func kubeConfig() (*rest.Config, error) {
	if path := os.Getenv("KUBECONFIG"); path != "" {
		return clientcmd.BuildConfigFromFlags("", path)
	}
	return rest.InClusterConfig()
}

func newVirtualNode(ctx context.Context, name string, fleet provider.Fleet) (*nodeutil.Node, error) {
	log := logger.WithPrefix("[vk] ")

	p, err := provider.NewProvider(provider.Config{NodeName: name, Version: version}, fleet)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	restCfg, err := kubeConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	k8sClient, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}

	nodeSpec, err := p.GetNode(ctx)
	if err != nil {
		return nil, fmt.Errorf("building node spec: %w", err)
	}
	if b, err := json.MarshalIndent(nodeSpec, "", "  "); err == nil {
		log.Debug("Node definition:\n%s", b)
	}

	nodeRunner, err := nodeutil.NewNode(
		name,
		func(nodeutil.ProviderConfig) (nodeutil.Provider, node.NodeProvider, error) {
			return p, p, nil
		},
		nodeutil.WithClient(k8sClient),
		func(nodeCfg *nodeutil.NodeConfig) error {
			nodeCfg.NodeSpec = *nodeSpec
			nodeCfg.NumWorkers = 10
			nodeCfg.InformerResyncPeriod = 30 * time.Second
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating node: %w", err)
	}

	log.Info("Virtual node %q created with capacity: CPU=%s, Memory=%s",
		nodeSpec.Name,
		nodeSpec.Status.Capacity.Cpu().String(),
		nodeSpec.Status.Capacity.Memory().String())
	return nodeRunner, nil
}
