package cfgwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// ConfigMapSource reads the configuration from one key of a ConfigMap.
type ConfigMapSource struct {
	client    kubernetes.Interface
	namespace string
	name      string
	dataKey   string
	retry     time.Duration
	applier
}

// NewConfigMapSource watches the named ConfigMap; dataKey is the key of
// its Data map holding the YAML document (typically "datasrc.yaml").
func NewConfigMapSource(client kubernetes.Interface, namespace, name, dataKey string, apply ApplyFunc) *ConfigMapSource {
	return &ConfigMapSource{
		client:    client,
		namespace: namespace,
		name:      name,
		dataKey:   dataKey,
		retry:     5 * time.Second,
		applier:   applier{apply: apply},
	}
}

// NewK8sClient creates a Kubernetes client using in-cluster configuration.
func NewK8sClient() (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

// Load fetches the ConfigMap once and applies it.
func (s *ConfigMapSource) Load(ctx context.Context) error {
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get configmap: %w", err)
	}
	return s.applyConfigMap(cm)
}

// Watch applies every added or modified version of the ConfigMap. Watch
// sessions that fail are retried. It blocks until ctx is cancelled.
func (s *ConfigMapSource) Watch(ctx context.Context) error {
	for {
		if err := s.watchOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("configmap watch error, retrying", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retry):
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *ConfigMapSource) watchOnce(ctx context.Context) error {
	watcher, err := s.client.CoreV1().ConfigMaps(s.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", s.name),
	})
	if err != nil {
		return fmt.Errorf("watch configmap: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return nil
			}
			if event.Type != watch.Added && event.Type != watch.Modified {
				continue
			}
			cm, ok := event.Object.(*corev1.ConfigMap)
			if !ok {
				continue
			}
			if err := s.applyConfigMap(cm); err != nil {
				slog.Error("apply configmap", "namespace", s.namespace, "name", s.name, "err", err)
			}
		}
	}
}

func (s *ConfigMapSource) applyConfigMap(cm *corev1.ConfigMap) error {
	raw, ok := cm.Data[s.dataKey]
	if !ok {
		return fmt.Errorf("key %q not found in configmap %s/%s", s.dataKey, cm.Namespace, cm.Name)
	}
	changed, err := s.applyRaw([]byte(raw))
	if err != nil {
		return err
	}
	if changed {
		slog.Info("datasrc config applied from configmap",
			"namespace", cm.Namespace,
			"name", cm.Name,
			"resource_version", cm.ResourceVersion,
		)
	}
	return nil
}
