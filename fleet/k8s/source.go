package k8s

import (
	"context"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/IvanSScrobot/ardent-ms-call-retell/fleet"
)

// Compile-time check that Source implements fleet.Source.
var _ fleet.Source = (*Source)(nil)

const defaultLabelSelector = "app.kubernetes.io/component=call-retell-worker"

// Source lists worker pods as fleet members.
type Source struct {
	client        kubernetes.Interface
	namespace     string
	labelSelector string
	logger        *slog.Logger
}

// New creates a Kubernetes membership source. The clientset and namespace
// are required; use options to customise the label selector or logger.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Source {
	s := &Source{
		client:        client,
		namespace:     namespace,
		labelSelector: defaultLabelSelector,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListMembers returns one member per matching pod. Identity is the pod
// name, which is also what each worker reports as its own identity, so
// index computation lines up across the fleet.
func (s *Source) ListMembers(ctx context.Context) ([]fleet.Member, error) {
	pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: list worker pods: %w", err)
	}

	members := make([]fleet.Member, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		members = append(members, fleet.Member{
			Identity: pod.Name,
			Healthy:  podHealthy(pod),
		})
	}
	return members, nil
}

// podHealthy reports whether a pod counts as a live fleet member: Running,
// Ready, and not being deleted. Terminating pods drop out immediately so
// the remaining fleet re-partitions without waiting for the API server to
// remove the object.
func podHealthy(pod *corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
