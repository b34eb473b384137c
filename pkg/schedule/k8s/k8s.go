// Package k8s is the scheduler backend for kubernetes clusters.
//
// Each job maps to a Deployment named after the job identity. The announce
// unit of other backends maps to a Service: creating it makes the job
// reachable, deleting it withdraws the job from routing. Log collection is
// owned by the kubelet, so no log unit is scheduled.
package k8s

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	kubeapps "k8s.io/api/apps/v1"
	kubescaling "k8s.io/api/autoscaling/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	kube "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/dockyard-paas/dockyard/pkg/domain/jobname"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
	"github.com/dockyard-paas/dockyard/pkg/loop"
	"github.com/dockyard-paas/dockyard/pkg/schedule"
	"github.com/dockyard-paas/dockyard/pkg/utils/pointer"
)

// K8sClient wraps the kubernetes Clientset.
// Because method chain-style invocations of that type do not mock well.
type K8sClient interface {
	CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
	GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error)
	ScaleDeployment(ctx context.Context, namespace string, name string, replicas int32) error
	DeleteDeployment(ctx context.Context, namespace string, name string) error

	CreateService(ctx context.Context, namespace string, svc *kubecore.Service) (*kubecore.Service, error)
	DeleteService(ctx context.Context, namespace string, name string) error

	CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error)
	GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error)
	DeletePod(ctx context.Context, namespace string, name string) error

	Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error)
}

type k8sClient struct {
	client *kube.Clientset
}

var _ K8sClient = &k8sClient{}

func WrapK8sClient(c *kube.Clientset) K8sClient {
	return &k8sClient{client: c}
}

func (k *k8sClient) CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	return k.client.AppsV1().Deployments(namespace).Create(ctx, depl, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) GetDeployment(ctx context.Context, namespace string, name string) (*kubeapps.Deployment, error) {
	return k.client.AppsV1().Deployments(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) ScaleDeployment(ctx context.Context, namespace string, name string, replicas int32) error {
	_, err := k.client.AppsV1().Deployments(namespace).UpdateScale(
		ctx, name,
		&kubescaling.Scale{
			ObjectMeta: kubeapimeta.ObjectMeta{Name: name, Namespace: namespace},
			Spec:       kubescaling.ScaleSpec{Replicas: replicas},
		},
		kubeapimeta.UpdateOptions{},
	)
	return err
}

func (k *k8sClient) DeleteDeployment(ctx context.Context, namespace string, name string) error {
	return k.client.AppsV1().Deployments(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) CreateService(ctx context.Context, namespace string, svc *kubecore.Service) (*kubecore.Service, error) {
	return k.client.CoreV1().Services(namespace).Create(ctx, svc, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) DeleteService(ctx context.Context, namespace string, name string) error {
	return k.client.CoreV1().Services(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error) {
	return k.client.CoreV1().Pods(namespace).Create(ctx, pod, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	return k.client.CoreV1().Pods(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) DeletePod(ctx context.Context, namespace string, name string) error {
	return k.client.CoreV1().Pods(namespace).Delete(ctx, name, *kubeapimeta.NewDeleteOptions(0))
}

func (k *k8sClient) Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error) {
	return k.client.
		CoreV1().
		Pods(namespace).
		GetLogs(podname, &kubecore.PodLogOptions{Container: container}).
		Stream(ctx)
}

// containerPort the platform routes to. Images built by the platform always
// listen here.
const containerPort = 5000

type Backend struct {
	client    K8sClient
	namespace string
	logger    *log.Logger

	// Interval and Attempts bound the readiness wait after Start.
	Interval time.Duration
	Attempts int
}

var _ schedule.Backend = &Backend{}

// New builds a Backend from a base64-encoded kubeconfig.
func New(auth string, namespace string, logger *log.Logger) (*Backend, error) {
	kubeconfig, err := base64.StdEncoding.DecodeString(auth)
	if err != nil {
		return nil, xe.WrapWithNote("cluster auth is not a base64 kubeconfig", err)
	}
	restConfig, err := clientcmd.RESTConfigFromKubeConfig(kubeconfig)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	clientset, err := kube.NewForConfig(restConfig)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if namespace == "" {
		namespace = "default"
	}
	return Build(WrapK8sClient(clientset), namespace, logger), nil
}

// Build wires a Backend over an existing client. For tests.
func Build(client K8sClient, namespace string, logger *log.Logger) *Backend {
	return &Backend{
		client:    client,
		namespace: namespace,
		logger:    logger,
		Interval:  schedule.AnnouncerPollInterval,
		Attempts:  schedule.AnnouncerPollAttempts,
	}
}

// objectName folds a job identity into a DNS-1123 compatible object name.
//
// Job identities carry "_" and ".", which kubernetes object names reject.
// The mapping is injective for identities produced by jobname.Compose, since
// neither "_" nor "." appears anywhere else in them.
func objectName(name string) string {
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

func jobLimits(name string, limits schedule.ResourceLimits) (kubecore.ResourceList, error) {
	parsed, err := jobname.Parse(name)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	rl := kubecore.ResourceList{}
	if mem, ok := limits.Memory[parsed.Type]; ok && mem != "" {
		q, err := resource.ParseQuantity(mem)
		if err != nil {
			return nil, xe.WrapWithNote(fmt.Sprintf("bad memory limit for %s", parsed.Type), err)
		}
		rl[kubecore.ResourceMemory] = q
	}
	if cpu, ok := limits.CPU[parsed.Type]; ok && cpu != "" {
		// cpu limits are docker-style shares out of 1024.
		q, err := resource.ParseQuantity(cpu)
		if err != nil {
			return nil, xe.WrapWithNote(fmt.Sprintf("bad cpu limit for %s", parsed.Type), err)
		}
		milli := q.Value() * 1000 / 1024
		rl[kubecore.ResourceCPU] = *resource.NewMilliQuantity(milli, resource.DecimalSI)
	}
	return rl, nil
}

func (b *Backend) Create(ctx context.Context, name string, image string, command string, limits schedule.ResourceLimits, useAnnouncer bool) error {
	b.logger.Infof("creating %s", name)

	rl, err := jobLimits(name, limits)
	if err != nil {
		return err
	}

	oname := objectName(name)
	labels := map[string]string{"dockyard.io/job": oname}
	var args []string
	if command != "" {
		args = strings.Fields(command)
	}

	depl := &kubeapps.Deployment{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name: oname, Namespace: b.namespace, Labels: labels,
		},
		Spec: kubeapps.DeploymentSpec{
			// created, not started. Start scales up.
			Replicas: pointer.Ref(int32(0)),
			Selector: &kubeapimeta.LabelSelector{MatchLabels: labels},
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels},
				Spec: kubecore.PodSpec{
					Containers: []kubecore.Container{
						{
							Name:  "main",
							Image: image,
							Args:  args,
							Env: []kubecore.EnvVar{
								{Name: "PORT", Value: fmt.Sprintf("%d", containerPort)},
							},
							Ports: []kubecore.ContainerPort{
								{ContainerPort: containerPort},
							},
							Resources: kubecore.ResourceRequirements{Limits: rl},
						},
					},
				},
			},
		},
	}

	if _, err := b.client.CreateDeployment(ctx, b.namespace, depl); err != nil {
		return fmt.Errorf("%w: create %s: %s", schedule.ErrRemoteCommand, name, err)
	}
	_ = useAnnouncer // the Service appears at Start, when the job may take traffic
	return nil
}

func (b *Backend) Start(ctx context.Context, name string, useAnnouncer bool) error {
	b.logger.Infof("starting %s", name)
	oname := objectName(name)

	if err := b.client.ScaleDeployment(ctx, b.namespace, oname, 1); err != nil {
		return fmt.Errorf("%w: start %s: %s", schedule.ErrRemoteCommand, name, err)
	}
	if !useAnnouncer {
		b.logger.Debugf("skipping announcer start for %s", name)
		return nil
	}

	labels := map[string]string{"dockyard.io/job": oname}
	svc := &kubecore.Service{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name: oname, Namespace: b.namespace, Labels: labels,
		},
		Spec: kubecore.ServiceSpec{
			Selector: labels,
			Ports: []kubecore.ServicePort{
				{Port: 80, TargetPort: intstr.FromInt(containerPort)},
			},
		},
	}
	if _, err := b.client.CreateService(ctx, b.namespace, svc); err != nil && !kubeerr.IsAlreadyExists(err) {
		return fmt.Errorf("%w: announce %s: %s", schedule.ErrRemoteCommand, name, err)
	}

	return b.waitForReady(ctx, name, oname)
}

func (b *Backend) waitForReady(ctx context.Context, name string, oname string) error {
	attempt := 0
	_, err := loop.Start(ctx, struct{}{}, func(ctx context.Context, _ struct{}) (struct{}, loop.Next) {
		attempt += 1
		if b.Attempts < attempt {
			return struct{}{}, loop.Break(schedule.NewErrAnnouncerTimeout(name, b.Attempts))
		}
		depl, err := b.client.GetDeployment(ctx, b.namespace, oname)
		if err != nil {
			return struct{}{}, loop.Continue(b.Interval)
		}
		if 1 <= depl.Status.ReadyReplicas {
			return struct{}{}, loop.Break(nil)
		}
		return struct{}{}, loop.Continue(b.Interval)
	})
	return err
}

func (b *Backend) Stop(ctx context.Context, name string, useAnnouncer bool) error {
	b.logger.Infof("stopping %s", name)
	oname := objectName(name)

	// withdraw from routing before the pod goes away
	if useAnnouncer {
		if err := b.client.DeleteService(ctx, b.namespace, oname); err != nil && !kubeerr.IsNotFound(err) {
			return fmt.Errorf("%w: stop %s: %s", schedule.ErrRemoteCommand, name, err)
		}
	} else {
		b.logger.Debugf("skipping announcer stop for %s", name)
	}

	if err := b.client.ScaleDeployment(ctx, b.namespace, oname, 0); err != nil {
		return fmt.Errorf("%w: stop %s: %s", schedule.ErrRemoteCommand, name, err)
	}
	return nil
}

func (b *Backend) Destroy(ctx context.Context, name string, useAnnouncer bool) error {
	b.logger.Infof("destroying %s", name)
	oname := objectName(name)

	if useAnnouncer {
		if err := b.client.DeleteService(ctx, b.namespace, oname); err != nil && !kubeerr.IsNotFound(err) {
			return fmt.Errorf("%w: destroy %s: %s", schedule.ErrRemoteCommand, name, err)
		}
	} else {
		b.logger.Debugf("skipping announcer destroy for %s", name)
	}

	if err := b.client.DeleteDeployment(ctx, b.namespace, oname); err != nil && !kubeerr.IsNotFound(err) {
		return fmt.Errorf("%w: destroy %s: %s", schedule.ErrRemoteCommand, name, err)
	}
	return nil
}

func (b *Backend) Run(ctx context.Context, name string, image string, command string) (int, []byte, error) {
	b.logger.Infof("running %s", name)
	oname := objectName(name)

	pod := &kubecore.Pod{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name: oname, Namespace: b.namespace,
			Labels: map[string]string{"dockyard.io/job": oname},
		},
		Spec: kubecore.PodSpec{
			RestartPolicy: kubecore.RestartPolicyNever,
			Containers: []kubecore.Container{
				{
					Name:    "main",
					Image:   image,
					Command: []string{"/bin/sh", "-c", command},
				},
			},
		},
	}
	if _, err := b.client.CreatePod(ctx, b.namespace, pod); err != nil {
		return 0, nil, fmt.Errorf("%w: run %s: %s", schedule.ErrRemoteCommand, name, err)
	}
	defer func() {
		if err := b.client.DeletePod(context.Background(), b.namespace, oname); err != nil {
			b.logger.Warnf("leaked pod %s: %s", oname, err)
		}
	}()

	exitCode, err := b.waitForExit(ctx, oname)
	if err != nil {
		return 0, nil, err
	}

	logs, err := b.client.Log(ctx, b.namespace, oname, "main")
	if err != nil {
		return 0, nil, fmt.Errorf("%w: run %s: %s", schedule.ErrRemoteCommand, name, err)
	}
	defer logs.Close()
	out := new(bytes.Buffer)
	if _, err := io.Copy(out, logs); err != nil {
		return 0, nil, xe.Wrap(err)
	}

	return exitCode, out.Bytes(), nil
}

func (b *Backend) waitForExit(ctx context.Context, oname string) (int, error) {
	return loop.Start(ctx, 0, func(ctx context.Context, _ int) (int, loop.Next) {
		pod, err := b.client.GetPod(ctx, b.namespace, oname)
		if err != nil {
			return 0, loop.Break(fmt.Errorf("%w: run %s: %s", schedule.ErrRemoteCommand, oname, err))
		}
		for _, status := range pod.Status.ContainerStatuses {
			if term := status.State.Terminated; term != nil {
				return int(term.ExitCode), loop.Break(nil)
			}
		}
		return 0, loop.Continue(b.Interval)
	})
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Attach is not supported. Empty streams.
func (b *Backend) Attach(_ context.Context, name string) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	return nopWriteCloser{io.Discard},
		io.NopCloser(bytes.NewReader(nil)),
		io.NopCloser(bytes.NewReader(nil)),
		nil
}
