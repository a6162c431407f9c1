package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply burrow resources from a YAML file. A file may hold multiple
documents separated by ---.

Examples:
  # Apply a service definition
  burrow apply -f service.yaml

  # Apply services and alert rules together
  burrow apply -f stack.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// resource is the generic YAML document envelope
type resource struct {
	Kind     string    `yaml:"kind"`
	Metadata metadata  `yaml:"metadata"`
	Spec     yaml.Node `yaml:"spec"`
}

type metadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// serviceSpec is the YAML shape of a Service document
type serviceSpec struct {
	Image       string            `yaml:"image"`
	Replicas    int               `yaml:"replicas"`
	Env         []string          `yaml:"env,omitempty"`
	Constraints *constraintsSpec  `yaml:"constraints,omitempty"`
	Update      *updateSpec       `yaml:"update,omitempty"`
	Ports       []portSpec        `yaml:"ports,omitempty"`
	HealthCheck *healthCheckSpec  `yaml:"healthCheck,omitempty"`
	Metrics     *metricsSpec      `yaml:"metrics,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

type constraintsSpec struct {
	Role               string            `yaml:"role,omitempty"`
	NodeLabels         map[string]string `yaml:"nodeLabels,omitempty"`
	MaxReplicasPerNode int               `yaml:"maxReplicasPerNode,omitempty"`
}

type updateSpec struct {
	MaxUnavailable int           `yaml:"maxUnavailable,omitempty"`
	Delay          time.Duration `yaml:"delay,omitempty"`
}

type portSpec struct {
	Name          string `yaml:"name,omitempty"`
	ContainerPort int    `yaml:"containerPort"`
	HostPort      int    `yaml:"hostPort,omitempty"`
	Protocol      string `yaml:"protocol,omitempty"`
}

type healthCheckSpec struct {
	Type     string        `yaml:"type"`
	Path     string        `yaml:"path,omitempty"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Retries  int           `yaml:"retries,omitempty"`
}

type metricsSpec struct {
	Path     string        `yaml:"path,omitempty"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// alertRuleSpec is the YAML shape of an AlertRule document
type alertRuleSpec struct {
	Expr     string            `yaml:"expr"`
	For      time.Duration     `yaml:"for,omitempty"`
	Interval time.Duration     `yaml:"interval,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	managerAddr, _ := cmd.Flags().GetString("manager")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	c := client.NewClient(managerAddr)
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	for {
		var res resource
		if err := decoder.Decode(&res); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
		if res.Metadata.Name == "" {
			return fmt.Errorf("resource of kind %q is missing metadata.name", res.Kind)
		}

		switch res.Kind {
		case "Service":
			if err := applyServiceResource(cmd, c, &res); err != nil {
				return err
			}
		case "AlertRule":
			if err := applyAlertRuleResource(cmd, c, &res); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported resource kind: %s", res.Kind)
		}
	}
}

func applyServiceResource(cmd *cobra.Command, c *client.Client, res *resource) error {
	var spec serviceSpec
	if err := res.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("service %s: invalid spec: %w", res.Metadata.Name, err)
	}

	service := &types.Service{
		Name:     res.Metadata.Name,
		Image:    spec.Image,
		Replicas: spec.Replicas,
		Env:      spec.Env,
		Labels:   res.Metadata.Labels,
	}
	if spec.Constraints != nil {
		service.Constraints = &types.PlacementConstraints{
			Role:               types.NodeRole(spec.Constraints.Role),
			NodeLabels:         spec.Constraints.NodeLabels,
			MaxReplicasPerNode: spec.Constraints.MaxReplicasPerNode,
		}
	}
	if spec.Update != nil {
		service.UpdateConfig = &types.UpdateConfig{
			MaxUnavailable: spec.Update.MaxUnavailable,
			Delay:          spec.Update.Delay,
		}
	}
	for _, p := range spec.Ports {
		service.Ports = append(service.Ports, &types.PortMapping{
			Name:          p.Name,
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
		})
	}
	if spec.HealthCheck != nil {
		service.HealthCheck = &types.HealthCheck{
			Type:     types.HealthCheckType(spec.HealthCheck.Type),
			Path:     spec.HealthCheck.Path,
			Port:     spec.HealthCheck.Port,
			Interval: spec.HealthCheck.Interval,
			Timeout:  spec.HealthCheck.Timeout,
			Retries:  spec.HealthCheck.Retries,
		}
	}
	if spec.Metrics != nil {
		service.Metrics = &types.MetricsConfig{
			Path:     spec.Metrics.Path,
			Port:     spec.Metrics.Port,
			Interval: spec.Metrics.Interval,
		}
	}

	applied, err := c.ApplyService(cmd.Context(), service)
	if err != nil {
		return fmt.Errorf("failed to apply service %s: %w", service.Name, err)
	}
	fmt.Printf("service/%s applied (replicas=%d)\n", applied.Name, applied.Replicas)
	return nil
}

func applyAlertRuleResource(cmd *cobra.Command, c *client.Client, res *resource) error {
	var spec alertRuleSpec
	if err := res.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("alert rule %s: invalid spec: %w", res.Metadata.Name, err)
	}

	rule := &types.AlertRule{
		Name:     res.Metadata.Name,
		Expr:     spec.Expr,
		For:      spec.For,
		Interval: spec.Interval,
		Labels:   mergeRuleLabels(res.Metadata.Labels, spec.Labels),
	}
	if err := c.PutAlertRule(cmd.Context(), rule); err != nil {
		return fmt.Errorf("failed to apply alert rule %s: %w", rule.Name, err)
	}
	fmt.Printf("alertrule/%s applied\n", rule.Name)
	return nil
}

func mergeRuleLabels(meta, spec map[string]string) map[string]string {
	if len(meta) == 0 {
		return spec
	}
	out := make(map[string]string, len(meta)+len(spec))
	for k, v := range meta {
		out[k] = v
	}
	for k, v := range spec {
		out[k] = v
	}
	return out
}
