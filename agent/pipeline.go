package agent

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/devmesh/core"
)

// Pipeline node types.
const (
	NodeAgent      = "agent"
	NodeSequential = "sequential"
	NodeParallel   = "parallel"
	NodeLoop       = "loop"
)

// PipelineSpec is the YAML form of a workflow tree. A leaf references an
// already registered agent by name; inner nodes are workflow agents.
//
//	name: review
//	type: loop
//	max_iterations: 3
//	agents:
//	  - agent: developing_agent
//	  - type: parallel
//	    agents:
//	      - agent: linter
//	      - agent: tester
type PipelineSpec struct {
	Name          string         `yaml:"name,omitempty"`
	Type          string         `yaml:"type,omitempty"`
	Agent         string         `yaml:"agent,omitempty"`
	MaxIterations *int           `yaml:"max_iterations,omitempty"`
	Interval      string         `yaml:"interval,omitempty"`
	StopOnError   bool           `yaml:"stop_on_error,omitempty"`
	Concurrency   int            `yaml:"concurrency,omitempty"`
	Timeout       string         `yaml:"timeout,omitempty"`
	Agents        []PipelineSpec `yaml:"agents,omitempty"`
}

// PipelineOptions configures pipeline construction.
type PipelineOptions struct {
	Common
	// MaxIterations applies to loops that do not set max_iterations.
	MaxIterations int
}

// ParsePipeline decodes a pipeline definition. Unknown fields are rejected.
func ParsePipeline(data []byte) (PipelineSpec, error) {
	var spec PipelineSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return PipelineSpec{}, fmt.Errorf("parse pipeline: %w", err)
	}
	return spec, nil
}

// LoadPipeline parses data and builds the workflow tree it describes.
// Leaves are resolved in agents.
func LoadPipeline(data []byte, agents map[string]core.Agent, optFns ...func(o *PipelineOptions)) (core.Agent, error) {
	spec, err := ParsePipeline(data)
	if err != nil {
		return nil, err
	}
	return BuildPipeline(spec, agents, optFns...)
}

// LoadPipelineFile reads and builds the pipeline stored at path.
func LoadPipelineFile(path string, agents map[string]core.Agent, optFns ...func(o *PipelineOptions)) (core.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	return LoadPipeline(data, agents, optFns...)
}

// BuildPipeline turns spec into agents.
func BuildPipeline(spec PipelineSpec, agents map[string]core.Agent, optFns ...func(o *PipelineOptions)) (core.Agent, error) {
	opts := PipelineOptions{MaxIterations: DefaultMaxIterations}
	for _, fn := range optFns {
		fn(&opts)
	}
	return buildNode(spec, agents, opts, "pipeline")
}

func buildNode(spec PipelineSpec, agents map[string]core.Agent, opts PipelineOptions, path string) (core.Agent, error) {
	typ := spec.Type
	if typ == "" && spec.Agent != "" {
		typ = NodeAgent
	}

	if typ == NodeAgent {
		if len(spec.Agents) > 0 {
			return nil, fmt.Errorf("%s: agent reference %q cannot have children", path, spec.Agent)
		}
		a, ok := agents[spec.Agent]
		if !ok || a == nil {
			return nil, fmt.Errorf("%s: unknown agent %q", path, spec.Agent)
		}
		return a, nil
	}
	if spec.Agent != "" {
		return nil, fmt.Errorf("%s: %q node cannot reference agent %q", path, typ, spec.Agent)
	}

	children := make([]core.Agent, 0, len(spec.Agents))
	for i, child := range spec.Agents {
		a, err := buildNode(child, agents, opts, fmt.Sprintf("%s.agents[%d]", path, i))
		if err != nil {
			return nil, err
		}
		children = append(children, a)
	}

	switch typ {
	case NodeSequential:
		return NewSequentialAgent(children, func(o *SequentialOptions) {
			o.Common = opts.Common
			if spec.Name != "" {
				o.Name = spec.Name
			}
		}), nil
	case NodeParallel:
		timeout, err := parseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: timeout: %w", path, err)
		}
		return NewParallelAgent(children, func(o *ParallelOptions) {
			o.Common = opts.Common
			o.Concurrency = spec.Concurrency
			o.Timeout = timeout
			if spec.Name != "" {
				o.Name = spec.Name
			}
		}), nil
	case NodeLoop:
		interval, err := parseDuration(spec.Interval)
		if err != nil {
			return nil, fmt.Errorf("%s: interval: %w", path, err)
		}
		maxIters := opts.MaxIterations
		if spec.MaxIterations != nil {
			if *spec.MaxIterations < 0 {
				return nil, fmt.Errorf("%s: max_iterations must not be negative", path)
			}
			maxIters = *spec.MaxIterations
		}
		loopOpts := []LoopOption{
			WithLoopCommon(opts.Common),
			WithMaxIterations(maxIters),
			WithInterval(interval),
			WithStopOnError(spec.StopOnError),
		}
		if spec.Name != "" {
			loopOpts = append(loopOpts, WithLoopName(spec.Name))
		}
		return NewLoopAgent(children, loopOpts...), nil
	case "":
		return nil, errors.New(path + ": type or agent is required")
	default:
		return nil, fmt.Errorf("%s: unknown node type %q", path, typ)
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
