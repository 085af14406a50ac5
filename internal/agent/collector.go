// Package agent drives an environment with a policy and writes the resulting
// transitions into replay or rollout buffers.
package agent

import (
	"context"
	"errors"
	"fmt"

	"gradus/internal/model"
	"gradus/internal/scape"
)

// Policy is the action source a collector queries.
type Policy interface {
	SelectAction(state []float64, explore bool) (model.Action, error)
	RandomAction() model.Action
	ResetExploration()
}

type TransitionWriter interface {
	Write(t model.Transition)
}

type RolloutWriter interface {
	Push(reward, mask float64, state, action []float64, logProb float64)
}

type Config struct {
	// Gamma is stored as the mask of non-terminal steps.
	Gamma       float64
	RewardScale float64
	// MaxStep caps an episode; zero uses the environment's own cap. A capped
	// episode ends like a terminal one.
	MaxStep int
}

// Stats summarizes one collection call. Returns are unscaled episode sums
// of the episodes that finished during the call.
type Stats struct {
	Steps    int
	Episodes int
	Returns  []float64
}

func (s Stats) AvgReturn() float64 {
	if len(s.Returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range s.Returns {
		sum += r
	}
	return sum / float64(len(s.Returns))
}

// Collector owns one environment and its current episode. Off-policy
// collection continues the episode across calls.
type Collector struct {
	id      string
	env     scape.Environment
	spec    scape.Spec
	policy  Policy
	cfg     Config
	state   []float64
	episode float64
	steps   int
}

func NewCollector(id string, env scape.Environment, policy Policy, cfg Config) (*Collector, error) {
	if id == "" {
		return nil, fmt.Errorf("collector id is required")
	}
	if env == nil || policy == nil {
		return nil, errors.New("environment and policy are required")
	}
	if cfg.Gamma <= 0 || cfg.Gamma > 1 {
		return nil, fmt.Errorf("gamma must be in (0, 1], got %g", cfg.Gamma)
	}
	if cfg.RewardScale == 0 {
		cfg.RewardScale = 1
	}
	spec := env.Spec()
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = spec.MaxStep
	}
	if cfg.MaxStep <= 0 {
		return nil, errors.New("max step must be > 0")
	}
	c := &Collector{id: id, env: env, spec: spec, policy: policy, cfg: cfg}
	c.reset()
	return c, nil
}

func (c *Collector) ID() string { return c.id }

func (c *Collector) Spec() scape.Spec { return c.spec }

func (c *Collector) reset() {
	c.state = c.env.Reset()
	c.episode = 0
	c.steps = 0
	c.policy.ResetExploration()
}

// envAction scales continuous actions into the environment's range.
func (c *Collector) envAction(a model.Action) []float64 {
	if c.spec.Discrete {
		return a.Env
	}
	out := make([]float64, len(a.Env))
	for i, v := range a.Env {
		out[i] = v * c.spec.MaxAction
	}
	return out
}

// advance applies a to the current episode. It returns the stored mask and
// whether the episode ended; on end the finished return is appended to stats.
func (c *Collector) advance(a model.Action, stats *Stats) (next []float64, reward, mask float64, done bool, err error) {
	next, reward, done, err = c.env.Step(c.envAction(a))
	if err != nil {
		return nil, 0, 0, false, fmt.Errorf("%s step: %w", c.spec.Name, err)
	}
	c.episode += reward
	c.steps++
	stats.Steps++
	if c.steps >= c.cfg.MaxStep {
		done = true
	}
	mask = c.cfg.Gamma
	if done {
		mask = 0
		stats.Episodes++
		stats.Returns = append(stats.Returns, c.episode)
	}
	return next, reward * c.cfg.RewardScale, mask, done, nil
}

// Explore collects steps transitions into buf, continuing the current
// episode. With random set the actions are uniform, as used to seed the
// buffer before training.
func (c *Collector) Explore(ctx context.Context, buf TransitionWriter, steps int, random bool) (Stats, error) {
	var stats Stats
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var a model.Action
		if random {
			a = c.policy.RandomAction()
		} else {
			var err error
			if a, err = c.policy.SelectAction(c.state, true); err != nil {
				return stats, err
			}
		}

		next, reward, mask, done, err := c.advance(a, &stats)
		if err != nil {
			return stats, err
		}
		buf.Write(model.Transition{Reward: reward, Mask: mask, State: c.state, Action: a.Stored, NextState: next})
		if done {
			c.reset()
		} else {
			c.state = next
		}
	}
	return stats, nil
}

// InitialExploration fills buf with uniformly random actions.
func (c *Collector) InitialExploration(ctx context.Context, buf TransitionWriter, steps int) (Stats, error) {
	return c.Explore(ctx, buf, steps, true)
}

// Rollout runs whole episodes until at least maxMemo steps are collected.
// Every call starts from a fresh episode.
func (c *Collector) Rollout(ctx context.Context, buf RolloutWriter, maxMemo int) (Stats, error) {
	var stats Stats
	for stats.Steps < maxMemo {
		c.reset()
		for {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			a, err := c.policy.SelectAction(c.state, true)
			if err != nil {
				return stats, err
			}
			next, reward, mask, done, err := c.advance(a, &stats)
			if err != nil {
				return stats, err
			}
			buf.Push(reward, mask, c.state, a.Stored, a.LogProb)
			if done {
				break
			}
			c.state = next
		}
	}
	c.reset()
	return stats, nil
}

// Evaluate runs greedy episodes on the collector's environment without
// storing anything and returns their stats.
func (c *Collector) Evaluate(ctx context.Context, episodes int) (Stats, error) {
	var stats Stats
	for e := 0; e < episodes; e++ {
		c.reset()
		for {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			a, err := c.policy.SelectAction(c.state, false)
			if err != nil {
				return stats, err
			}
			next, _, _, done, err := c.advance(a, &stats)
			if err != nil {
				return stats, err
			}
			if done {
				break
			}
			c.state = next
		}
	}
	c.reset()
	return stats, nil
}
