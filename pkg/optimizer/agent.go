package optimizer

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"nexumdb/pkg/monitor"

	"go.uber.org/zap"
)

const (
	DefaultEpsilon      = 0.1
	DefaultLearningRate = 0.2
)

type Options struct {
	// Path is the policy file. Empty keeps the Q-table in memory only.
	Path string
	// Epsilon is the exploration probability, used as given (0 is greedy).
	Epsilon      float64
	LearningRate float64
	// PersistEvery saves the table after this many observations.
	PersistEvery int
	// Seed fixes the exploration sequence; 0 seeds from the clock.
	Seed    int64
	Logger  *zap.Logger
	Metrics *monitor.Metrics
}

type state struct {
	Shape  QueryShape
	Values []float64
	Visits []uint64
}

// Agent is an epsilon-greedy learner over (query shape, strategy) pairs.
// Rewards are negative latencies in milliseconds; every episode is a single
// query, so there is no discounting.
type Agent struct {
	mu      sync.Mutex
	states  map[string]*state
	rng     *rand.Rand
	pending int

	path         string
	epsilon      float64
	learningRate float64
	persistEvery int
	logger       *zap.Logger
	metrics      *monitor.Metrics
}

// NewAgent builds an agent and restores its table from opts.Path. An
// unreadable file is logged and the agent starts fresh.
func NewAgent(opts Options) *Agent {
	if opts.Epsilon < 0 || opts.Epsilon > 1 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.LearningRate <= 0 || opts.LearningRate > 1 {
		opts.LearningRate = DefaultLearningRate
	}
	if opts.PersistEvery <= 0 {
		opts.PersistEvery = 1
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	a := &Agent{
		states:       make(map[string]*state),
		rng:          rand.New(rand.NewSource(opts.Seed)),
		path:         opts.Path,
		epsilon:      opts.Epsilon,
		learningRate: opts.LearningRate,
		persistEvery: opts.PersistEvery,
		logger:       opts.Logger.Named("optimizer"),
		metrics:      opts.Metrics,
	}
	if err := a.Restore(); err != nil {
		a.logger.Warn("starting with an empty policy", zap.String("path", a.path), zap.Error(err))
	}
	return a
}

// ChooseStrategy picks a strategy for shape: a random one with probability
// epsilon, otherwise the best known one (lowest index on ties).
func (a *Agent) ChooseStrategy(shape QueryShape) Strategy {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.stateLocked(shape)
	if a.epsilon > 0 && a.rng.Float64() < a.epsilon {
		s := Strategies[a.rng.Intn(len(Strategies))]
		a.metrics.PolicyChoice(s.String(), true)
		return s
	}

	best := 0
	for i := 1; i < len(st.Values); i++ {
		if st.Values[i] > st.Values[best] {
			best = i
		}
	}
	s := Strategies[best]
	a.metrics.PolicyChoice(s.String(), false)
	return s
}

// Observe moves Q(shape, strategy) toward -latency(ms) by the learning rate
// and persists every PersistEvery observations. A persistence error leaves
// the in-memory update in place.
func (a *Agent) Observe(shape QueryShape, strategy Strategy, latency time.Duration) error {
	if !strategy.valid() {
		return nil
	}
	reward := -float64(latency) / float64(time.Millisecond)

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.stateLocked(shape)
	i := int(strategy)
	st.Values[i] += a.learningRate * (reward - st.Values[i])
	st.Visits[i]++
	a.metrics.PolicyObserved(latency)

	a.pending++
	if a.pending < a.persistEvery {
		return nil
	}
	a.pending = 0
	return a.persistLocked()
}

func (a *Agent) stateLocked(shape QueryShape) *state {
	key := shape.Key()
	st, ok := a.states[key]
	if !ok {
		st = &state{
			Shape:  shape,
			Values: make([]float64, len(Strategies)),
			Visits: make([]uint64, len(Strategies)),
		}
		a.states[key] = st
	}
	return st
}

// StateValues is a copy of one row of the Q-table.
type StateValues struct {
	Key    string             `json:"key"`
	Shape  QueryShape         `json:"shape"`
	Values map[string]float64 `json:"values"`
	Visits map[string]uint64  `json:"visits"`
	Best   string             `json:"best"`
}

// Snapshot copies the Q-table, ordered by state key.
func (a *Agent) Snapshot() []StateValues {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]StateValues, 0, len(a.states))
	for key, st := range a.states {
		sv := StateValues{
			Key:    key,
			Shape:  st.Shape,
			Values: make(map[string]float64, len(Strategies)),
			Visits: make(map[string]uint64, len(Strategies)),
		}
		best := 0
		for i, s := range Strategies {
			sv.Values[s.String()] = st.Values[i]
			sv.Visits[s.String()] = st.Visits[i]
			if st.Values[i] > st.Values[best] {
				best = i
			}
		}
		sv.Best = Strategies[best].String()
		out = append(out, sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Value returns Q(shape, strategy) and whether the state has been seen.
func (a *Agent) Value(shape QueryShape, strategy Strategy) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[shape.Key()]
	if !ok || !strategy.valid() {
		return 0, false
	}
	return st.Values[strategy], true
}

func (a *Agent) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.states)
}

// Close flushes the table.
func (a *Agent) Close() error {
	return a.Persist()
}
