// Package state owns everything the service keeps between calls: the
// artifact store, the federated aggregate and the loaded text model.
//
// Mutations run one at a time and to completion under an exclusive lock.
// Reads share the lock and therefore only ever observe settled state.
package state

import (
	"sync"
	"sync/atomic"

	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/federated"
	"github.com/samcharles93/medaiml/internal/inference"
	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/samcharles93/medaiml/internal/metrics"
	"github.com/samcharles93/medaiml/internal/model"
)

// Tx is the view of process state handed to Mutate and View callbacks. It
// must not be retained after the callback returns.
type Tx struct {
	Store      *artifact.Store
	Aggregator *federated.Aggregator
}

// TextModel is the text model published by InitTextModel.
type TextModel struct {
	Config    *model.TransformerConfig
	Model     *model.Transformer
	Generator *inference.Generator
}

type Options struct {
	Logger  logger.Logger
	Metrics *metrics.Metrics
	// MaxNewTokensLimit caps generation length when positive.
	MaxNewTokensLimit int
}

type Process struct {
	mu sync.RWMutex
	tx Tx

	initMu sync.Mutex
	text   atomic.Pointer[TextModel]

	log     logger.Logger
	metrics *metrics.Metrics
	limit   int
}

func New(opts Options) *Process {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Process{
		tx: Tx{
			Store:      artifact.NewStore(),
			Aggregator: federated.NewAggregator(),
		},
		log:     logger.Component(log, "state"),
		metrics: opts.Metrics,
		limit:   opts.MaxNewTokensLimit,
	}
}

// Mutate runs fn with exclusive access.
func (p *Process) Mutate(fn func(*Tx) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(&p.tx)
}

// View runs fn with shared access. fn must not modify anything reachable
// from the Tx.
func (p *Process) View(fn func(*Tx) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(&p.tx)
}

// Text returns the published text model, or nil before InitTextModel has
// succeeded.
func (p *Process) Text() *TextModel {
	return p.text.Load()
}
