// Package proxy chooses the network egress for each simulated user class and
// keeps a history of which proxy served which run.
package proxy

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/config"
)

// Provider implements schemas.ProxyProvider.
type Provider struct {
	cfg    config.ProxyConfig
	ledger *Ledger
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

var _ schemas.ProxyProvider = (*Provider)(nil)

// NewProvider creates a Provider. A nil rng is seeded from the clock.
func NewProvider(cfg config.ProxyConfig, ledger *Ledger, rng *rand.Rand, logger *zap.Logger) *Provider {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger = logger.Named("proxy")
	if cfg.Enabled && len(cfg.Servers) == 0 {
		logger.Warn("Proxy enabled but no servers configured; proxying disabled.")
	}
	return &Provider{cfg: cfg, ledger: ledger, logger: logger, now: time.Now, rng: rng}
}

// ProxyForRun picks the proxy for userType:
//
//	normal      the first server, always
//	high_risk   a random server, or the last one when random is off
//	new_device  the second server, or the first when there is only one
//
// ok is false when proxying is disabled. A ledger write failure is returned
// alongside a usable endpoint.
func (p *Provider) ProxyForRun(userType schemas.UserType) (string, bool, error) {
	if !p.cfg.Active() {
		return "", false, nil
	}
	servers := p.cfg.Servers

	var endpoint string
	switch userType {
	case schemas.UserHighRisk:
		if p.cfg.Random {
			p.mu.Lock()
			endpoint = servers[p.rng.Intn(len(servers))]
			p.mu.Unlock()
		} else {
			endpoint = servers[len(servers)-1]
		}
	case schemas.UserNewDevice:
		endpoint = servers[0]
		if len(servers) > 1 {
			endpoint = servers[1]
		}
	default:
		endpoint = servers[0]
	}

	p.logger.Info("Proxy selected.", zap.String("proxy", endpoint), zap.String("user_type", string(userType)))
	if p.ledger == nil {
		return endpoint, true, nil
	}
	err := p.ledger.Append(Entry{Timestamp: p.now(), Proxy: endpoint, UserType: userType})
	if err != nil {
		p.logger.Error("Failed to record proxy usage.", zap.Error(err))
		return endpoint, true, err
	}
	return endpoint, true, nil
}

// History returns the recorded usage, oldest first.
func (p *Provider) History() ([]Entry, error) {
	if p.ledger == nil {
		return nil, nil
	}
	return p.ledger.Entries()
}
