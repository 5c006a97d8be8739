// Package reach waits for a woken device to answer ICMP echo requests.
package reach

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// ErrTimeout is returned when the host did not answer before Config.Timeout.
var ErrTimeout = errors.New("host did not become reachable")

// Config configures the reachability prober.
type Config struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Interval   time.Duration `mapstructure:"interval"`
	Privileged bool          `mapstructure:"privileged"`
}

// DefaultConfig returns the prober defaults.
func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Minute, Interval: 5 * time.Second}
}

// PingFunc sends one probe to ip and reports whether it was answered.
type PingFunc func(ctx context.Context, ip string) (alive bool, rtt time.Duration)

// Result describes a successful wait.
type Result struct {
	IP       string        `json:"ip"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
	RTT      time.Duration `json:"rtt"`
}

// Prober polls a host until it answers.
type Prober struct {
	cfg    Config
	ping   PingFunc
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a Prober that pings with ICMP.
func New(cfg Config, logger *zap.Logger) *Prober {
	p := NewWithPing(cfg, nil, clock.RealClock{}, logger)
	p.ping = p.icmpPing
	return p
}

// NewWithPing creates a Prober with a custom probe and clock.
func NewWithPing(cfg Config, ping PingFunc, clk clock.Clock, logger *zap.Logger) *Prober {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{cfg: cfg, ping: ping, clock: clk, logger: logger}
}

// WaitReachable probes ip every interval until it answers, the timeout
// elapses or ctx is cancelled. The first probe is sent immediately.
func (p *Prober) WaitReachable(ctx context.Context, ip string) (Result, error) {
	if ip == "" {
		return Result{}, errors.New("reach: empty ip")
	}
	start := p.clock.Now()
	deadline := p.clock.After(p.cfg.Timeout)

	for attempt := 1; ; attempt++ {
		alive, rtt := p.ping(ctx, ip)
		if alive {
			res := Result{IP: ip, Attempts: attempt, Elapsed: p.clock.Since(start), RTT: rtt}
			p.logger.Info("host reachable",
				zap.String("ip", ip),
				zap.Int("attempts", attempt),
				zap.Duration("elapsed", res.Elapsed),
			)
			return res, nil
		}
		p.logger.Debug("host not reachable yet", zap.String("ip", ip), zap.Int("attempt", attempt))

		select {
		case <-ctx.Done():
			return Result{IP: ip, Attempts: attempt}, ctx.Err()
		case <-deadline:
			return Result{IP: ip, Attempts: attempt, Elapsed: p.clock.Since(start)},
				fmt.Errorf("%s after %s: %w", ip, p.cfg.Timeout, ErrTimeout)
		case <-p.clock.After(p.cfg.Interval):
		}
	}
}

// icmpPing sends a single echo request and waits at most one interval.
func (p *Prober) icmpPing(ctx context.Context, ip string) (bool, time.Duration) {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		p.logger.Debug("failed to create pinger", zap.String("ip", ip), zap.Error(err))
		return false, 0
	}

	pinger.Count = 1
	pinger.Timeout = p.cfg.Interval
	pinger.SetPrivileged(p.cfg.Privileged || runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			p.logger.Debug("ping failed", zap.String("ip", ip), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return false, 0
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt
	}
	return false, 0
}
