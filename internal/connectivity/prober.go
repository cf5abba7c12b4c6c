package connectivity

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 2 * time.Second
)

// Pinger проверяет доступность удалённой стороны.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProberOptions задаёт параметры периодической проверки связи.
type ProberOptions struct {
	Logger   *log.Entry
	Interval time.Duration
	Timeout  time.Duration
}

// Option настраивает Prober.
type Option func(*ProberOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *ProberOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт период проверки.
func WithInterval(interval time.Duration) Option {
	return func(opts *ProberOptions) {
		opts.Interval = interval
	}
}

// WithTimeout задаёт таймаут одного ping.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *ProberOptions) {
		opts.Timeout = timeout
	}
}

// Prober периодически пингует удалённое хранилище и обновляет Monitor.
type Prober struct {
	monitor  *Monitor
	pinger   Pinger
	logger   *log.Entry
	interval time.Duration
	timeout  time.Duration
}

// NewProber создаёт проверку связи.
func NewProber(monitor *Monitor, pinger Pinger, options ...Option) *Prober {
	opts := ProberOptions{
		Interval: defaultProbeInterval,
		Timeout:  defaultProbeTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "connectivity-prober")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}

	return &Prober{
		monitor:  monitor,
		pinger:   pinger,
		logger:   logger,
		interval: opts.Interval,
		timeout:  opts.Timeout,
	}
}

// Run проверяет связь сразу и затем с заданным периодом до отмены ctx.
func (p *Prober) Run(ctx context.Context) {
	if p.pinger == nil {
		p.logger.Warn("connectivity prober is disabled: pinger is nil")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce выполняет одну проверку и возвращает её результат.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(pingCtx)
	online := err == nil
	if was := p.monitor.Online(); was != online {
		entry := p.logger.WithField("online", online)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("connectivity changed")
	}
	p.monitor.SetOnline(online)
	return online
}
