// Package billnumber выдаёт номера заказов вида PREFIX-YYMMDD###.
//
// Гарантия слабая: номер уникален, пока в течение дня пишет одно устройство.
// Два устройства, одновременно работающие офлайн, могут выдать одинаковый номер.
package billnumber

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

const (
	// DefaultPrefix — префикс номера по умолчанию.
	DefaultPrefix = "PH"
	dateLayout    = "060102"
	suffixWidth   = 3
)

// Options задаёт параметры аллокатора.
type Options struct {
	Prefix   string
	Location *time.Location
	Now      func() time.Time
	Logger   *log.Entry
}

// Option настраивает Allocator.
type Option func(*Options)

// WithPrefix задаёт префикс номера (по умолчанию PH).
func WithPrefix(prefix string) Option {
	return func(opts *Options) {
		opts.Prefix = prefix
	}
}

// WithLocation задаёт часовой пояс, в котором определяется текущий день.
func WithLocation(loc *time.Location) Option {
	return func(opts *Options) {
		opts.Location = loc
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// Allocator вычисляет следующий номер заказа по локальному снапшоту,
// а при его отсутствии за сегодня — по удалённому хранилищу.
type Allocator struct {
	snapshot domain.SnapshotStore
	remote   domain.RemoteStore
	conn     domain.Connectivity
	prefix   string
	location *time.Location
	now      func() time.Time
	logger   *log.Entry
}

// NewAllocator создаёт аллокатор номеров.
func NewAllocator(snapshot domain.SnapshotStore, remote domain.RemoteStore, conn domain.Connectivity, options ...Option) *Allocator {
	opts := Options{
		Prefix:   DefaultPrefix,
		Location: time.Local,
		Now:      time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "bill-number-allocator")
	}
	if strings.TrimSpace(opts.Prefix) == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Allocator{
		snapshot: snapshot,
		remote:   remote,
		conn:     conn,
		prefix:   opts.Prefix,
		location: opts.Location,
		now:      opts.Now,
		logger:   logger,
	}
}

// DayPrefix возвращает префикс текущего дня, например PH-260119.
func (a *Allocator) DayPrefix() string {
	return a.prefix + "-" + a.now().In(a.location).Format(dateLayout)
}

// Generate возвращает следующий номер заказа за сегодня.
// Ошибка удалённого запроса не прерывает выдачу: она трактуется как отсутствие совпадений.
func (a *Allocator) Generate(ctx context.Context) (string, error) {
	dayPrefix := a.DayPrefix()

	orders, err := a.snapshot.Orders(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read orders: %v", domain.ErrLocalStorageUnavailable, err)
	}

	maxSuffix, found := 0, false
	for _, order := range orders {
		if suffix, ok := ParseSuffix(order.OrderNumber, dayPrefix); ok {
			found = true
			if suffix > maxSuffix {
				maxSuffix = suffix
			}
		}
	}

	if !found && a.remote != nil && a.conn != nil && a.conn.Online() {
		number, ok, err := a.remote.MaxOrderNumber(ctx, dayPrefix)
		switch {
		case err != nil:
			a.logger.WithError(err).WithField("prefix", dayPrefix).Warn("remote max order number lookup failed")
		case ok:
			if suffix, parsed := ParseSuffix(number, dayPrefix); parsed {
				maxSuffix = suffix
			}
		}
	}

	return Format(dayPrefix, maxSuffix+1), nil
}

// Format склеивает префикс дня и суффикс, дополняя суффикс нулями до трёх цифр.
func Format(dayPrefix string, suffix int) string {
	return fmt.Sprintf("%s%0*d", dayPrefix, suffixWidth, suffix)
}

// ParseSuffix извлекает числовой суффикс номера с указанным префиксом дня.
func ParseSuffix(number, dayPrefix string) (int, bool) {
	if !strings.HasPrefix(number, dayPrefix) {
		return 0, false
	}
	raw := number[len(dayPrefix):]
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	suffix, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return suffix, true
}
