// Package clock provides the accelerated in-world calendar and the
// stochastic weather generator. State is persisted immediately on every
// transition and re-derived on restart, so no in-world time is lost.
package clock

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/lowlandworks/pixelvale/internal/events"
)

// Weather enumerates sky conditions.
type Weather string

const (
	WeatherSunny  Weather = "sunny"
	WeatherCloudy Weather = "cloudy"
	WeatherRain   Weather = "rain"
	WeatherStorm  Weather = "storm"
)

const (
	DaysPerMonth   = 30
	MonthsPerYear  = 12
	HoursPerDay    = 24
)

// State is the persisted clock singleton.
type State struct {
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	Day          int       `json:"day" db:"day"`
	Month        int       `json:"month" db:"month"`
	Year         int       `json:"year" db:"year"`
	Weather      Weather   `json:"weather" db:"weather"`
	WeatherUntil time.Time `json:"weather_until" db:"weather_until"`
}

// Store persists the clock singleton.
type Store interface {
	LoadClock() (State, bool, error)
	SaveClock(State) error
}

// Config tunes the clock.
type Config struct {
	TimeScale  float64 // game seconds per wall second
	WeatherMin time.Duration
	WeatherMax time.Duration
	// StormChance is the conditional probability of escalating to storm
	// once rain has been selected.
	StormChance float64
}

// Clock maps wall time onto the accelerated calendar and rolls weather.
type Clock struct {
	mu    sync.Mutex
	cfg   Config
	state State
	store Store
	bus   *events.Bus
	rng   *rand.Rand
}

// New creates a clock. Call Load before use.
func New(cfg Config, store Store, bus *events.Bus, seed int64) *Clock {
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = 60
	}
	return &Clock{
		cfg:   cfg,
		store: store,
		bus:   bus,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Load restores the persisted state or initializes a fresh world clock.
func (c *Clock) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, found, err := c.store.LoadClock()
	if err != nil {
		return err
	}
	if found {
		c.state = st
		c.deriveCalendarLocked(time.Now())
		slog.Info("world clock resumed",
			"day", c.state.Day, "month", c.state.Month, "year", c.state.Year,
			"weather", c.state.Weather)
		return nil
	}

	c.state = State{
		StartedAt:    time.Now(),
		Day:          1,
		Month:        1,
		Year:         1,
		Weather:      WeatherSunny,
		WeatherUntil: time.Now().Add(c.weatherDurationLocked()),
	}
	return c.store.SaveClock(c.state)
}

// Snapshot returns a copy of the current state.
func (c *Clock) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Weather returns the current weather.
func (c *Clock) Weather() Weather {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Weather
}

// IsRaining reports rain or storm.
func (c *Clock) IsRaining() bool {
	w := c.Weather()
	return w == WeatherRain || w == WeatherStorm
}

// Season returns 0=spring..3=winter from the current month.
func (c *Clock) Season() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return (c.state.Month - 1) / 3
}

// AdvanceCalendar recomputes day/month/year from elapsed wall time. A day
// rollover is persisted immediately and emits a time_change event.
func (c *Clock) AdvanceCalendar() {
	c.mu.Lock()
	prevDay, prevMonth, prevYear := c.state.Day, c.state.Month, c.state.Year
	c.deriveCalendarLocked(time.Now())
	changed := c.state.Day != prevDay || c.state.Month != prevMonth || c.state.Year != prevYear
	st := c.state
	c.mu.Unlock()

	if !changed {
		return
	}
	if err := c.store.SaveClock(st); err != nil {
		slog.Error("clock save failed", "error", err)
	}
	c.bus.Emit(events.TypeTimeChange, map[string]any{
		"day":   st.Day,
		"month": st.Month,
		"year":  st.Year,
	})
}

// deriveCalendarLocked maps wall time elapsed since world start onto the
// accelerated calendar.
func (c *Clock) deriveCalendarLocked(now time.Time) {
	gameSeconds := now.Sub(c.state.StartedAt).Seconds() * c.cfg.TimeScale
	totalDays := int(gameSeconds / (HoursPerDay * 3600))

	c.state.Day = totalDays%DaysPerMonth + 1
	totalMonths := totalDays / DaysPerMonth
	c.state.Month = totalMonths%MonthsPerYear + 1
	c.state.Year = totalMonths/MonthsPerYear + 1
}

// MaybeChangeWeather rolls new weather once the current spell expires.
// Rain probability depends on season, with a conditional escalation to
// storm; otherwise a sunny/cloudy split.
func (c *Clock) MaybeChangeWeather() {
	c.mu.Lock()
	if time.Now().Before(c.state.WeatherUntil) {
		c.mu.Unlock()
		return
	}

	prev := c.state.Weather
	next := c.rollWeatherLocked()
	c.state.Weather = next
	c.state.WeatherUntil = time.Now().Add(c.weatherDurationLocked())
	st := c.state
	c.mu.Unlock()

	if err := c.store.SaveClock(st); err != nil {
		slog.Error("clock save failed", "error", err)
	}
	slog.Info("weather changed", "from", prev, "to", next, "until", st.WeatherUntil)
	c.bus.Emit(events.TypeWeatherChange, map[string]any{
		"weather":  string(next),
		"previous": string(prev),
	})
}

func (c *Clock) rollWeatherLocked() Weather {
	rainChance := seasonRainChance((c.state.Month - 1) / 3)
	if c.rng.Float64() < rainChance {
		if c.rng.Float64() < c.cfg.StormChance {
			return WeatherStorm
		}
		return WeatherRain
	}
	if c.rng.Float64() < 0.7 {
		return WeatherSunny
	}
	return WeatherCloudy
}

func (c *Clock) weatherDurationLocked() time.Duration {
	min := c.cfg.WeatherMin
	max := c.cfg.WeatherMax
	if min <= 0 {
		min = 3 * time.Minute
	}
	if max <= min {
		max = min + time.Minute
	}
	return min + time.Duration(c.rng.Int63n(int64(max-min)))
}

// seasonRainChance returns the per-roll rain probability for a season
// (0=spring..3=winter). Spring and autumn are the wet seasons.
func seasonRainChance(season int) float64 {
	switch season {
	case 0:
		return 0.40
	case 1:
		return 0.15
	case 2:
		return 0.45
	default:
		return 0.30
	}
}

// TimeOfDay returns the in-world hour [0,24) for display.
func (c *Clock) TimeOfDay() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	gameSeconds := time.Since(c.state.StartedAt).Seconds() * c.cfg.TimeScale
	return int(gameSeconds/3600) % HoursPerDay
}
