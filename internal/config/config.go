package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"fsanano/canteen/internal/model"
)

const (
	ServiceName    = "canteen"
	ServiceVersion = "0.1.0"
)

type Config struct {
	ServerPort  string
	StoreDriver string
	DatabaseURL string
	JWTSecret   string

	Events struct {
		Driver       string
		KafkaBroker  string
		KafkaTopic   string
		AMQPURL      string
		AMQPExchange string
	}

	Otel struct {
		Endpoint   string
		AuthHeader string
	}

	Policy Policy
}

// Policy holds the business knobs that are fixed per deployment.
type Policy struct {
	SubscriptionPricePerDay decimal.Decimal
	SubscriptionMaxDays     int
	// AllowUnpaidReservation keeps the reservation with a pending payment when
	// the balance does not cover the price; false refuses it with insufficient funds.
	AllowUnpaidReservation bool
	WalkInMealType         model.MealType
	DefaultMaxPortions     int
	Location               *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		SubscriptionPricePerDay: decimal.NewFromInt(50),
		SubscriptionMaxDays:     365,
		AllowUnpaidReservation:  true,
		WalkInMealType:          model.MealLunch,
		DefaultMaxPortions:      100,
		Location:                time.UTC,
	}
}

type policyFile struct {
	Timezone     string `yaml:"timezone"`
	Subscription struct {
		PricePerDay string `yaml:"price_per_day"`
		MaxDays     int    `yaml:"max_days"`
	} `yaml:"subscription"`
	Orders struct {
		AllowUnpaidReservation *bool `yaml:"allow_unpaid_reservation"`
	} `yaml:"orders"`
	WalkIn struct {
		DefaultMealType string `yaml:"default_meal_type"`
	} `yaml:"walk_in"`
	Menu struct {
		DefaultMaxPortions int `yaml:"default_max_portions"`
	} `yaml:"menu"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (useful for local dev)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.ServerPort = os.Getenv("SERVER_PORT")
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.StoreDriver = os.Getenv("STORE_DRIVER")
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	switch cfg.StoreDriver {
	case "postgres":
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	cfg.Events.Driver = os.Getenv("EVENTS_DRIVER")
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "log"
	}
	switch cfg.Events.Driver {
	case "log":
	case "kafka":
		cfg.Events.KafkaBroker = os.Getenv("KAFKA_BROKER")
		if cfg.Events.KafkaBroker == "" {
			return nil, fmt.Errorf("KAFKA_BROKER must be set")
		}
		cfg.Events.KafkaTopic = getenvDefault("KAFKA_TOPIC", "canteen.events")
	case "amqp":
		cfg.Events.AMQPURL = os.Getenv("AMQP_URL")
		if cfg.Events.AMQPURL == "" {
			return nil, fmt.Errorf("AMQP_URL must be set")
		}
		cfg.Events.AMQPExchange = getenvDefault("AMQP_EXCHANGE", "canteen_events")
	default:
		return nil, fmt.Errorf("unknown EVENTS_DRIVER %q", cfg.Events.Driver)
	}

	cfg.Otel.Endpoint = os.Getenv("OTEL_ENDPOINT")
	cfg.Otel.AuthHeader = os.Getenv("OTEL_AUTH_HEADER")

	cfg.Policy = DefaultPolicy()
	if path := os.Getenv("POLICY_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		if cfg.Policy, err = ParsePolicy(data); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ParsePolicy overlays a YAML policy document on DefaultPolicy.
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return p, fmt.Errorf("failed to parse policy: %w", err)
	}

	if f.Timezone != "" {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return p, fmt.Errorf("invalid timezone %q: %w", f.Timezone, err)
		}
		p.Location = loc
	}
	if f.Subscription.PricePerDay != "" {
		price, err := decimal.NewFromString(f.Subscription.PricePerDay)
		if err != nil {
			return p, fmt.Errorf("invalid subscription.price_per_day: %w", err)
		}
		if price.IsNegative() || !model.FitsMoney(price) {
			return p, fmt.Errorf("subscription.price_per_day must be a non-negative amount with at most %d decimal places", model.MoneyPlaces)
		}
		p.SubscriptionPricePerDay = price
	}
	if f.Subscription.MaxDays > 0 {
		p.SubscriptionMaxDays = f.Subscription.MaxDays
	}
	if f.Orders.AllowUnpaidReservation != nil {
		p.AllowUnpaidReservation = *f.Orders.AllowUnpaidReservation
	}
	if f.WalkIn.DefaultMealType != "" {
		mt := model.MealType(f.WalkIn.DefaultMealType)
		if !mt.Valid() {
			return p, fmt.Errorf("invalid walk_in.default_meal_type %q", mt)
		}
		p.WalkInMealType = mt
	}
	if f.Menu.DefaultMaxPortions > 0 {
		p.DefaultMaxPortions = f.Menu.DefaultMaxPortions
	}

	return p, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
