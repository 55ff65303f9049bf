package config

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError names the offending setting.
type FieldError struct {
	Field   string
	Problem string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Problem
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

func (c Config) Validate() error {
	var fields []FieldError
	add := func(field, problem string) {
		fields = append(fields, FieldError{Field: field, Problem: problem})
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "postgres", "postgresql", "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn", "required for "+c.Storage.Driver)
		}
	case "memory":
	default:
		add("storage.driver", fmt.Sprintf("unsupported driver %q", c.Storage.Driver))
	}

	if c.Scheduler.Interval <= 0 {
		add("scheduler.interval", "must be positive")
	}
	if c.Scheduler.Workers <= 0 {
		add("scheduler.workers", "must be positive")
	}
	if c.Scheduler.FetchTimeout <= 0 {
		add("scheduler.fetch_timeout", "must be positive")
	}
	if c.Scheduler.ItemTimeout <= 0 {
		add("scheduler.item_timeout", "must be positive")
	}
	if c.Alerting.Cooldown <= 0 {
		add("alerting.cooldown", "must be positive")
	}
	if c.Alerting.SendTimeout <= 0 {
		add("alerting.send_timeout", "must be positive")
	}
	// A cooldown shorter than the poll interval lets every tick re-alert.
	if c.Scheduler.Interval > 0 && c.Alerting.Cooldown > 0 && c.Alerting.Cooldown < c.Scheduler.Interval {
		add("alerting.cooldown", fmt.Sprintf("must be at least scheduler.interval (%s)", c.Scheduler.Interval))
	}

	if strings.TrimSpace(c.Source.Endpoint) == "" {
		add("source.endpoint", "required")
	}
	if c.Source.Timeout <= 0 {
		add("source.timeout", "must be positive")
	}

	if c.Channels.Email.Enabled() && c.Channels.Email.From == "" {
		add("channels.email.from", "required when email is enabled")
	}
	if c.Channels.SMS.Enabled() && c.Channels.SMS.From == "" {
		add("channels.sms.from", "required when sms is enabled")
	}

	for _, sink := range c.Events.Sinks {
		switch sink {
		case "nats":
		case "kafka":
			if len(c.Events.Kafka.Brokers) == 0 {
				add("events.kafka.brokers", "required for the kafka sink")
			}
			if c.Events.Kafka.Topic == "" {
				add("events.kafka.topic", "required for the kafka sink")
			}
		default:
			add("events.sinks", fmt.Sprintf("unknown sink %q", sink))
		}
	}
	if c.Events.NeedsNATS() && c.Events.NATSURL == "" {
		add("events.nats_url", "required")
	}

	seen := map[string]bool{}
	for i, item := range c.Items {
		if err := item.Validate(); err != nil {
			add(fmt.Sprintf("items[%d]", i), err.Error())
		}
		if seen[item.ID] {
			add(fmt.Sprintf("items[%d].id", i), fmt.Sprintf("duplicate id %q", item.ID))
		}
		seen[item.ID] = true
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
