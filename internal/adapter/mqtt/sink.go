package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"timetagger-sensors/internal/ports"
)

// Publisher is the part of Client the sink needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

type availabilityConfig struct {
	Topic string `json:"topic"`
}

type deviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// discoveryConfig is the Home Assistant MQTT discovery document of a sensor.
type discoveryConfig struct {
	Name                string               `json:"name"`
	UniqueID            string               `json:"unique_id"`
	StateTopic          string               `json:"state_topic"`
	JSONAttributesTopic string               `json:"json_attributes_topic"`
	Availability        []availabilityConfig `json:"availability"`
	AvailabilityMode    string               `json:"availability_mode"`
	UnitOfMeasurement   string               `json:"unit_of_measurement"`
	DeviceClass         string               `json:"device_class"`
	StateClass          string               `json:"state_class"`
	Device              deviceConfig         `json:"device"`
}

// Sink publishes entity states with Home Assistant discovery. Discovery
// documents are sent once per entity; states are retained.
type Sink struct {
	pub    Publisher
	topics Topics
	qos    byte
	log    *slog.Logger

	mu        sync.Mutex
	announced map[string]map[string]struct{} // entry ID -> unique IDs
}

func NewSink(pub Publisher, topics Topics, qos byte, log *slog.Logger) *Sink {
	return &Sink{
		pub:       pub,
		topics:    topics,
		qos:       qos,
		log:       log,
		announced: make(map[string]map[string]struct{}),
	}
}

// PublishStates announces new entities and publishes states and availability.
func (s *Sink) PublishStates(_ context.Context, states []ports.EntityState) error {
	if len(states) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, st := range states {
		if err := s.announce(st); err != nil {
			errs = append(errs, err)
			continue
		}
		if !st.Available {
			continue
		}
		value := strconv.FormatFloat(st.Value, 'f', 2, 64)
		if err := s.pub.Publish(s.topics.State(st.EntryID, st.UniqueID), []byte(value), s.qos, true); err != nil {
			errs = append(errs, fmt.Errorf("state %s: %w", st.UniqueID, err))
		}
		if len(st.Attributes) > 0 {
			body, err := json.Marshal(st.Attributes)
			if err == nil {
				err = s.pub.Publish(s.topics.Attributes(st.EntryID, st.UniqueID), body, s.qos, true)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("attributes %s: %w", st.UniqueID, err))
			}
		}
	}

	// Entities of an entry share the coordinator, so they share availability.
	availability := payloadOffline
	if states[0].Available {
		availability = payloadOnline
	}
	if err := s.pub.Publish(s.topics.Availability(states[0].EntryID), []byte(availability), s.qos, true); err != nil {
		errs = append(errs, fmt.Errorf("availability: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Sink) announce(st ports.EntityState) error {
	seen := s.announced[st.EntryID]
	if _, ok := seen[st.UniqueID]; ok {
		return nil
	}
	body, err := json.Marshal(discoveryFor(s.topics, st))
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.topics.Discovery(st.EntryID, st.UniqueID), body, s.qos, true); err != nil {
		return fmt.Errorf("discovery %s: %w", st.UniqueID, err)
	}
	if seen == nil {
		seen = make(map[string]struct{})
		s.announced[st.EntryID] = seen
	}
	seen[st.UniqueID] = struct{}{}
	s.log.Debug("mqtt discovery published", slog.String("entry_id", st.EntryID), slog.String("unique_id", st.UniqueID))
	return nil
}

func discoveryFor(t Topics, st ports.EntityState) discoveryConfig {
	d := discoveryConfig{
		Name:       st.Name,
		UniqueID:   st.EntryID + "_" + st.UniqueID,
		StateTopic: t.State(st.EntryID, st.UniqueID),
		// Announced for every entity; only some ever publish attributes.
		JSONAttributesTopic: t.Attributes(st.EntryID, st.UniqueID),
		Availability: []availabilityConfig{
			{Topic: t.Status()},
			{Topic: t.Availability(st.EntryID)},
		},
		AvailabilityMode:  "all",
		UnitOfMeasurement: st.Unit,
		DeviceClass:       "duration",
		StateClass:        "measurement",
		Device: deviceConfig{
			Name:         st.Device.Name,
			Manufacturer: st.Device.Manufacturer,
			Model:        st.Device.Model,
		},
	}
	for _, id := range st.Device.Identifiers {
		d.Device.Identifiers = append(d.Device.Identifiers, id[0]+"_"+id[1])
	}
	return d
}

// RemoveEntry marks the entry offline and clears its retained discovery documents.
func (s *Sink) RemoveEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pub.Publish(s.topics.Availability(entryID), []byte(payloadOffline), s.qos, true); err != nil {
		return fmt.Errorf("availability: %w", err)
	}
	for uniqueID := range s.announced[entryID] {
		if err := s.pub.Publish(s.topics.Discovery(entryID, uniqueID), nil, s.qos, true); err != nil {
			return fmt.Errorf("clearing discovery %s: %w", uniqueID, err)
		}
		delete(s.announced[entryID], uniqueID)
	}
	delete(s.announced, entryID)
	return nil
}
