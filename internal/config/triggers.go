package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

const DefaultChannel = "default"

// Capture is the parsed capture definition file
type Capture struct {
	Channels []models.Channel
	Triggers []*models.Trigger
}

func (c *Capture) Channel(id string) (models.Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return models.Channel{}, false
}

type channelDef struct {
	ID           string `yaml:"id"`
	MaxBatchSize int    `yaml:"max_batch_size"`
	Enabled      *bool  `yaml:"enabled"`
}

type triggerDef struct {
	ID              string   `yaml:"id"`
	Catalog         string   `yaml:"catalog"`
	Schema          string   `yaml:"schema"`
	Table           string   `yaml:"table"`
	Channel         string   `yaml:"channel"`
	SyncOnInsert    *bool    `yaml:"sync_on_insert"`
	SyncOnUpdate    *bool    `yaml:"sync_on_update"`
	SyncOnDelete    *bool    `yaml:"sync_on_delete"`
	InsertCondition string   `yaml:"insert_condition"`
	UpdateCondition string   `yaml:"update_condition"`
	DeleteCondition string   `yaml:"delete_condition"`
	ExcludedColumns []string `yaml:"excluded_columns"`
}

type captureFile struct {
	Channels []channelDef `yaml:"channels"`
	Triggers []triggerDef `yaml:"triggers"`
}

// LoadTriggers reads the capture definition file at path
func LoadTriggers(path string, defaultBatchSize int) (*Capture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file: %w", err)
	}
	return ParseTriggers(raw, defaultBatchSize)
}

// ParseTriggers decodes a capture file. Sync flags and channel enablement
// default to true; a trigger without channel goes to the default channel,
// which exists even when the file does not declare it.
func ParseTriggers(raw []byte, defaultBatchSize int) (*Capture, error) {
	var file captureFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("invalid capture file: %w", err)
	}

	c := &Capture{}
	seen := make(map[string]bool)
	for _, def := range file.Channels {
		if def.ID == "" {
			return nil, fmt.Errorf("channel without id")
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("channel %s declared twice", def.ID)
		}
		seen[def.ID] = true

		size := def.MaxBatchSize
		if size <= 0 {
			size = defaultBatchSize
		}
		c.Channels = append(c.Channels, models.Channel{ID: def.ID, MaxBatchSize: size, Enabled: flag(def.Enabled)})
	}
	if !seen[DefaultChannel] {
		c.Channels = append(c.Channels, models.Channel{ID: DefaultChannel, MaxBatchSize: defaultBatchSize, Enabled: true})
		seen[DefaultChannel] = true
	}

	ids := make(map[string]bool)
	for _, def := range file.Triggers {
		if def.Table == "" {
			return nil, fmt.Errorf("trigger %q has no table", def.ID)
		}
		id := def.ID
		if id == "" {
			id = strings.ToLower(def.Table)
		}
		if ids[id] {
			return nil, fmt.Errorf("trigger %s declared twice", id)
		}
		ids[id] = true

		channel := def.Channel
		if channel == "" {
			channel = DefaultChannel
		}
		if !seen[channel] {
			return nil, fmt.Errorf("trigger %s uses unknown channel %s", id, channel)
		}

		c.Triggers = append(c.Triggers, &models.Trigger{
			ID:              id,
			SourceCatalog:   def.Catalog,
			SourceSchema:    def.Schema,
			SourceTable:     def.Table,
			ChannelID:       channel,
			SyncOnInsert:    flag(def.SyncOnInsert),
			SyncOnUpdate:    flag(def.SyncOnUpdate),
			SyncOnDelete:    flag(def.SyncOnDelete),
			InsertCondition: def.InsertCondition,
			UpdateCondition: def.UpdateCondition,
			DeleteCondition: def.DeleteCondition,
			ExcludedColumns: def.ExcludedColumns,
		})
	}
	return c, nil
}

func flag(b *bool) bool {
	return b == nil || *b
}
