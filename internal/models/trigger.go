package models

// Channel is a named partition of the change stream with its own ordering
type Channel struct {
	ID           string `yaml:"id"`
	MaxBatchSize int    `yaml:"max_batch_size"`
	Enabled      bool   `yaml:"enabled"`
}

// Trigger is a capture definition for one source table
type Trigger struct {
	ID              string
	SourceCatalog   string
	SourceSchema    string
	SourceTable     string
	ChannelID       string
	SyncOnInsert    bool
	SyncOnUpdate    bool
	SyncOnDelete    bool
	InsertCondition string
	UpdateCondition string
	DeleteCondition string
	ExcludedColumns []string
}

// SyncOn reports whether the trigger captures the given operation
func (t *Trigger) SyncOn(e EventType) bool {
	switch e {
	case EventInsert:
		return t.SyncOnInsert
	case EventUpdate:
		return t.SyncOnUpdate
	case EventDelete:
		return t.SyncOnDelete
	}
	return false
}

// Condition returns the extra fire condition for an operation, "1=1" when unset
func (t *Trigger) Condition(e EventType) string {
	var c string
	switch e {
	case EventInsert:
		c = t.InsertCondition
	case EventUpdate:
		c = t.UpdateCondition
	case EventDelete:
		c = t.DeleteCondition
	}
	if c == "" {
		return "1=1"
	}
	return c
}

func (t *Trigger) QualifiedTableName() string {
	return QualifiedName(t.SourceCatalog, t.SourceSchema, t.SourceTable)
}
