package audit

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/types"
)

const batchSize = 100

// Config holds routing journal configuration
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	BufferSize      int           `yaml:"buffer_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	SensitiveFields []string      `yaml:"sensitive_fields"`
}

// Entry is one routed request as written to the journal
type Entry struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	RequestID       string            `json:"request_id"`
	Kind            types.TaskKind    `json:"kind"`
	Priority        types.Priority    `json:"priority"`
	SelectedService string            `json:"selected_service"`
	ExecutedService string            `json:"executed_service,omitempty"`
	Success         bool              `json:"success"`
	Error           string            `json:"error,omitempty"`
	LatencyMs       float64           `json:"latency_ms"`
	RoutingTimeMs   float64           `json:"routing_time_ms"`
	Cost            float64           `json:"cost"`
	Confidence      float64           `json:"confidence"`
	FallbackUsed    bool              `json:"fallback_used"`
	CallerID        string            `json:"caller_id,omitempty"`
	Source          string            `json:"source,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// Journal writes routing outcomes as structured log entries off the
// request path. Entries are buffered and flushed in batches; a full buffer
// drops entries rather than blocking routing.
type Journal struct {
	config   *Config
	logger   *logrus.Logger
	buffer   chan *Entry
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	recorded atomic.Int64
	dropped  atomic.Int64
}

// NewJournal creates a journal. Call Start to begin flushing.
func NewJournal(config *Config, logger *logrus.Logger) *Journal {
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 10 * time.Second
	}

	return &Journal{
		config:   config,
		logger:   logger,
		buffer:   make(chan *Entry, config.BufferSize),
		stopChan: make(chan struct{}),
	}
}

// Start launches the background flusher
func (j *Journal) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.config.Enabled || j.started || j.stopped {
		return
	}
	j.started = true
	j.wg.Add(1)
	go j.processEntries()
}

// Record queues a routing outcome. It never blocks. Before Start the entry is
// written inline since nothing drains the buffer yet.
func (j *Journal) Record(req *types.RoutingRequest, result *types.RoutingResult) {
	if !j.config.Enabled || result == nil {
		return
	}

	entry := &Entry{
		ID:              uuid.NewString(),
		Timestamp:       result.Timestamp.UTC(),
		Success:         result.Success,
		Error:           result.Error,
		LatencyMs:       result.ActualLatencyMs,
		RoutingTimeMs:   result.RoutingTimeMs,
		Cost:            result.ActualCost,
		ExecutedService: result.ExecutedService,
		FallbackUsed:    result.FallbackUsed,
	}
	if result.Decision != nil {
		entry.RequestID = result.Decision.RequestID
		entry.SelectedService = result.Decision.SelectedService
		entry.Confidence = result.Decision.Confidence
	}
	if req != nil {
		entry.RequestID = req.ID
		entry.Kind = req.Kind
		entry.Priority = req.Priority
		if req.Metadata != nil {
			entry.CallerID = req.Metadata.CallerID
			entry.Source = req.Metadata.Source
			entry.Tags = j.sanitizeTags(req.Metadata.Tags)
		}
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.stopped {
		return
	}
	if !j.started {
		j.recorded.Add(1)
		j.writeEntry(entry)
		return
	}

	select {
	case j.buffer <- entry:
		j.recorded.Add(1)
	default:
		j.dropped.Add(1)
		j.logger.WithField("request_id", entry.RequestID).Warn("Routing journal buffer full, dropping entry")
	}
}

// Stats returns the number of queued and dropped entries
func (j *Journal) Stats() (recorded, dropped int64) {
	return j.recorded.Load(), j.dropped.Load()
}

// Stop flushes pending entries and stops the flusher
func (j *Journal) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopped {
		return
	}
	j.stopped = true

	if j.started {
		close(j.stopChan)
		j.wg.Wait()
	}
	close(j.buffer)

	for entry := range j.buffer {
		j.writeEntry(entry)
	}
}

func (j *Journal) processEntries() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.FlushInterval)
	defer ticker.Stop()

	entries := make([]*Entry, 0, batchSize)

	for {
		select {
		case entry := <-j.buffer:
			entries = append(entries, entry)
			if len(entries) >= batchSize {
				j.flush(entries)
				entries = entries[:0]
			}

		case <-ticker.C:
			if len(entries) > 0 {
				j.flush(entries)
				entries = entries[:0]
			}

		case <-j.stopChan:
			if len(entries) > 0 {
				j.flush(entries)
			}
			return
		}
	}
}

func (j *Journal) flush(entries []*Entry) {
	for _, entry := range entries {
		j.writeEntry(entry)
	}
}

func (j *Journal) writeEntry(entry *Entry) {
	fields := logrus.Fields{
		"journal":          true,
		"entry_id":         entry.ID,
		"request_id":       entry.RequestID,
		"kind":             entry.Kind,
		"priority":         entry.Priority,
		"selected_service": entry.SelectedService,
		"success":          entry.Success,
		"latency_ms":       entry.LatencyMs,
		"routing_time_ms":  entry.RoutingTimeMs,
		"cost":             entry.Cost,
		"confidence":       entry.Confidence,
		"fallback_used":    entry.FallbackUsed,
	}
	if entry.ExecutedService != "" {
		fields["executed_service"] = entry.ExecutedService
	}
	if entry.CallerID != "" {
		fields["caller_id"] = entry.CallerID
	}
	if entry.Source != "" {
		fields["source"] = entry.Source
	}
	for key, value := range entry.Tags {
		fields["tag_"+key] = value
	}

	log := j.logger.WithFields(fields)
	if entry.Success {
		log.Info("Request routed")
		return
	}
	log.WithField("error", entry.Error).Warn("Request routing failed")
}

func (j *Journal) sanitizeTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}

	sanitized := make(map[string]string, len(tags))
	for key, value := range tags {
		if j.isSensitiveField(key) {
			sanitized[key] = "***REDACTED***"
		} else {
			sanitized[key] = value
		}
	}
	return sanitized
}

func (j *Journal) isSensitiveField(field string) bool {
	fieldLower := strings.ToLower(field)

	defaultSensitive := []string{
		"password", "token", "secret", "key", "auth", "credential", "bearer",
	}
	for _, sensitive := range defaultSensitive {
		if strings.Contains(fieldLower, sensitive) {
			return true
		}
	}

	for _, sensitive := range j.config.SensitiveFields {
		if strings.EqualFold(field, sensitive) {
			return true
		}
	}
	return false
}
