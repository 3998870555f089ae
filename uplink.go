// Package uplink manages conversation-scoped file attachment uploads for a
// chat host: batch submission with quota enforcement, live progress tracking
// across UI surfaces, durable commit of completed uploads into conversation
// records, and garbage collection of files the server stored but no
// conversation ever claimed.
package uplink

import (
	promclient "github.com/prometheus/client_golang/prometheus"

	"uplink/internal/config"
	"uplink/internal/conversation"
	"uplink/internal/transport"
	"uplink/internal/upload"
	"uplink/internal/upload/ports"
	uploadprom "uplink/internal/upload/prometheus"
	"uplink/internal/utils/id"
)

// Core types re-exported for hosts.
type (
	Config        = config.Config
	Service       = upload.Service
	ServiceConfig = upload.ServiceConfig
	Session       = upload.Session
	Status        = upload.Status
	Event         = upload.Event
	Limits        = upload.Limits
	QuotaError    = upload.QuotaError
	Observer      = upload.Observer

	Attachment        = ports.Attachment
	FileUpload        = ports.FileUpload
	Progress          = ports.Progress
	Credential        = ports.Credential
	Transport         = ports.Transport
	ConversationStore = ports.ConversationStore

	Conversation = conversation.Conversation
	FileStore    = conversation.FileStore
	MemoryStore  = conversation.MemoryStore

	HTTPTransport     = transport.HTTPTransport
	InMemoryTransport = transport.InMemoryTransport
)

var (
	ErrAuthNotConfigured    = upload.ErrAuthNotConfigured
	ErrFileDeletedMidUpload = ports.ErrFileDeletedMidUpload
	ErrRemoteNotFound       = ports.ErrRemoteNotFound
	ErrConversationNotFound = conversation.ErrConversationNotFound
)

// LoadConfig reads the YAML config at path (or ~/.uplink/config.yaml when
// empty) with UPLINK_* environment overrides applied.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// NewService assembles the subsystem over caller-provided collaborators. Most
// hosts want Open instead.
func NewService(cfg ServiceConfig) (*Service, error) {
	return upload.NewService(cfg)
}

// NewPrometheusObserver registers upload metrics with reg (the default
// registerer when nil) for use as the ServiceConfig Observer.
func NewPrometheusObserver(namespace string, reg promclient.Registerer) (*uploadprom.PrometheusObserver, error) {
	return uploadprom.NewPrometheusObserver(namespace, reg)
}

// System is a fully wired subsystem: file-backed conversation records and the
// HTTP file transport, built from one Config.
type System struct {
	Config  Config
	Store   *FileStore
	Service *Service
}

// NewConversation mints a conversation record ready for Put, with an
// identifier from the configured strategy.
func NewConversation(title, apiKey, endpoint string) Conversation {
	return conversation.New(title, apiKey, endpoint)
}

// Open builds a System from cfg. The observer may be nil.
func Open(cfg Config, observer Observer) (*System, error) {
	if cfg.IDStrategy == "uuidv7" {
		id.SetStrategy(id.StrategyUUIDv7)
	} else {
		id.SetStrategy(id.StrategyKSUID)
	}
	store, err := conversation.NewFileStore(cfg.ConversationDir)
	if err != nil {
		return nil, err
	}
	service, err := upload.NewService(upload.ServiceConfig{
		Store:     store,
		Transport: transport.NewHTTPTransport(cfg.Endpoint, cfg.UploadTimeout),
		Limits: upload.Limits{
			MaxFilesPerConversation: cfg.MaxFilesPerConversation,
			MaxTotalFiles:           cfg.MaxTotalFiles,
		},
		PlaceholderAPIKey: cfg.PlaceholderAPIKey,
		SweepGrace:        cfg.SweepGrace(),
		Observer:          observer,
	})
	if err != nil {
		return nil, err
	}
	return &System{Config: cfg, Store: store, Service: service}, nil
}

// Close stops pending sweeps and waits for in-flight uploads and deletes.
func (s *System) Close() {
	s.Service.Close()
}
