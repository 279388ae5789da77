package configflow

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"timetagger-sensors/internal/domain"
)

// Version is the config entry schema version written by this flow.
const Version = 1

// Title is the title given to created entries.
const Title = "TimeTagger"

// Result types.
const (
	ResultForm        = "form"
	ResultCreateEntry = "create_entry"
	ResultAbort       = "abort"
)

// StepUser is the only step of the flow.
const StepUser = "user"

// Error codes shown on the form.
const (
	ErrorBase          = "base"
	ErrorInvalidURL    = "invalid_url"
	ErrorRequired      = "required"
	ErrorInvalidTarget = "invalid_target"

	AbortAlreadyInProgress = "already_in_progress"
)

// Field names of the user step.
const (
	FieldAPIURL      = "api_url"
	FieldToken       = "token"
	FieldWorkTags    = "work_tags"
	FieldDailyTarget = "daily_target"
)

// ErrUnknownFlow is returned when configuring a flow that is not pending.
var ErrUnknownFlow = errors.New("configflow: unknown flow")

// Field describes one input of the setup form.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// Schema is the user step form.
var Schema = []Field{
	{Name: FieldAPIURL, Type: "string", Required: true, Default: domain.DefaultAPIURL},
	{Name: FieldToken, Type: "string", Required: true},
	{Name: FieldWorkTags, Type: "string", Default: domain.DefaultWorkTags},
	{Name: FieldDailyTarget, Type: "float", Default: domain.DefaultDailyTarget},
}

// Input is the submitted form. Nil fields were omitted.
type Input struct {
	APIURL      *string  `json:"api_url"`
	Token       *string  `json:"token"`
	WorkTags    *string  `json:"work_tags"`
	DailyTarget *float64 `json:"daily_target"`
}

// Result is what a flow step returns.
type Result struct {
	Type       string                   `json:"type"`
	FlowID     string                   `json:"flow_id"`
	StepID     string                   `json:"step_id,omitempty"`
	DataSchema []Field                  `json:"data_schema,omitempty"`
	Errors     map[string]string        `json:"errors,omitempty"`
	Title      string                   `json:"title,omitempty"`
	Data       *domain.ConnectionConfig `json:"data,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
}

// Flow is one pending setup. Context carries what the initiator already knows,
// such as an api_url from discovery.
type Flow struct {
	ID       string
	Context  map[string]string
	InitData *Input
}

func (f *Flow) apiURL() string {
	if u := f.Context[FieldAPIURL]; u != "" {
		return u
	}
	if f.InitData != nil && f.InitData.APIURL != nil {
		return *f.InitData.APIURL
	}
	return ""
}

// IsMatching reports whether other targets the same TimeTagger instance.
// Both flows must carry an API URL; URLs compare case-insensitively with
// trailing slashes removed.
func (f *Flow) IsMatching(other *Flow) bool {
	if other == nil {
		return false
	}
	a, b := f.apiURL(), other.apiURL()
	if a == "" || b == "" {
		return false
	}
	return normalizeURL(a) == normalizeURL(b)
}

func normalizeURL(u string) string {
	return strings.ToLower(strings.TrimRight(u, "/"))
}

// StepUser validates in and returns either the form (with errors) or a
// create_entry result. A nil input shows the empty form.
func (f *Flow) StepUser(in *Input) Result {
	errs := map[string]string{}
	if in != nil {
		cfg, verr := validate(*in)
		if len(verr) == 0 {
			return Result{Type: ResultCreateEntry, FlowID: f.ID, Title: Title, Data: &cfg}
		}
		errs = verr
	}
	return Result{Type: ResultForm, FlowID: f.ID, StepID: StepUser, DataSchema: Schema, Errors: errs}
}

func validate(in Input) (domain.ConnectionConfig, map[string]string) {
	errs := map[string]string{}
	cfg := domain.ConnectionConfig{
		WorkTags:    domain.DefaultWorkTags,
		DailyTarget: domain.DefaultDailyTarget,
	}
	if in.APIURL != nil {
		cfg.APIURL = *in.APIURL
	}
	if !strings.HasPrefix(cfg.APIURL, "http") {
		errs[ErrorBase] = ErrorInvalidURL
	}
	if in.Token == nil || *in.Token == "" {
		errs[FieldToken] = ErrorRequired
	} else {
		cfg.Token = *in.Token
	}
	if in.WorkTags != nil {
		cfg.WorkTags = *in.WorkTags
	}
	if in.DailyTarget != nil {
		if *in.DailyTarget < 0 {
			errs[FieldDailyTarget] = ErrorInvalidTarget
		}
		cfg.DailyTarget = *in.DailyTarget
	}
	return cfg, errs
}

// Manager tracks pending flows.
type Manager struct {
	log *slog.Logger

	mu    sync.Mutex
	flows map[string]*Flow
}

// NewManager returns an empty flow manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{log: log, flows: make(map[string]*Flow)}
}

// Init starts a flow. It aborts with already_in_progress when a pending flow
// matches. When initData is given the user step runs with it immediately.
func (m *Manager) Init(flowCtx map[string]string, initData *Input) Result {
	f := &Flow{ID: uuid.NewString(), Context: flowCtx, InitData: initData}
	if f.Context == nil {
		f.Context = map[string]string{}
	}

	m.mu.Lock()
	for _, other := range m.flows {
		if f.IsMatching(other) {
			m.mu.Unlock()
			m.log.Info("config flow aborted", slog.String("reason", AbortAlreadyInProgress), slog.String("api_url", f.apiURL()))
			return Result{Type: ResultAbort, FlowID: f.ID, Reason: AbortAlreadyInProgress}
		}
	}
	m.flows[f.ID] = f
	m.mu.Unlock()

	return m.finish(f, f.StepUser(initData))
}

// Configure submits the user step of a pending flow.
func (m *Manager) Configure(flowID string, in Input) (Result, error) {
	m.mu.Lock()
	f, ok := m.flows[flowID]
	m.mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownFlow
	}
	return m.finish(f, f.StepUser(&in)), nil
}

// Abort drops a pending flow, releasing its API URL for new flows.
func (m *Manager) Abort(flowID string) error {
	m.mu.Lock()
	f, ok := m.flows[flowID]
	delete(m.flows, flowID)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownFlow
	}
	m.log.Info("config flow abandoned", slog.String("flow_id", flowID), slog.String("api_url", f.apiURL()))
	return nil
}

// Pending returns the number of unfinished flows.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}

func (m *Manager) finish(f *Flow, res Result) Result {
	if res.Type != ResultForm {
		m.mu.Lock()
		delete(m.flows, f.ID)
		m.mu.Unlock()
	}
	return res
}

// NewEntry turns a create_entry result into a config entry.
func NewEntry(res Result, source string, now time.Time) domain.ConfigEntry {
	return domain.ConfigEntry{
		EntryID:   uuid.NewString(),
		Domain:    domain.Domain,
		Title:     res.Title,
		Version:   Version,
		Source:    source,
		Data:      *res.Data,
		CreatedAt: now.UTC(),
	}
}
