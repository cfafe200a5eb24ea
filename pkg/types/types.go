package types

import "time"

// CloudProvider tags one of the supported platforms.
type CloudProvider string

const (
	ProviderAWS   CloudProvider = "aws"
	ProviderAzure CloudProvider = "azure"
	ProviderGCP   CloudProvider = "gcp"
)

// Valid reports whether the tag names a supported provider.
func (p CloudProvider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP:
		return true
	}
	return false
}

// AccountStatus is the connection state of an account.
type AccountStatus string

const (
	AccountConnected    AccountStatus = "connected"
	AccountDisconnected AccountStatus = "disconnected"
	AccountError        AccountStatus = "error"
)

// Account is a connected cloud subscription. The provider tag is immutable
// after creation; the credential bundle is stored encrypted and never
// serialized with the account.
type Account struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Provider     CloudProvider     `json:"provider"`
	Status       AccountStatus     `json:"status"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastSyncedAt *time.Time        `json:"lastSyncedAt,omitempty"`
}

// ResourceStatus is one lifecycle state of a resource.
type ResourceStatus string

const (
	ResourceRequested    ResourceStatus = "requested"
	ResourceProvisioning ResourceStatus = "provisioning"
	ResourceRunning      ResourceStatus = "running"
	ResourceStopping     ResourceStatus = "stopping"
	ResourceStopped      ResourceStatus = "stopped"
	ResourceRestarting   ResourceStatus = "restarting"
	ResourceDeleted      ResourceStatus = "deleted"
	ResourceError        ResourceStatus = "error"
)

// Resource is a provisioned or discovered cloud object owned by an Account.
type Resource struct {
	ID         string            `json:"id"`
	AccountID  string            `json:"accountId"`
	ProviderID string            `json:"providerId,omitempty"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Region     string            `json:"region,omitempty"`
	Status     ResourceStatus    `json:"status"`
	Tags       map[string]string `json:"tags,omitempty"`
	DailyCost  *float64          `json:"dailyCost,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// MetricStatus classifies the latest sample of a series against thresholds.
type MetricStatus string

const (
	MetricNormal   MetricStatus = "normal"
	MetricWarning  MetricStatus = "warning"
	MetricCritical MetricStatus = "critical"
)

// MetricSample is one timestamped value.
type MetricSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is a named time series for one resource. Samples are kept in
// chronological order with no duplicate timestamps. Synthetic marks a series
// generated locally after live collection failed.
type MetricSeries struct {
	Name      string         `json:"name"`
	Unit      string         `json:"unit"`
	Status    MetricStatus   `json:"status"`
	Synthetic bool           `json:"synthetic"`
	Samples   []MetricSample `json:"samples"`
}

// Difficulty grades how hard a recommendation is to apply.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// RecommendationStatus tracks the recommendation lifecycle. Applied and
// dismissed are terminal.
type RecommendationStatus string

const (
	RecommendationPending   RecommendationStatus = "pending"
	RecommendationApplied   RecommendationStatus = "applied"
	RecommendationDismissed RecommendationStatus = "dismissed"
)

// Recommendation is a suggested cost-saving action for an account.
type Recommendation struct {
	ID             string               `json:"id"`
	AccountID      string               `json:"accountId"`
	Title          string               `json:"title"`
	Description    string               `json:"description,omitempty"`
	MonthlySavings float64              `json:"monthlySavings"`
	Difficulty     Difficulty           `json:"difficulty"`
	Status         RecommendationStatus `json:"status"`
	ResourceID     string               `json:"resourceId,omitempty"`
	ResourceType   string               `json:"resourceType,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// DailyCost is one day of spend for an account.
type DailyCost struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}

// TimeRange bounds a cost or metric query; End is exclusive.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Event is a user-visible notification emitted by the core: lifecycle
// transitions, sync results, degraded-mode fallbacks.
type Event struct {
	Type      string         `json:"type"`
	AccountID string         `json:"accountId,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	TS        time.Time      `json:"ts"`
}
