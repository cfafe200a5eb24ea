// Package credentials validates per-provider credential bundles before they
// are submitted or dispatched. Validation is pure and side-effect free so it
// can run both ahead of submission and again before every dispatch.
package credentials

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/skyporthq/skyport/pkg/types"
)

// Bundle is a provider-specific map of secret fields.
type Bundle map[string]string

// Well-known bundle field names, camelCase like the rest of the API surface.
const (
	FieldAccessKeyID     = "accessKeyId"
	FieldSecretAccessKey = "secretAccessKey"
	FieldRegion          = "region"

	FieldTenantID       = "tenantId"
	FieldClientID       = "clientId"
	FieldClientSecret   = "clientSecret"
	FieldSubscriptionID = "subscriptionId"

	FieldProjectID         = "projectId"
	FieldServiceAccountKey = "serviceAccountKey"
)

// serviceAccountFields are required inside a GCP service-account document.
var serviceAccountFields = []string{
	"type", "project_id", "private_key_id", "private_key", "client_email", "client_id",
}

// Result is the outcome of a validation run. Missing names the absent fields
// so the caller can render a precise error.
type Result struct {
	Valid   bool     `json:"valid"`
	Reason  string   `json:"reason,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// Validate checks the structural completeness of a credential bundle for the
// given provider tag. It performs no I/O and never contacts the provider.
func Validate(provider types.CloudProvider, bundle Bundle) Result {
	switch provider {
	case types.ProviderAWS:
		return requireFields(bundle, FieldAccessKeyID, FieldSecretAccessKey)
	case types.ProviderAzure:
		return requireFields(bundle, FieldTenantID, FieldClientID, FieldClientSecret, FieldSubscriptionID)
	case types.ProviderGCP:
		return validateGCP(bundle)
	default:
		return Result{Valid: false, Reason: fmt.Sprintf("unsupported provider %q", provider)}
	}
}

func requireFields(bundle Bundle, fields ...string) Result {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(bundle[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Result{
			Valid:   false,
			Reason:  "missing required fields: " + strings.Join(missing, ", "),
			Missing: missing,
		}
	}
	return Result{Valid: true}
}

func validateGCP(bundle Bundle) Result {
	doc := strings.TrimSpace(bundle[FieldServiceAccountKey])
	if doc == "" {
		return Result{
			Valid:   false,
			Reason:  "missing required fields: " + FieldServiceAccountKey,
			Missing: []string{FieldServiceAccountKey},
		}
	}
	var sa map[string]any
	if err := json.Unmarshal([]byte(doc), &sa); err != nil {
		return Result{Valid: false, Reason: "service account key is not valid JSON"}
	}
	var missing []string
	for _, f := range serviceAccountFields {
		v, ok := sa[f].(string)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Result{
			Valid:   false,
			Reason:  "service account key missing fields: " + strings.Join(missing, ", "),
			Missing: missing,
		}
	}
	if typ, _ := sa["type"].(string); typ != "service_account" {
		return Result{Valid: false, Reason: fmt.Sprintf("service account key type must be %q, got %q", "service_account", typ)}
	}
	return Result{Valid: true}
}
